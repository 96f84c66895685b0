// Package acquire downloads a document's remote assets concurrently,
// validates and deduplicates them through the asset store, and reports a
// per-asset outcome. A single bad asset is never fatal: it is retried on
// a fixed budget and then marked unacquired so the document can still
// complete with an explicit gap.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fairwaylabs/fairway/assetstore"
	"github.com/fairwaylabs/fairway/imghash"
)

// AssetDescriptor tracks one remote asset through acquisition. Index is
// the 1-based placeholder index assigned at extraction.
type AssetDescriptor struct {
	Index     int
	RemoteURL string
	Caption   string

	// Populated by Acquire.
	ContentDigest  string
	StoredFilename string
	Acquired       bool
	ViaDedup       bool
	LastError      string
}

// Config configures the acquisition engine.
type Config struct {
	// Attempts is the total fetch budget per asset. Default: 3.
	Attempts int

	// RetryPause separates attempts. Default: 2s.
	RetryPause time.Duration

	// Client is the HTTP client for direct fetches. Default: 30s timeout.
	Client *http.Client

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryPause <= 0 {
		c.RetryPause = 2 * time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request is one document's acquisition batch.
type Request struct {
	// PageURL is the document's source page, used for strategy selection
	// and referrer headers.
	PageURL string

	// BaseName prefixes stored filenames, e.g. "article_01".
	BaseName string

	Assets []AssetDescriptor

	// PageFetch, when set, is the fallback fetcher executing inside the
	// rendering session for referrer-sensitive origins.
	PageFetch Fetcher
}

// Engine acquires assets into a shared store.
type Engine struct {
	store *assetstore.Store
	cfg   Config
}

// NewEngine builds an engine over the store.
func NewEngine(store *assetstore.Store, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{store: store, cfg: cfg}
}

// Acquire fetches every asset in the request concurrently and returns the
// descriptors fully populated, in input order. It never returns an error:
// per-asset failures are recorded on the descriptor.
func (e *Engine) Acquire(ctx context.Context, req Request) []AssetDescriptor {
	strategy := StrategyFor(req.PageURL)
	primary := NewHTTPFetcher(e.cfg.Client, strategy.Headers(req.PageURL))

	results := make([]AssetDescriptor, len(req.Assets))
	var wg sync.WaitGroup
	for i, asset := range req.Assets {
		wg.Add(1)
		go func(i int, asset AssetDescriptor) {
			defer wg.Done()
			results[i] = e.acquireOne(ctx, asset, req, strategy, primary)
		}(i, asset)
	}
	wg.Wait()
	return results
}

func (e *Engine) acquireOne(ctx context.Context, asset AssetDescriptor, req Request, strategy Strategy, primary Fetcher) AssetDescriptor {
	log := e.cfg.Logger
	fetchURL := strategy.Rewrite(asset.RemoteURL)
	baseName := fmt.Sprintf("%s_img_%d", req.BaseName, asset.Index)

	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		data, err := e.fetch(ctx, fetchURL, primary, req.PageFetch)
		if err == nil {
			err = e.bind(&asset, data, baseName)
			if err == nil {
				return asset
			}
		}

		asset.LastError = err.Error()
		log.Warn("acquire: attempt failed",
			"url", fetchURL, "attempt", attempt, "of", e.cfg.Attempts, "error", err)

		if attempt < e.cfg.Attempts {
			select {
			case <-ctx.Done():
				asset.LastError = ctx.Err().Error()
				return asset
			case <-time.After(e.cfg.RetryPause):
			}
		}
	}

	log.Error("acquire: asset exhausted retries", "url", fetchURL, "index", asset.Index)
	asset.Acquired = false
	return asset
}

// fetch tries the direct strategy first, then the page-context fallback.
func (e *Engine) fetch(ctx context.Context, url string, primary, fallback Fetcher) ([]byte, error) {
	data, err := primary.Fetch(ctx, url)
	if err == nil {
		return data, nil
	}
	if fallback == nil {
		return nil, err
	}
	e.cfg.Logger.Debug("acquire: direct fetch failed, trying page context", "url", url, "error", err)
	data, ferr := fallback.Fetch(ctx, url)
	if ferr != nil {
		return nil, fmt.Errorf("direct: %w; page: %v", err, ferr)
	}
	return data, nil
}

// bind stores the bytes (or finds them already stored) and fills in the
// descriptor's outcome fields.
func (e *Engine) bind(asset *AssetDescriptor, data []byte, baseName string) error {
	digest := imghash.Digest(data)

	if filename, ok := e.store.Lookup(digest); ok {
		asset.ContentDigest = digest
		asset.StoredFilename = filename
		asset.Acquired = true
		asset.ViaDedup = true
		asset.LastError = ""
		e.cfg.Logger.Debug("acquire: deduplicated", "file", filename, "index", asset.Index)
		return nil
	}

	filename, err := e.store.Put(data, baseName)
	if err != nil {
		return err
	}
	asset.ContentDigest = digest
	asset.StoredFilename = filename
	asset.Acquired = true
	asset.ViaDedup = false
	asset.LastError = ""
	return nil
}
