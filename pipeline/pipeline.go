// Package pipeline orchestrates document processing end to end: identity
// allocation, page rendering, extraction, external rewriting with marker
// verification, concurrent asset acquisition, placeholder resolution, and
// document persistence. Documents run strictly one at a time; the only
// parallelism lives inside asset acquisition for a single document.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fairwaylabs/fairway/acquire"
	"github.com/fairwaylabs/fairway/assetstore"
	"github.com/fairwaylabs/fairway/history"
	"github.com/fairwaylabs/fairway/idgen"
	"github.com/fairwaylabs/fairway/placeholder"
	"github.com/fairwaylabs/fairway/registry"
)

// Session is one rendered document page, alive for the duration of that
// document's processing. browser.Page satisfies it.
type Session interface {
	HTML(ctx context.Context) (string, error)
	FetchAsset(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// Renderer opens a page for a document locator.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (Session, error)
}

// Extraction is the extraction collaborator's output: a title, a body
// whose images were replaced by 1-based sequential placeholder markers,
// and the asset references behind those markers.
type Extraction struct {
	Title  string
	Body   string
	Assets []acquire.AssetDescriptor
}

// Extractor turns rendered HTML into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, pageURL, html string) (*Extraction, error)
}

// Rewriter is the opaque external rewriting collaborator. It must pass
// placeholder markers through verbatim; the pipeline verifies that.
type Rewriter interface {
	Rewrite(ctx context.Context, title, body string) (string, error)
}

// Result is the per-document outcome. Document-level failures land here,
// not in Process's error return.
type Result struct {
	Locator      string             `json:"url"`
	Partition    string             `json:"partition"`
	Identity     int                `json:"identity,omitempty"`
	Status       registry.Status    `json:"status"`
	DocumentPath string             `json:"document_path,omitempty"`
	Unresolved   []int              `json:"unresolved_images,omitempty"`
	DuplicateOf  *registry.Location `json:"duplicate_of,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Service processes documents against a shared data root.
type Service struct {
	cfg       Config
	store     *registry.FileStore
	global    *registry.GlobalIndex
	renderer  Renderer
	extractor Extractor
	rewriter  Rewriter
	hist      *history.DB
	logger    *slog.Logger

	// procMu serializes document processing. Only asset acquisition
	// within one document runs concurrently.
	procMu sync.Mutex

	mu         sync.Mutex
	registries map[string]*registry.Registry
	assets     map[string]*assetstore.Store
}

// Option configures a Service.
type Option func(*Service)

// WithRewriter sets the external rewriting collaborator. Without one the
// extracted body is persisted as-is.
func WithRewriter(r Rewriter) Option {
	return func(s *Service) { s.rewriter = r }
}

// New creates a Service. The renderer and extractor are required
// collaborators; history is opened when Config.HistoryPath is set.
func New(cfg Config, renderer Renderer, extractor Extractor, opts ...Option) (*Service, error) {
	cfg.defaults()

	store, err := registry.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		store:     store,
		global:    registry.NewGlobalIndex(store, filepath.Join(cfg.DataDir, registry.MaxIdentityCacheFilename), cfg.Logger),
		renderer:  renderer,
		extractor: extractor,
		logger:    cfg.Logger,

		registries: make(map[string]*registry.Registry),
		assets:     make(map[string]*assetstore.Store),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if cfg.HistoryPath != "" {
		h, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		svc.hist = h
	}
	return svc, nil
}

// Close releases the history database.
func (s *Service) Close() error {
	if s.hist != nil {
		return s.hist.Close()
	}
	return nil
}

// ProcessBatch runs documents strictly sequentially. A failed document is
// recorded and the batch continues; only persistence-layer errors abort.
func (s *Service) ProcessBatch(ctx context.Context, partition string, locators []string) ([]Result, error) {
	batchID := idgen.Prefixed("batch", idgen.Default)()
	log := s.logger.With("batch", batchID, "partition", partition)
	log.Info("pipeline: batch started", "documents", len(locators))

	results := make([]Result, 0, len(locators))
	for _, locator := range locators {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.Process(ctx, partition, locator)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}

	log.Info("pipeline: batch finished", "documents", len(results))
	return results, nil
}

// Process runs one document through the full pipeline. The error return
// is reserved for persistence failures, which must not be papered over;
// everything else degrades into the Result and a terminal registry
// status.
func (s *Service) Process(ctx context.Context, partition, locator string) (*Result, error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	res := &Result{Locator: locator, Partition: partition}

	reg, err := s.registryFor(partition)
	if err != nil {
		return nil, err
	}

	alloc, err := reg.Allocate(ctx, locator)
	if err != nil {
		return nil, err
	}
	res.Identity = alloc.Identity
	res.Status = alloc.Status
	res.DuplicateOf = alloc.DuplicateOf

	if alloc.Skip {
		// Duplicate verdicts reach history like any other terminal
		// outcome; the insert is idempotent for re-presented records.
		if alloc.Status == registry.StatusDuplicate {
			s.record(ctx, res)
		}
		s.logger.Info("pipeline: document skipped",
			"url", locator, "partition", partition, "status", alloc.Status)
		return res, nil
	}

	body, title, unresolved, procErr := s.produce(ctx, reg, partition, alloc.Identity, locator)
	if procErr != nil {
		s.logger.Error("pipeline: document failed",
			"url", locator, "partition", partition,
			"identity", registry.FormatIdentity(alloc.Identity), "error", procErr)
		if err := reg.Advance(ctx, alloc.Identity, registry.Failed(procErr)); err != nil {
			return nil, err
		}
		res.Status = registry.StatusFailed
		res.Error = procErr.Error()
		s.record(ctx, res)
		return res, nil
	}

	path, err := s.writeDocument(partition, alloc.Identity, title, body)
	if err != nil {
		return nil, err
	}
	if err := reg.Advance(ctx, alloc.Identity, registry.Completed()); err != nil {
		return nil, err
	}

	res.Status = registry.StatusCompleted
	res.DocumentPath = path
	res.Unresolved = unresolved
	s.record(ctx, res)
	s.logger.Info("pipeline: document completed",
		"url", locator, "partition", partition,
		"identity", registry.FormatIdentity(alloc.Identity), "unresolved", len(unresolved))
	return res, nil
}

// produce renders, extracts, rewrites, acquires, and resolves. Returns
// the final body, title, and unresolved placeholder indices.
func (s *Service) produce(ctx context.Context, reg *registry.Registry, partition string, identity int, locator string) (string, string, []int, error) {
	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()

	session, err := s.renderer.Render(renderCtx, locator)
	if err != nil {
		return "", "", nil, fmt.Errorf("render: %w", err)
	}
	defer session.Close()

	html, err := session.HTML(renderCtx)
	if err != nil {
		return "", "", nil, fmt.Errorf("read page: %w", err)
	}

	extraction, err := s.extractor.Extract(renderCtx, locator, html)
	if err != nil {
		return "", "", nil, fmt.Errorf("extract: %w", err)
	}

	body := extraction.Body
	if s.rewriter != nil {
		rewritten, err := s.rewriter.Rewrite(ctx, extraction.Title, body)
		if err != nil {
			return "", "", nil, fmt.Errorf("rewrite: %w", err)
		}
		if err := placeholder.Verify(body, rewritten); err != nil {
			return "", "", nil, err
		}
		body = rewritten
	}

	assets, err := s.assetsFor(partition)
	if err != nil {
		return "", "", nil, err
	}
	engine := acquire.NewEngine(assets, s.cfg.Acquire)

	acquired := engine.Acquire(ctx, acquire.Request{
		PageURL:  locator,
		BaseName: "article_" + registry.FormatIdentity(identity),
		Assets:   extraction.Assets,
		PageFetch: acquire.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
			return session.FetchAsset(ctx, url)
		}),
	})

	resolved, unresolved := placeholder.Resolve(body, toPlaceholderAssets(acquired))
	return resolved, extraction.Title, unresolved, nil
}

// writeDocument persists the final markdown under
// <data>/<partition>/articles/article_<identity>.md, atomically.
func (s *Service) writeDocument(partition string, identity int, title, body string) (string, error) {
	dir := filepath.Join(s.cfg.DataDir, partition, "articles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: mkdir %s: %w", dir, err)
	}

	var b strings.Builder
	if title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}

	path := filepath.Join(dir, fmt.Sprintf("article_%s.md", registry.FormatIdentity(identity)))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("pipeline: rename %s: %w", path, err)
	}
	return path, nil
}

func (s *Service) record(ctx context.Context, res *Result) {
	if s.hist == nil {
		return
	}
	err := s.hist.Record(ctx, history.Entry{
		URL:       registry.NormalizeLocator(res.Locator),
		Partition: res.Partition,
		Identity:  res.Identity,
		Status:    string(res.Status),
		Error:     res.Error,
	})
	if err != nil {
		s.logger.Warn("pipeline: history record failed", "error", err)
	}
}

func (s *Service) registryFor(partition string) (*registry.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.registries[partition]; ok {
		return reg, nil
	}
	reg := registry.New(s.store, partition, s.cfg.DataDir, s.global,
		registry.WithLogger(s.logger))
	s.registries[partition] = reg
	return reg, nil
}

func (s *Service) assetsFor(partition string) (*assetstore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.assets[partition]; ok {
		return store, nil
	}
	store, err := assetstore.Open(filepath.Join(s.cfg.DataDir, partition, "images"), s.logger)
	if err != nil {
		return nil, err
	}
	s.assets[partition] = store
	return store, nil
}

func toPlaceholderAssets(acquired []acquire.AssetDescriptor) []placeholder.Asset {
	out := make([]placeholder.Asset, len(acquired))
	for i, a := range acquired {
		out[i] = placeholder.Asset{
			Index:          a.Index,
			RemoteURL:      a.RemoteURL,
			Caption:        a.Caption,
			StoredFilename: a.StoredFilename,
			Acquired:       a.Acquired,
		}
	}
	return out
}
