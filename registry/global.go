package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"
)

// MaxIdentityCacheFilename holds the highest identity ever assigned, so
// allocation can skip a full cross-partition scan on the hot path.
const MaxIdentityCacheFilename = ".max_identity.json"

// DefaultCacheTTL bounds how stale the max-identity cache may be before a
// full scan refreshes it.
const DefaultCacheTTL = 5 * time.Minute

type maxIdentityCache struct {
	MaxIdentity int       `json:"max_identity"`
	CachedAt    time.Time `json:"cached_at"`
}

// GlobalIndex answers cross-partition questions: has a locator already
// been completed anywhere, and what is the highest identity ever assigned.
// Duplicate checks always do a full scan; correctness there beats speed.
// The max-identity answer is cached with a short TTL because it only has
// to be monotonic, not exact.
type GlobalIndex struct {
	store     Store
	cachePath string
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewGlobalIndex builds an index over the store, caching max-identity at
// cachePath with the default TTL.
func NewGlobalIndex(store Store, cachePath string, logger *slog.Logger) *GlobalIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlobalIndex{
		store:     store,
		cachePath: cachePath,
		ttl:       DefaultCacheTTL,
		now:       time.Now,
		logger:    logger,
	}
}

// CompletedElsewhere reports whether a normalized locator has a completed
// record in any partition other than exclude. Every partition registry is
// scanned; a partition that fails to load is skipped with a warning rather
// than failing the whole check.
func (g *GlobalIndex) CompletedElsewhere(locator, exclude string) (*Location, error) {
	partitions, err := g.store.Partitions()
	if err != nil {
		return nil, err
	}
	for _, partition := range partitions {
		if partition == exclude {
			continue
		}
		records, err := g.store.Load(partition)
		if err != nil {
			g.logger.Warn("registry: partition unreadable during duplicate scan",
				"partition", partition, "error", err)
			continue
		}
		for identity, rec := range records {
			if rec.Status == StatusCompleted && rec.SourceLocator == locator {
				return &Location{Partition: partition, Identity: identity}, nil
			}
		}
	}
	return nil, nil
}

// MaxIdentity returns the highest identity assigned across all partitions.
// A fresh cache answers directly; otherwise every partition is scanned and
// the cache rewritten. A corrupt cache file falls back to the scan.
func (g *GlobalIndex) MaxIdentity() (int, error) {
	if cached, ok := g.readCache(); ok {
		return cached, nil
	}

	max, err := g.scanMax()
	if err != nil {
		return 0, err
	}
	g.writeCache(max)
	return max, nil
}

// Observe bumps the cached max after a successful allocation, keeping the
// cache monotonic within its TTL window. Best effort; a write failure only
// costs a future scan.
func (g *GlobalIndex) Observe(identity int) {
	if cached, ok := g.readCache(); ok && cached >= identity {
		return
	}
	g.writeCache(identity)
}

func (g *GlobalIndex) scanMax() (int, error) {
	partitions, err := g.store.Partitions()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, partition := range partitions {
		records, err := g.store.Load(partition)
		if err != nil {
			g.logger.Warn("registry: partition unreadable during identity scan",
				"partition", partition, "error", err)
			continue
		}
		for identity := range records {
			if identity > max {
				max = identity
			}
		}
	}
	return max, nil
}

func (g *GlobalIndex) readCache() (int, bool) {
	raw, err := os.ReadFile(g.cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("registry: max-identity cache unreadable", "error", err)
		}
		return 0, false
	}
	var c maxIdentityCache
	if err := json.Unmarshal(raw, &c); err != nil {
		g.logger.Warn("registry: max-identity cache corrupt, rescanning", "error", err)
		return 0, false
	}
	if g.now().Sub(c.CachedAt) > g.ttl {
		return 0, false
	}
	return c.MaxIdentity, true
}

func (g *GlobalIndex) writeCache(max int) {
	raw, err := json.Marshal(maxIdentityCache{MaxIdentity: max, CachedAt: g.now().UTC()})
	if err != nil {
		return
	}
	tmp := g.cachePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		g.logger.Warn("registry: max-identity cache write failed", "error", err)
		return
	}
	if err := os.Rename(tmp, g.cachePath); err != nil {
		os.Remove(tmp)
		g.logger.Warn("registry: max-identity cache rename failed", "error", err)
	}
}
