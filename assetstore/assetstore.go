// Package assetstore keeps downloaded binary assets in a content-addressable
// directory with a persisted filename→digest index.
//
// The index and the filesystem can diverge (manual cleanup, partial writes),
// so every lookup verifies the backing file still exists and purges stale
// entries instead of returning them. Writes validate content by structural
// inspection before and after hitting disk; an HTML error page can never
// become a stored asset no matter what filename it was requested under.
package assetstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fairwaylabs/fairway/imghash"
)

// IndexFilename is the per-store index document, mapping stored filename
// to content digest.
const IndexFilename = "asset_hashes.json"

// MinSize is the smallest byte length accepted as a plausible image.
// Anything under 1KB is almost always a tracking pixel or a truncated body.
const MinSize = 1024

// ErrInvalidImage is returned by Put when content fails structural
// validation: unrecognized format, markup masquerading as an image, or an
// implausibly small body.
var ErrInvalidImage = errors.New("assetstore: invalid image content")

// Store is a content-addressable asset directory. Safe for concurrent use;
// each Put/Lookup completes its read-modify-write fully before returning.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	index map[string]string // stored filename -> content digest
}

// Open loads (or creates) the store rooted at dir. Index entries whose
// backing file no longer exists are purged immediately. A missing or
// corrupt index file degrades to an empty index rather than an error.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assetstore: mkdir %s: %w", dir, err)
	}

	s := &Store{dir: dir, logger: logger, index: make(map[string]string)}

	raw, err := os.ReadFile(s.indexPath())
	if err == nil {
		if uerr := json.Unmarshal(raw, &s.index); uerr != nil {
			logger.Warn("assetstore: index unreadable, starting fresh",
				"path", s.indexPath(), "error", uerr)
			s.index = make(map[string]string)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("assetstore: read index: %w", err)
	}

	if purged := s.purgeStaleLocked(); purged > 0 {
		logger.Info("assetstore: purged stale index entries", "count", purged)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) indexPath() string { return filepath.Join(s.dir, IndexFilename) }

// Lookup returns the stored filename for a content digest. An entry whose
// backing file is gone is purged and reported as absent; the index and the
// filesystem heal back into agreement lazily.
func (s *Store) Lookup(digest string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.lookupLocked(digest)
	return found, found != ""
}

func (s *Store) lookupLocked(digest string) string {
	var stale []string
	found := ""
	for filename, d := range s.index {
		if d != digest {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, filename)); err == nil {
			found = filename
			break
		}
		stale = append(stale, filename)
	}

	if len(stale) > 0 {
		for _, filename := range stale {
			s.logger.Warn("assetstore: indexed file missing, purging", "file", filename)
			delete(s.index, filename)
		}
		if err := s.persistLocked(); err != nil {
			s.logger.Error("assetstore: persist after purge failed", "error", err)
		}
	}
	return found
}

// Put validates data, writes it under a collision-free name derived from
// baseName plus the sniffed extension, re-validates the bytes on disk, and
// records the digest in the index. Content already stored keeps its
// original filename; each digest maps to exactly one file no matter how
// many callers put the same bytes. The full index is persisted on every
// put; asset volume per document is tens, not thousands, so simplicity
// wins over batching.
func (s *Store) Put(data []byte, baseName string) (string, error) {
	if err := validate(data); err != nil {
		return "", err
	}
	format := imghash.Sniff(data)
	digest := imghash.Digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Callers racing past their own Lookup must not mint a second file
	// for the same bytes.
	if existing := s.lookupLocked(digest); existing != "" {
		return existing, nil
	}

	filename := baseName + "." + format.Ext()
	for n := 1; s.existsLocked(filename); n++ {
		filename = fmt.Sprintf("%s_%d.%s", baseName, n, format.Ext())
	}

	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("assetstore: write %s: %w", filename, err)
	}

	// Read back and re-check magic bytes. Catches partial or corrupted
	// writes before the index ever references them.
	onDisk, err := os.ReadFile(path)
	if err == nil && validate(onDisk) == nil && imghash.Digest(onDisk) == digest {
		s.index[filename] = digest
		if perr := s.persistLocked(); perr != nil {
			return "", perr
		}
		return filename, nil
	}
	os.Remove(path)
	if err != nil {
		return "", fmt.Errorf("assetstore: read back %s: %w", filename, err)
	}
	return "", fmt.Errorf("%w: corrupt after write", ErrInvalidImage)
}

// Cleanup purges every index entry whose backing file has vanished and
// persists the result. Returns the number of entries removed.
func (s *Store) Cleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := s.purgeStaleLocked()
	if purged > 0 {
		if err := s.persistLocked(); err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// Stats reports the number of indexed assets and their total size on disk.
type Stats struct {
	Assets     int   `json:"assets"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stat returns store statistics. Files missing from disk count as zero
// bytes but are not purged here; Cleanup owns that.
func (s *Store) Stat() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Assets: len(s.index)}
	for filename := range s.index {
		if info, err := os.Stat(filepath.Join(s.dir, filename)); err == nil {
			st.TotalBytes += info.Size()
		}
	}
	return st
}

func (s *Store) existsLocked(filename string) bool {
	if _, ok := s.index[filename]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(s.dir, filename))
	return err == nil
}

func (s *Store) purgeStaleLocked() int {
	purged := 0
	for filename := range s.index {
		if _, err := os.Stat(filepath.Join(s.dir, filename)); err != nil {
			delete(s.index, filename)
			purged++
		}
	}
	return purged
}

// persistLocked writes the index atomically (tmp + rename) so a crashed
// writer never leaves a half-written index for the next run to load.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("assetstore: marshal index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("assetstore: write index tmp: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("assetstore: rename index: %w", err)
	}
	return nil
}

func validate(data []byte) error {
	if len(data) < MinSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidImage, len(data))
	}
	if imghash.IsMarkup(data) {
		return fmt.Errorf("%w: markup content", ErrInvalidImage)
	}
	if imghash.Sniff(data) == imghash.FormatUnknown {
		return fmt.Errorf("%w: unrecognized format", ErrInvalidImage)
	}
	return nil
}
