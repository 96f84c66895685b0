package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// RegistryFilename is the per-partition registry document.
const RegistryFilename = "article_ids.json"

var partitionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store persists partition registries. Implementations must make each
// Update a full read-modify-write: the callback sees the current state and
// its result is durable before Update returns.
type Store interface {
	// Load returns the registry for a partition, keyed by identity.
	// A partition that does not exist yet loads as an empty map.
	Load(partition string) (map[int]*Record, error)

	// Update applies fn to the partition's registry and persists the
	// result. fn returning an error aborts without persisting.
	Update(partition string, fn func(map[int]*Record) error) error

	// Partitions lists every dated partition present, sorted ascending.
	Partitions() ([]string, error)
}

// FileStore keeps one JSON registry document per partition directory under
// a shared root: <root>/<partition>/article_ids.json. Persistence is
// atomic (tmp + rename) so a crash mid-write never corrupts a registry.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("registry: mkdir %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(partition string) string {
	return filepath.Join(s.root, partition, RegistryFilename)
}

// Load reads a partition registry. Identities are serialized as padded
// string keys; both padded and unpadded forms parse back.
func (s *FileStore) Load(partition string) (map[int]*Record, error) {
	raw, err := os.ReadFile(s.path(partition))
	if errors.Is(err, os.ErrNotExist) {
		return make(map[int]*Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", s.path(partition), err)
	}
	return decodeRegistry(raw, s.path(partition))
}

// Update performs a read-modify-write on one partition registry and
// persists the result atomically. The partition directory is created on
// first write.
func (s *FileStore) Update(partition string, fn func(map[int]*Record) error) error {
	records, err := s.Load(partition)
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}

	dir := filepath.Join(s.root, partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}

	encoded := make(map[string]*Record, len(records))
	for identity, rec := range records {
		encoded[FormatIdentity(identity)] = rec
	}
	raw, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal %s: %w", partition, err)
	}

	path := s.path(partition)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("registry: rename %s: %w", path, err)
	}
	return nil
}

// Partitions lists dated partition directories under the root, ascending.
// Non-partition entries (asset dirs, cache files) are ignored.
func (s *FileStore) Partitions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("registry: list partitions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && partitionPattern.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func decodeRegistry(raw []byte, path string) (map[int]*Record, error) {
	var encoded map[string]*Record
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	records := make(map[int]*Record, len(encoded))
	for key, rec := range encoded {
		identity, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("registry: %s: bad identity key %q", path, key)
		}
		records[identity] = rec
	}
	return records, nil
}
