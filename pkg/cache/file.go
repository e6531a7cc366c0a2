package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/packmule/packmule/pkg/observability"
)

// FileStore implements Store as a JSON file of name → versions.
// The whole index is held in memory and rewritten on every Add, which is
// cheap at the index sizes a mirror run produces and keeps the on-disk
// state current even if the process dies mid-run.
type FileStore struct {
	path string

	mu     sync.Mutex
	seen   map[string]map[string]struct{}
	closed bool
}

// NewFileStore opens (or creates) the index file at path. Parent
// directories are created as needed. A malformed index file is treated
// as empty rather than failing the run.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &FileStore{path: path, seen: make(map[string]map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err == nil {
		for name, versions := range raw {
			set := make(map[string]struct{}, len(versions))
			for _, v := range versions {
				set[v] = struct{}{}
			}
			s.seen[name] = set
		}
	}
	return s, nil
}

// Exists reports whether the pair is in the index.
func (s *FileStore) Exists(ctx context.Context, name, version string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	_, ok := s.seen[name][version]
	if ok {
		observability.Cache().OnIndexHit(ctx, "file")
	} else {
		observability.Cache().OnIndexMiss(ctx, "file")
	}
	return ok, nil
}

// Add records the pair and rewrites the index file.
func (s *FileStore) Add(ctx context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.seen[name][version]; ok {
		return nil
	}
	if s.seen[name] == nil {
		s.seen[name] = make(map[string]struct{})
	}
	s.seen[name][version] = struct{}{}
	observability.Cache().OnIndexAdd(ctx, "file")
	return s.flushLocked()
}

// Close marks the store closed. The file is already current.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) flushLocked() error {
	raw := make(map[string][]string, len(s.seen))
	for name, versions := range s.seen {
		list := make([]string, 0, len(versions))
		for v := range versions {
			list = append(list, v)
		}
		sort.Strings(list)
		raw[name] = list
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

var _ Store = (*FileStore)(nil)
