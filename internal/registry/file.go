package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"snapsched/pkg/logx"
)

// fileStore persists the whole registry as one JSON snapshot.
//
// Every mutation rewrites <path> via <path>.tmp + rename.
type fileStore struct {
	*memStore

	log  logx.Logger
	path string
}

type fileSnapshot struct {
	Version   int        `json:"version"`
	Resources []Resource `json:"resources"`
}

const fileSnapshotVersion = 1

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{memStore: newMemStore(), log: log, path: path}
	n, err := st.load()
	if err != nil {
		return nil, fmt.Errorf("load registry snapshot %s: %w", path, err)
	}
	log.Debug("registry snapshot loaded", logx.String("path", path), logx.Int("resources", n))
	return st, nil
}

func (s *fileStore) load() (int, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return 0, err
	}
	if snap.Version > fileSnapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for _, r := range snap.Resources {
		if r.ID == "" {
			continue
		}
		s.items[r.ID] = r.clone()
	}
	return len(s.items), nil
}

// persistLocked writes the current state. Callers hold s.mu.
func (s *fileStore) persistLocked() error {
	b, err := json.MarshalIndent(fileSnapshot{Version: fileSnapshotVersion, Resources: s.snapshotLocked()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate runs fn under the write lock and persists if fn changed anything.
// On a failed write the in-memory state is rolled back.
func (s *fileStore) mutate(fn func() (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	before := make(map[string]Resource, len(s.items))
	for k, v := range s.items {
		before[k] = v
	}
	changed, err := fn()
	if err != nil || !changed {
		return err
	}
	if err := s.persistLocked(); err != nil {
		s.items = before
		s.log.Warn("registry snapshot write failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}

func (s *fileStore) Put(ctx context.Context, r Resource) error {
	_ = ctx
	return s.mutate(func() (bool, error) {
		s.putLocked(r)
		return true, nil
	})
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	return s.mutate(func() (bool, error) {
		if _, ok := s.items[id]; !ok {
			return false, ErrNotFound
		}
		delete(s.items, id)
		return true, nil
	})
}

func (s *fileStore) UpdateMetadata(ctx context.Context, id string, md Metadata, replace bool) (Metadata, error) {
	_ = ctx
	var out Metadata
	err := s.mutate(func() (bool, error) {
		var err error
		out, err = s.updateMetadataLocked(id, md, replace)
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) DeleteMetadata(ctx context.Context, id, key string) error {
	_ = ctx
	return s.mutate(func() (bool, error) {
		return s.deleteMetadataLocked(id, key)
	})
}
