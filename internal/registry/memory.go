package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore keeps resources in a map. The file driver reuses it as its
// in-memory index.
type memStore struct {
	mu     sync.RWMutex
	items  map[string]Resource
	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return newMemStore()
}

func newMemStore() *memStore {
	return &memStore{items: map[string]Resource{}}
}

func (s *memStore) Get(ctx context.Context, id string) (Resource, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Resource{}, ErrClosed
	}
	r, ok := s.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return r.clone(), nil
}

func (s *memStore) List(ctx context.Context) ([]Resource, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.snapshotLocked(), nil
}

func (s *memStore) snapshotLocked() []Resource {
	out := make([]Resource, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r.clone())
	}
	sortResources(out)
	return out
}

func sortResources(rs []Resource) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func (s *memStore) Put(ctx context.Context, r Resource) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(r)
	return nil
}

func (s *memStore) putLocked(r Resource) {
	if r.CreatedAt.IsZero() {
		if old, ok := s.items[r.ID]; ok {
			r.CreatedAt = old.CreatedAt
		} else {
			r.CreatedAt = time.Now().UTC()
		}
	}
	s.items[r.ID] = r.clone()
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Metadata, nil
}

func (s *memStore) UpdateMetadata(ctx context.Context, id string, md Metadata, replace bool) (Metadata, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.updateMetadataLocked(id, md, replace)
}

func (s *memStore) updateMetadataLocked(id string, md Metadata, replace bool) (Metadata, error) {
	r, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := r.Metadata.Clone()
	if replace {
		next = md.Clone()
	} else {
		for k, v := range md {
			next[k] = v
		}
	}
	r.Metadata = next
	s.items[id] = r
	return next.Clone(), nil
}

func (s *memStore) DeleteMetadata(ctx context.Context, id, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.deleteMetadataLocked(id, key)
	return err
}

// deleteMetadataLocked reports whether the key was present.
func (s *memStore) deleteMetadataLocked(id, key string) (bool, error) {
	r, ok := s.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if _, ok := r.Metadata[key]; !ok {
		return false, nil
	}
	next := r.Metadata.Clone()
	delete(next, key)
	r.Metadata = next
	s.items[id] = r
	return true, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
