package registry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrClosed   = errors.New("registry closed")
)

// Config configures the registry backend.
//
// Driver values:
//   - "memory": process-local map, lost on restart
//   - "file": JSON snapshot rewritten atomically on every mutation
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Metadata is a resource's free-form key/value bag.
type Metadata map[string]string

// Clone returns an independent copy. A nil bag clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Resource is a compute resource as known to the registry.
type Resource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata"`
}

func (r Resource) clone() Resource {
	r.Metadata = r.Metadata.Clone()
	return r
}

// Store owns resources and their metadata bags.
//
// All lookups by id return ErrNotFound for unknown resources.
type Store interface {
	Get(ctx context.Context, id string) (Resource, error)
	// List returns all resources ordered by creation time, then id.
	List(ctx context.Context) ([]Resource, error)
	// Put creates or replaces a resource, including its metadata.
	Put(ctx context.Context, r Resource) error
	Delete(ctx context.Context, id string) error

	Metadata(ctx context.Context, id string) (Metadata, error)
	// UpdateMetadata merges md into the bag, or replaces the bag when
	// replace is true, and returns the stored result.
	UpdateMetadata(ctx context.Context, id string, md Metadata, replace bool) (Metadata, error)
	// DeleteMetadata removes one key. A missing key is not an error.
	DeleteMetadata(ctx context.Context, id, key string) error

	Close() error
}
