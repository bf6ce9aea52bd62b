package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"snapsched/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exists(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Resource, error) {
	var (
		r  Resource
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM resources WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, err
	}
	r.CreatedAt = time.UnixMilli(ms).UTC()
	r.Metadata, err = s.loadMetadata(ctx, s.db, id)
	if err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (s *sqliteStore) loadMetadata(ctx context.Context, q queryer, id string) (Metadata, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM resource_metadata WHERE resource_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	md := Metadata{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		md[k] = v
	}
	return md, rows.Err()
}

func (s *sqliteStore) List(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.created_at, m.key, m.value
		   FROM resources r
		   LEFT JOIN resource_metadata m ON m.resource_id = r.id
		  ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var (
			id, name string
			ms       int64
			k, v     sql.NullString
		)
		if err := rows.Scan(&id, &name, &ms, &k, &v); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, Resource{ID: id, Name: name, CreatedAt: time.UnixMilli(ms).UTC(), Metadata: Metadata{}})
		}
		if k.Valid {
			out[len(out)-1].Metadata[k.String] = v.String
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) Put(ctx context.Context, r Resource) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		created := r.CreatedAt
		if created.IsZero() {
			var ms int64
			err := tx.QueryRowContext(ctx, `SELECT created_at FROM resources WHERE id = ?`, r.ID).Scan(&ms)
			switch {
			case err == nil:
				created = time.UnixMilli(ms)
			case errors.Is(err, sql.ErrNoRows):
				created = time.Now()
			default:
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resources(id, name, created_at) VALUES(?,?,?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, created_at=excluded.created_at`,
			r.ID, r.Name, created.UnixMilli(),
		); err != nil {
			return err
		}
		return replaceMetadata(ctx, tx, r.ID, r.Metadata)
	})
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	if err := s.exists(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.loadMetadata(ctx, s.db, id)
}

func (s *sqliteStore) UpdateMetadata(ctx context.Context, id string, md Metadata, replace bool) (Metadata, error) {
	var out Metadata
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, id); err != nil {
			return err
		}
		if replace {
			if err := replaceMetadata(ctx, tx, id, md); err != nil {
				return err
			}
		} else {
			for k, v := range md {
				if err := upsertMetadata(ctx, tx, id, k, v); err != nil {
					return err
				}
			}
		}
		var err error
		out, err = s.loadMetadata(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) DeleteMetadata(ctx context.Context, id, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM resource_metadata WHERE resource_id = ? AND key = ?`, id, key)
		return err
	})
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func replaceMetadata(ctx context.Context, tx *sql.Tx, id string, md Metadata) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_metadata WHERE resource_id = ?`, id); err != nil {
		return err
	}
	for k, v := range md {
		if err := upsertMetadata(ctx, tx, id, k, v); err != nil {
			return err
		}
	}
	return nil
}

func upsertMetadata(ctx context.Context, tx *sql.Tx, id, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO resource_metadata(resource_id, key, value) VALUES(?,?,?)
		 ON CONFLICT(resource_id, key) DO UPDATE SET value=excluded.value`,
		id, key, value,
	)
	return err
}
