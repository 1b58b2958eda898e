// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Store owns the database handle. It implements the catalog lookup and the
// channel schedule store.
type Store struct {
	db *sql.DB
}

// New opens path and applies the schema.
func New(path string, cfg Config) (*Store, error) {
	db, err := Open(path, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_files (
		kind TEXT NOT NULL CHECK(kind IN ('movie', 'episode', 'extra')),
		id INTEGER NOT NULL,
		path TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		collection TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (kind, id)
	);
	CREATE INDEX IF NOT EXISTS idx_media_files_collection ON media_files(kind, collection);

	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		anchor TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_channels_owner ON channels(owner_id);

	CREATE TABLE IF NOT EXISTS channel_items (
		channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		media_kind TEXT NOT NULL,
		media_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL CHECK(duration_ms > 0),
		PRIMARY KEY (channel_id, position)
	);

	CREATE TABLE IF NOT EXISTS channel_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		media_kind TEXT NOT NULL CHECK(media_kind IN ('movie', 'episode', 'extra')),
		collection TEXT NOT NULL DEFAULT '',
		weight INTEGER NOT NULL DEFAULT 1,
		shuffle INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_channel_sources_channel ON channel_sources(channel_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
