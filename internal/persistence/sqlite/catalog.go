// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ManuGH/loopcast/internal/playback"
)

// MediaFile is one catalog row. Collection groups files for channel sources
// (a show name, an extras category); it may be empty.
type MediaFile struct {
	Ref        playback.MediaRef
	Path       string
	Title      string
	Collection string
	Duration   time.Duration
}

// Lookup resolves a media reference to its file path and known duration.
// Unknown references return ErrMediaNotFound.
func (s *Store) Lookup(ctx context.Context, ref playback.MediaRef) (string, time.Duration, error) {
	var path string
	var secs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT path, duration_seconds FROM media_files WHERE kind = ? AND id = ?`,
		string(ref.Kind), ref.ID,
	).Scan(&path, &secs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, playback.E(playback.ErrMediaNotFound, "catalog.lookup", ref.String(), nil)
	}
	if err != nil {
		return "", 0, err
	}
	return path, time.Duration(secs) * time.Second, nil
}

// UpsertMedia inserts or replaces a catalog row. The library scanner owns
// the catalog; this exists for seeding and tests.
func (s *Store) UpsertMedia(ctx context.Context, m MediaFile) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO media_files (kind, id, path, title, collection, duration_seconds)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		path = excluded.path,
		title = excluded.title,
		collection = excluded.collection,
		duration_seconds = excluded.duration_seconds
	`, string(m.Ref.Kind), m.Ref.ID, m.Path, m.Title, m.Collection, int64(m.Duration/time.Second))
	return err
}
