// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/loopcast/internal/channels"
	"github.com/ManuGH/loopcast/internal/playback"
)

var _ channels.ScheduleStore = (*Store)(nil)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func notFound(op string, id int64) error {
	return playback.E(playback.ErrChannelNotFound, op, strconv.FormatInt(id, 10), nil)
}

// CreateChannel inserts an empty channel anchored at anchor and returns its id.
func (s *Store) CreateChannel(ctx context.Context, meta channels.Meta, anchor time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (owner_id, name, icon, anchor, version) VALUES (?, ?, ?, ?, 1)`,
		meta.OwnerID, meta.Name, meta.Icon, formatTime(anchor))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddSource attaches a content source to a channel. An empty collection
// selects every media file of the kind.
func (s *Store) AddSource(ctx context.Context, channelID int64, name string, kind playback.MediaKind, collection string, weight int, shuffle bool) (int64, error) {
	if weight < 1 {
		weight = 1
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO channel_sources (channel_id, name, media_kind, collection, weight, shuffle)
	VALUES (?, ?, ?, ?, ?, ?)
	`, channelID, name, string(kind), collection, weight, shuffle)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) readMeta(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id int64) (channels.Meta, time.Time, uint64, error) {
	var meta channels.Meta
	var anchor string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, name, icon, anchor, version FROM channels WHERE id = ?`, id,
	).Scan(&meta.ID, &meta.OwnerID, &meta.Name, &meta.Icon, &anchor, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, time.Time{}, 0, notFound("schedule.read", id)
	}
	if err != nil {
		return meta, time.Time{}, 0, err
	}
	at, err := time.Parse(time.RFC3339Nano, anchor)
	if err != nil {
		return meta, time.Time{}, 0, fmt.Errorf("channel %d: bad anchor %q: %w", id, anchor, err)
	}
	return meta, at, uint64(version), nil
}

// Read returns a consistent snapshot of one channel.
func (s *Store) Read(ctx context.Context, channelID int64) (channels.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return channels.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	meta, anchor, version, err := s.readMeta(ctx, tx, channelID)
	if err != nil {
		return channels.Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx, `
	SELECT media_kind, media_id, title, duration_ms
	FROM channel_items
	WHERE channel_id = ?
	ORDER BY position
	`, channelID)
	if err != nil {
		return channels.Snapshot{}, err
	}
	defer func() { _ = rows.Close() }()

	var entries []channels.Entry
	for rows.Next() {
		var e channels.Entry
		var kind string
		var ms int64
		if err := rows.Scan(&kind, &e.MediaID, &e.Title, &ms); err != nil {
			return channels.Snapshot{}, err
		}
		e.MediaType = playback.MediaKind(kind)
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return channels.Snapshot{}, err
	}
	return channels.Snapshot{Meta: meta, Entries: entries, Anchor: anchor, Version: version}, nil
}

// List returns the channels owned by ownerID, ordered by id.
func (s *Store) List(ctx context.Context, ownerID string) ([]channels.Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, icon FROM channels WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []channels.Meta{}
	for rows.Next() {
		var m channels.Meta
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Icon); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Write replaces the item list and anchor of an existing channel. A snapshot
// whose version is not newer than the stored one is rejected with
// channels.ErrVersionConflict.
func (s *Store) Write(ctx context.Context, snap channels.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE channels SET anchor = ?, version = ? WHERE id = ? AND version < ?`,
		formatTime(snap.Anchor), int64(snap.Version), snap.Meta.ID, int64(snap.Version))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		if _, _, _, err := s.readMeta(ctx, tx, snap.Meta.ID); err != nil {
			return err
		}
		return fmt.Errorf("channel %d version %d: %w", snap.Meta.ID, snap.Version, channels.ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_items WHERE channel_id = ?`, snap.Meta.ID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO channel_items (channel_id, position, media_kind, media_id, title, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for i, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx, snap.Meta.ID, i, string(e.MediaType), e.MediaID, e.Title, e.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Sources returns the channel's sources with their candidate entries
// resolved from the catalog. Files without a known duration are left out.
func (s *Store) Sources(ctx context.Context, channelID int64) ([]channels.Source, error) {
	if _, _, _, err := s.readMeta(ctx, s.db, channelID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, name, media_kind, collection, weight, shuffle
	FROM channel_sources
	WHERE channel_id = ?
	ORDER BY id
	`, channelID)
	if err != nil {
		return nil, err
	}
	type sourceRow struct {
		src        channels.Source
		kind       string
		collection string
	}
	var srcs []sourceRow
	for rows.Next() {
		var r sourceRow
		if err := rows.Scan(&r.src.ID, &r.src.Name, &r.kind, &r.collection, &r.src.Weight, &r.src.Shuffle); err != nil {
			_ = rows.Close()
			return nil, err
		}
		srcs = append(srcs, r)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// second pass after the first cursor is closed
	out := make([]channels.Source, 0, len(srcs))
	for _, r := range srcs {
		entries, err := s.sourceEntries(ctx, r.kind, r.collection)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", r.src.ID, err)
		}
		r.src.Entries = entries
		out = append(out, r.src)
	}
	return out, nil
}

func (s *Store) sourceEntries(ctx context.Context, kind, collection string) ([]channels.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, title, duration_seconds
	FROM media_files
	WHERE kind = ? AND (? = '' OR collection = ?) AND duration_seconds > 0
	ORDER BY collection, id
	`, kind, collection, collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []channels.Entry
	for rows.Next() {
		e := channels.Entry{MediaType: playback.MediaKind(kind)}
		var secs int64
		if err := rows.Scan(&e.MediaID, &e.Title, &secs); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(secs) * time.Second
		out = append(out, e)
	}
	return out, rows.Err()
}
