// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const badgerKeyPrefix = "probe:"

// Badger is an on-disk Store; entries survive daemon restarts.
type Badger struct {
	db     *badger.DB
	logger zerolog.Logger
	stats  counters
}

// OpenBadger opens (or creates) the store at dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, logger zerolog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	logger.Info().Str("dir", dir).Msg("opened badger probe cache")
	return &Badger{db: db, logger: logger}, nil
}

func (b *Badger) Name() string { return BackendBadger }

func (b *Badger) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		b.stats.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		b.stats.errors.Add(1)
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	b.stats.hits.Add(1)
	return out, true, nil
}

func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := badger.NewEntry([]byte(badgerKeyPrefix+key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		b.stats.errors.Add(1)
		return fmt.Errorf("badger set: %w", err)
	}
	b.stats.sets.Add(1)
	return nil
}

func (b *Badger) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
	if err != nil {
		b.stats.errors.Add(1)
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (b *Badger) Stats() Stats { return b.stats.snapshot() }

func (b *Badger) Close() error { return b.db.Close() }
