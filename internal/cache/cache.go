// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides the byte-oriented stores behind the probe cache.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Store is a TTL key/value store. A missing or expired key is reported as
// (nil, false, nil); err is reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
	Name() string
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Sets   int64
	Errors int64
	// Evictions is only tracked by the memory backend.
	Evictions int64
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BadgerDir     string
	// CleanupInterval drives the memory janitor; zero disables it.
	CleanupInterval time.Duration
}

// New builds the configured store.
func New(opts Options, logger zerolog.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(opts.CleanupInterval), nil
	case BackendRedis:
		return NewRedis(RedisConfig{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB}, logger)
	case BackendBadger:
		return OpenBadger(opts.BadgerDir, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

type counters struct {
	hits, misses, sets, errors, evictions atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Errors:    c.errors.Load(),
		Evictions: c.evictions.Load(),
	}
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   counters
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemory creates a memory store; a positive cleanupInterval starts a
// janitor goroutine that Close stops.
func NewMemory(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *Memory) Name() string { return BackendMemory }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.expired(m.now()) {
		m.stats.misses.Add(1)
		return nil, false, nil
	}
	m.stats.hits.Add(1)
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	m.stats.sets.Add(1)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Stats() Stats { return m.stats.snapshot() }

// Close stops the janitor. It is safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) deleteExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			m.stats.evictions.Add(1)
		}
	}
}
