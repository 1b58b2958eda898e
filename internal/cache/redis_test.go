// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestRedis_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "abc", []byte(`{"container":"mkv"}`), time.Hour))
	assert.True(t, mr.Exists(redisKeyPrefix+"abc"))

	got, ok, err := r.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"container":"mkv"}`, string(got))

	_, ok, err = r.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Delete(t *testing.T) {
	ctx := context.Background()
	_, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, r.Delete(ctx, "k"))
	_, ok, _ := r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_ServerDownIsError(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)
	mr.Close()

	_, ok, err := r.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), r.Stats().Errors)
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(RedisConfig{Addr: addr}, zerolog.Nop())
	require.Error(t, err)
}
