// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestBadger_MissAndDelete(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadger("", zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, b.Delete(ctx, "k"))
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	st := b.Stats()
	assert.Equal(t, int64(2), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
}
