// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/playback"
)

func fixedLoad(v float64, err error) LoadProvider {
	return func(context.Context) (float64, error) { return v, err }
}

func fixedDisk(free uint64, err error) DiskProvider {
	return func(context.Context, string) (uint64, error) { return free, err }
}

func TestTryAdmit_CapacityFailsFast(t *testing.T) {
	c := New(Options{MaxJobs: 2})
	ctx := context.Background()

	s1, err := c.TryAdmit(ctx)
	require.NoError(t, err)
	s2, err := c.TryAdmit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Running())

	_, err = c.TryAdmit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, playback.ErrEncoderUnavailable)

	s1.Release()
	s1.Release() // idempotent
	assert.Equal(t, 1, c.Running())

	s3, err := c.TryAdmit(ctx)
	require.NoError(t, err)
	s2.Release()
	s3.Release()
	assert.Equal(t, 0, c.Running())
}

func TestTryAdmit_LoadGuard(t *testing.T) {
	c := New(Options{MaxJobs: 4, MaxLoadPerCore: 1.0, Load: fixedLoad(1000, nil)})
	c.cores = 2

	_, err := c.TryAdmit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, playback.ErrEncoderUnavailable)
	assert.Equal(t, 0, c.Running(), "rejected admit must give the slot back")

	c.load = fixedLoad(1.5, nil)
	s, err := c.TryAdmit(context.Background())
	require.NoError(t, err)
	s.Release()
}

func TestTryAdmit_LoadUnavailableAdmits(t *testing.T) {
	c := New(Options{MaxJobs: 1, MaxLoadPerCore: 1.0, Load: fixedLoad(0, errors.New("no /proc"))})
	s, err := c.TryAdmit(context.Background())
	require.NoError(t, err)
	s.Release()
}

func TestTryAdmit_DiskGuard(t *testing.T) {
	c := New(Options{
		MaxJobs:      1,
		MinFreeBytes: 1 << 30,
		OutputRoot:   t.TempDir(),
		Disk:         fixedDisk(1<<20, nil),
	})

	_, err := c.TryAdmit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, playback.ErrDiskWrite)

	c.disk = fixedDisk(2<<30, nil)
	s, err := c.TryAdmit(context.Background())
	require.NoError(t, err)
	s.Release()
}

func TestSystemProvidersOnRealHost(t *testing.T) {
	_, err := FreeBytes(context.Background(), t.TempDir())
	require.NoError(t, err)
}

func TestNilSlotRelease(t *testing.T) {
	var s *Slot
	assert.NotPanics(t, s.Release)
}
