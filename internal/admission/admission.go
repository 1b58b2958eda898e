// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package admission gates encoder starts: a running-job semaphore plus
// optional host load and free disk guards.
package admission

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"golang.org/x/sync/semaphore"

	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
)

// Reason is a lowercase rejection token, used as a metric label.
type Reason string

const (
	ReasonAdmitted  Reason = "admitted"
	ReasonCapacity  Reason = "capacity"
	ReasonCPULoad   Reason = "cpu_load"
	ReasonDiskSpace Reason = "disk_space"
)

// LoadProvider returns the 1-minute load average.
type LoadProvider func(ctx context.Context) (float64, error)

// DiskProvider returns free bytes on the filesystem holding path.
type DiskProvider func(ctx context.Context, path string) (uint64, error)

// SystemLoad reads the load average through gopsutil.
func SystemLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// FreeBytes reads filesystem usage through gopsutil.
func FreeBytes(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// Options configures a Controller. Zero guard values disable the guard.
type Options struct {
	MaxJobs        int
	MaxLoadPerCore float64
	MinFreeBytes   uint64
	OutputRoot     string
	Load           LoadProvider
	Disk           DiskProvider
}

// Controller is safe for concurrent use.
type Controller struct {
	sem            *semaphore.Weighted
	max            int64
	maxLoadPerCore float64
	minFreeBytes   uint64
	root           string
	cores          float64
	load           LoadProvider
	disk           DiskProvider

	mu      sync.Mutex
	running int64
}

func New(opts Options) *Controller {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 1
	}
	if opts.Load == nil {
		opts.Load = SystemLoad
	}
	if opts.Disk == nil {
		opts.Disk = FreeBytes
	}
	return &Controller{
		sem:            semaphore.NewWeighted(int64(opts.MaxJobs)),
		max:            int64(opts.MaxJobs),
		maxLoadPerCore: opts.MaxLoadPerCore,
		minFreeBytes:   opts.MinFreeBytes,
		root:           opts.OutputRoot,
		cores:          float64(runtime.NumCPU()),
		load:           opts.Load,
		disk:           opts.Disk,
	}
}

// Slot is one admitted encoder. Release is idempotent.
type Slot struct {
	once sync.Once
	c    *Controller
}

func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.c.sem.Release(1)
		s.c.mu.Lock()
		s.c.running--
		s.c.mu.Unlock()
	})
}

// TryAdmit never waits. A full pool or host pressure fails with
// ErrEncoderUnavailable; low disk space fails with ErrDiskWrite.
func (c *Controller) TryAdmit(ctx context.Context) (*Slot, error) {
	if !c.sem.TryAcquire(1) {
		return nil, c.reject(ReasonCapacity, playback.ErrEncoderUnavailable,
			fmt.Errorf("%d of %d encoder slots in use", c.max, c.max))
	}

	if reason, kind, err := c.checkHost(ctx); err != nil {
		c.sem.Release(1)
		return nil, c.reject(reason, kind, err)
	}

	c.mu.Lock()
	c.running++
	c.mu.Unlock()
	return &Slot{c: c}, nil
}

func (c *Controller) checkHost(ctx context.Context) (reason Reason, kind error, cause error) {
	logger := xglog.WithComponentFromContext(ctx, "admission")

	if c.maxLoadPerCore > 0 {
		l, err := c.load(ctx)
		switch {
		case err != nil:
			// Unknown load admits; the semaphore still bounds us.
			logger.Debug().Err(err).Msg("load average unavailable")
		case l > c.maxLoadPerCore*c.cores:
			return ReasonCPULoad, playback.ErrEncoderUnavailable,
				fmt.Errorf("load %.2f exceeds %.2f", l, c.maxLoadPerCore*c.cores)
		}
	}

	if c.minFreeBytes > 0 && c.root != "" {
		free, err := c.disk(ctx, c.root)
		switch {
		case err != nil:
			logger.Debug().Err(err).Str(xglog.FieldPath, c.root).Msg("disk usage unavailable")
		case free < c.minFreeBytes:
			return ReasonDiskSpace, playback.ErrDiskWrite,
				fmt.Errorf("%d bytes free, need %d", free, c.minFreeBytes)
		}
	}
	return ReasonAdmitted, nil, nil
}

func (c *Controller) reject(reason Reason, kind, cause error) error {
	metrics.IncAdmissionReject(string(reason))
	return playback.E(kind, "admission", string(reason), cause)
}

// Running returns the number of admitted, unreleased slots.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.running)
}

// Capacity returns the configured job cap.
func (c *Controller) Capacity() int { return int(c.max) }
