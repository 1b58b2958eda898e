// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

type procStats struct {
	CPUPercent float64
	RSSBytes   uint64
}

// sampleProcess reads CPU and resident memory of an encoder via gopsutil.
func sampleProcess(ctx context.Context, pid int) (procStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return procStats{}, err
	}
	var st procStats
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return st, err
	}
	st.RSSBytes = mem.RSS
	return st, nil
}
