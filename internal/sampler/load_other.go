//go:build !linux

package sampler

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
)

func readLoad(ctx context.Context) (*LoadSample, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("load average: %w", err)
	}
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("uptime: %w", err)
	}
	ls := &LoadSample{
		Load1:  avg.Load1,
		Load5:  avg.Load5,
		Load15: avg.Load15,
		Uptime: float64(uptime),
	}
	if misc, err := load.MiscWithContext(ctx); err == nil && misc != nil && misc.ProcsTotal > 0 {
		ls.Procs = uint64(misc.ProcsTotal)
	}
	return ls, nil
}
