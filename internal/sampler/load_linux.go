//go:build linux

package sampler

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Load averages from sysinfo(2) are fixed-point with 16 fractional bits.
const loadScale = 1 << 16

func readLoad(_ context.Context) (*LoadSample, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return nil, fmt.Errorf("sysinfo: %w", err)
	}
	return &LoadSample{
		Load1:  float64(info.Loads[0]) / loadScale,
		Load5:  float64(info.Loads[1]) / loadScale,
		Load15: float64(info.Loads[2]) / loadScale,
		Uptime: float64(info.Uptime),
		Procs:  uint64(info.Procs),
	}, nil
}
