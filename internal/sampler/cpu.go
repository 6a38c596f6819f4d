package sampler

import (
	"context"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

type cpuTimes struct {
	busy  float64
	total float64
}

func (s *Sampler) sampleCPU(ctx context.Context) ([]CPUSample, error) {
	stats, err := s.src.cpuTimes(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CPUSample, 0, len(stats))
	for i, st := range stats {
		core := coreIndex(st.CPU, i)
		cur := busyTimes(st)

		var usage float64
		if prev, ok := s.lastCPU[core]; ok {
			dTotal := cur.total - prev.total
			dBusy := cur.busy - prev.busy
			if dTotal > 0 && dBusy >= 0 {
				usage = clampPercent(dBusy / dTotal * 100)
			}
		}
		s.lastCPU[core] = cur

		out = append(out, CPUSample{
			Core:         core,
			User:         st.User,
			System:       st.System,
			Nice:         st.Nice,
			Idle:         st.Idle,
			UsagePercent: usage,
		})
	}
	return out, nil
}

// busyTimes mirrors the kernel's accounting: guest time is already included in
// user time, and iowait counts as idle.
func busyTimes(st cpu.TimesStat) cpuTimes {
	total := st.User + st.System + st.Nice + st.Idle + st.Iowait + st.Irq + st.Softirq + st.Steal
	return cpuTimes{
		busy:  total - st.Idle - st.Iowait,
		total: total,
	}
}

// coreIndex parses "cpu3" into 3, falling back to the position in the list.
func coreIndex(name string, pos int) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(name, "cpu")); err == nil && n >= 0 {
		return n
	}
	return pos
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
