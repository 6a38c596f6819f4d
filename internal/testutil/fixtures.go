package testutil

import (
	"time"

	"github.com/HerbHall/simon/internal/sampler"
)

// Epoch is the fixed point in time fixtures are anchored to:
// 2025-01-01 00:00:00 UTC.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewProcess returns a ProcessSample with sensible defaults. Override
// individual fields with options.
func NewProcess(pid int32, name string, opts ...func(*sampler.ProcessSample)) sampler.ProcessSample {
	p := sampler.ProcessSample{
		PID:       pid,
		Name:      name,
		StartTime: float64(Epoch.Unix()),
		RunTime:   60,
		HasIO:     true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithCPU sets the process CPU percentage.
func WithCPU(pct float64) func(*sampler.ProcessSample) {
	return func(p *sampler.ProcessSample) { p.CPUPercent = pct }
}

// WithMemory sets resident and virtual memory in bytes.
func WithMemory(resident, virtual uint64) func(*sampler.ProcessSample) {
	return func(p *sampler.ProcessSample) {
		p.ResidentBytes = resident
		p.VirtualBytes = virtual
	}
}

// WithTimes sets start time (unix seconds) and run time (seconds).
func WithTimes(start, run float64) func(*sampler.ProcessSample) {
	return func(p *sampler.ProcessSample) {
		p.StartTime = start
		p.RunTime = run
	}
}

// WithIO sets cumulative disk bytes since process start.
func WithIO(read, written uint64) func(*sampler.ProcessSample) {
	return func(p *sampler.ProcessSample) {
		p.DiskReadBytes = read
		p.DiskWrittenBytes = written
		p.HasIO = true
	}
}

// WithoutIO marks the process IO counters as unreadable.
func WithoutIO() func(*sampler.ProcessSample) {
	return func(p *sampler.ProcessSample) { p.HasIO = false }
}

// NewSample returns a RawSample at Epoch with memory and swap populated and
// the given processes.
func NewSample(procs ...sampler.ProcessSample) *sampler.RawSample {
	rs := &sampler.RawSample{
		Timestamp: Epoch,
		Memory:    &sampler.MemorySample{Total: 8 << 30, Free: 2 << 30, Available: 4 << 30, Used: 4 << 30},
		Swap:      &sampler.SwapSample{Total: 1 << 30, Free: 1 << 30},
		Processes: make(map[int32]sampler.ProcessSample, len(procs)),
	}
	for _, p := range procs {
		rs.Processes[p.PID] = p
	}
	return rs
}

// WithInterface adds an interface with its cumulative counters and the
// increase since the sampler's previous refresh.
func WithInterface(rs *sampler.RawSample, name string, total, delta sampler.NetCounters) *sampler.RawSample {
	if rs.Networks == nil {
		rs.Networks = make(map[string]sampler.InterfaceSample)
	}
	rs.Networks[name] = sampler.InterfaceSample{Name: name, Total: total, Delta: delta}
	return rs
}
