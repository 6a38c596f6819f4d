package sampler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// procHandle keeps a gopsutil process across samples so CPU percent is
// computed against the previous reading instead of re-opening the process.
type procHandle struct {
	proc      *process.Process
	createdMs int64
}

func (s *Sampler) sampleProcesses(ctx context.Context, now time.Time) (map[int32]ProcessSample, error) {
	pids, err := s.src.pids(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int32]ProcessSample, len(pids))
	seen := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		seen[pid] = struct{}{}
		if ps, ok := s.readProcess(ctx, pid, now); ok {
			out[pid] = ps
		}
	}

	for pid := range s.procs {
		if _, ok := seen[pid]; !ok {
			delete(s.procs, pid)
		}
	}
	return out, nil
}

// readProcess returns false when the process vanished or its identity cannot
// be read. Partial failures (CPU, memory, IO) leave zero values.
func (s *Sampler) readProcess(ctx context.Context, pid int32, now time.Time) (ProcessSample, bool) {
	h, ok := s.procs[pid]
	if ok {
		// A reused PID belongs to a different process; drop the stale handle.
		if running, err := h.proc.IsRunningWithContext(ctx); err != nil || !running {
			delete(s.procs, pid)
			ok = false
		}
	}
	if !ok {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return ProcessSample{}, false
		}
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			return ProcessSample{}, false
		}
		h = &procHandle{proc: p, createdMs: created}
		s.procs[pid] = h
	}

	name, err := h.proc.NameWithContext(ctx)
	if err != nil {
		delete(s.procs, pid)
		return ProcessSample{}, false
	}

	start := time.UnixMilli(h.createdMs)
	runTime := now.Sub(start).Seconds()
	if runTime < 0 {
		runTime = 0
	}

	ps := ProcessSample{
		PID:       pid,
		Name:      name,
		StartTime: float64(h.createdMs) / 1000,
		RunTime:   runTime,
	}

	if pct, err := h.proc.PercentWithContext(ctx, 0); err == nil {
		ps.CPUPercent = pct
	}
	if mi, err := h.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		ps.ResidentBytes = mi.RSS
		ps.VirtualBytes = mi.VMS
	}
	if io, err := h.proc.IOCountersWithContext(ctx); err == nil && io != nil {
		ps.DiskReadBytes = io.ReadBytes
		ps.DiskWrittenBytes = io.WriteBytes
		ps.HasIO = true
	}
	return ps, true
}
