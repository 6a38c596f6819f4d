// Package sampler reads raw host counters: per-core CPU times, memory and swap,
// per-process usage and per-interface network counters.
//
// A Sampler owns mutable OS state (cached process handles, previous CPU and
// network readings) that is refreshed in place on every call. It must only be
// driven by a single owner, normally the scheduler.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ErrSourceUnavailable marks a source that could not be queried this cycle.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source names used in SourceError.
const (
	SourceCPU       = "cpu"
	SourceMemory    = "memory"
	SourceSwap      = "swap"
	SourceProcesses = "processes"
	SourceNetwork   = "network"
	SourceLoad      = "load"
)

// SourceError reports a single unreadable source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, ErrSourceUnavailable, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSourceUnavailable) true for every SourceError.
func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// FailedSources lists the source names carried by err, which may be a single
// SourceError or a joined error.
func FailedSources(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, FailedSources(e)...)
		}
		return out
	}
	var se *SourceError
	if errors.As(err, &se) {
		return []string{se.Source}
	}
	return nil
}

// Config controls which optional sources are read.
type Config struct {
	Processes         bool
	Network           bool
	IgnoredInterfaces []string
}

// DefaultConfig samples every source.
func DefaultConfig() Config {
	return Config{Processes: true, Network: true}
}

// sources are the raw OS readers. Tests swap them for fakes.
type sources struct {
	cpuTimes      func(ctx context.Context) ([]cpu.TimesStat, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swapMemory    func(ctx context.Context) (*mem.SwapMemoryStat, error)
	netCounters   func(ctx context.Context) ([]net.IOCountersStat, error)
	pids          func(ctx context.Context) ([]int32, error)
	load          func(ctx context.Context) (*LoadSample, error)
}

func defaultSources() sources {
	return sources{
		cpuTimes: func(ctx context.Context) ([]cpu.TimesStat, error) {
			return cpu.TimesWithContext(ctx, true)
		},
		virtualMemory: mem.VirtualMemoryWithContext,
		swapMemory:    mem.SwapMemoryWithContext,
		netCounters: func(ctx context.Context) ([]net.IOCountersStat, error) {
			return net.IOCountersWithContext(ctx, true)
		},
		pids: process.PidsWithContext,
		load: readLoad,
	}
}

// Sampler reads host state. Sample and SampleStrict serialize on an internal
// mutex, so the cached OS state is never mutated concurrently.
type Sampler struct {
	cfg    Config
	logger *zap.Logger
	src    sources
	now    func() time.Time
	ignore []*regexp.Regexp

	mu      sync.Mutex
	lastCPU map[int]cpuTimes
	lastNet map[string]*netBaseline
	procs   map[int32]*procHandle
}

// New creates a Sampler and primes the network baseline so the first sample
// reports only traffic seen after startup.
func New(cfg Config, logger *zap.Logger) (*Sampler, error) {
	s, err := newSampler(cfg, logger, defaultSources())
	if err != nil {
		return nil, err
	}
	s.prime(context.Background())
	return s, nil
}

func newSampler(cfg Config, logger *zap.Logger, src sources) (*Sampler, error) {
	s := &Sampler{
		cfg:     cfg,
		logger:  logger,
		src:     src,
		now:     time.Now,
		lastCPU: make(map[int]cpuTimes),
		lastNet: make(map[string]*netBaseline),
		procs:   make(map[int32]*procHandle),
	}
	for _, pattern := range cfg.IgnoredInterfaces {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile ignored interface pattern %q: %w", pattern, err)
		}
		s.ignore = append(s.ignore, re)
	}
	return s, nil
}

func (s *Sampler) prime(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.sampleCPU(ctx); err != nil {
		s.logger.Warn("priming cpu baseline failed", zap.Error(err))
	}
	if s.cfg.Network {
		if _, err := s.sampleNetwork(ctx); err != nil {
			s.logger.Warn("priming network baseline failed", zap.Error(err))
		}
	}
}

// Sample reads every configured source. Sources that fail are left empty in
// the returned sample and reported as joined SourceErrors; the sample itself is
// never nil.
func (s *Sampler) Sample(ctx context.Context) (*RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rs := &RawSample{Timestamp: now}
	var errs []error
	fail := func(source string, err error) {
		errs = append(errs, &SourceError{Source: source, Err: err})
	}

	if cpus, err := s.sampleCPU(ctx); err != nil {
		fail(SourceCPU, err)
	} else {
		rs.CPUs = cpus
	}

	if vm, err := s.src.virtualMemory(ctx); err != nil {
		fail(SourceMemory, err)
	} else {
		rs.Memory = &MemorySample{
			Total:     vm.Total,
			Free:      vm.Free,
			Available: vm.Available,
			Used:      vm.Used,
		}
	}

	if sw, err := s.src.swapMemory(ctx); err != nil {
		fail(SourceSwap, err)
	} else {
		rs.Swap = &SwapSample{Total: sw.Total, Free: sw.Free, Used: sw.Used}
	}

	if s.cfg.Processes {
		if procs, err := s.sampleProcesses(ctx, now); err != nil {
			fail(SourceProcesses, err)
		} else {
			rs.Processes = procs
		}
	}

	if s.cfg.Network {
		if nets, err := s.sampleNetwork(ctx); err != nil {
			fail(SourceNetwork, err)
		} else {
			rs.Networks = nets
		}
	}

	if ld, err := s.src.load(ctx); err != nil {
		fail(SourceLoad, err)
	} else {
		rs.Load = ld
	}

	return rs, errors.Join(errs...)
}

// SampleStrict is the all-or-nothing variant of Sample: any failing source
// discards the whole sample.
func (s *Sampler) SampleStrict(ctx context.Context) (*RawSample, error) {
	rs, err := s.Sample(ctx)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Sampler) ignored(iface string) bool {
	for _, re := range s.ignore {
		if re.MatchString(iface) {
			return true
		}
	}
	return false
}
