// Package aggregator folds raw host samples into the metric store.
//
// Process metrics are keyed by process name only: gauges are rebuilt from
// scratch every cycle so exited names disappear, while disk counters
// accumulate per-process deltas and are never reset. Network counters add the
// per-interface deltas computed by the sampler.
package aggregator

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/HerbHall/simon/internal/sampler"
	"github.com/HerbHall/simon/internal/store"
)

// CPUMode selects how per-core CPU is exported.
type CPUMode string

const (
	// CPUModeUsage exports a busy percentage gauge per core.
	CPUModeUsage CPUMode = "usage"
	// CPUModeSeconds exports cumulative seconds per core and mode as counters.
	CPUModeSeconds CPUMode = "seconds"
)

// ErrInvalidCPUMode is returned by New for an unknown CPU mode.
var ErrInvalidCPUMode = errors.New("invalid cpu mode")

// Config configures metric naming and the CPU representation.
type Config struct {
	Namespace string
	CPUMode   CPUMode
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{Namespace: "simon", CPUMode: CPUModeUsage}
}

// procKey identifies one process instance. The start time disambiguates a
// PID reused by a later process.
type procKey struct {
	pid   int32
	start float64
}

type ioTotals struct {
	read  uint64
	write uint64
}

type cpuKey struct {
	core int
	mode string
}

// Aggregator writes samples into a Store. It is meant to have a single caller;
// the mutex only protects its private delta tables.
type Aggregator struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
	names  families

	mu      sync.Mutex
	lastIO  map[procKey]ioTotals
	lastCPU map[cpuKey]float64
}

// New registers every metric family on st. A registration failure (for
// example a family registered twice on the same store) is returned as-is and
// should be treated as fatal.
func New(st *store.Store, cfg Config, logger *zap.Logger) (*Aggregator, error) {
	if cfg.CPUMode == "" {
		cfg.CPUMode = CPUModeUsage
	}
	if cfg.CPUMode != CPUModeUsage && cfg.CPUMode != CPUModeSeconds {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCPUMode, cfg.CPUMode)
	}

	a := &Aggregator{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		names:   newFamilies(cfg.Namespace),
		lastIO:  make(map[procKey]ioTotals),
		lastCPU: make(map[cpuKey]float64),
	}
	if err := a.names.register(st, cfg.CPUMode); err != nil {
		return nil, err
	}
	return a, nil
}

// cycle collects store errors for one Aggregate call so a single bad series
// never stops the rest of the fold.
type cycle struct {
	st   *store.Store
	errs []error
}

func (c *cycle) set(name string, v float64, labelValues ...string) {
	sr, err := c.st.GetOrCreate(name, labelValues...)
	if err == nil {
		err = c.st.Set(sr, v)
	}
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *cycle) inc(name string, delta float64, labelValues ...string) {
	sr, err := c.st.GetOrCreate(name, labelValues...)
	if err == nil {
		err = c.st.Increment(sr, delta)
	}
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *cycle) reset(name string) {
	if err := c.st.ResetFamily(name); err != nil {
		c.errs = append(c.errs, err)
	}
}

// Aggregate folds one sample into the store. Sources missing from rs are
// skipped and keep their previous values. Store errors are joined and
// returned after the whole sample has been processed.
func (a *Aggregator) Aggregate(rs *sampler.RawSample) error {
	if rs == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	c := &cycle{st: a.store}

	if rs.CPUs != nil {
		a.foldCPU(c, rs.CPUs)
	}
	if m := rs.Memory; m != nil {
		c.set(a.names.memTotal, float64(m.Total))
		c.set(a.names.memFree, float64(m.Free))
		c.set(a.names.memAvailable, float64(m.Available))
		c.set(a.names.memUsed, float64(m.Used))
	}
	if sw := rs.Swap; sw != nil {
		c.set(a.names.swapTotal, float64(sw.Total))
		c.set(a.names.swapFree, float64(sw.Free))
		c.set(a.names.swapUsed, float64(sw.Used))
	}
	if rs.Processes != nil {
		a.foldProcesses(c, rs.Processes)
	}
	if rs.Networks != nil {
		a.foldNetworks(c, rs.Networks)
	}
	if ld := rs.Load; ld != nil {
		c.set(a.names.load1, ld.Load1)
		c.set(a.names.load5, ld.Load5)
		c.set(a.names.load15, ld.Load15)
		c.set(a.names.uptime, ld.Uptime)
	}

	return errors.Join(c.errs...)
}

func (a *Aggregator) foldCPU(c *cycle, cpus []sampler.CPUSample) {
	for _, cs := range cpus {
		core := strconv.Itoa(cs.Core)
		if a.cfg.CPUMode == CPUModeUsage {
			c.set(a.names.cpuUsage, cs.UsagePercent, core)
			continue
		}
		modes := [...]struct {
			mode  string
			value float64
		}{
			{"user", cs.User},
			{"system", cs.System},
			{"nice", cs.Nice},
			{"idle", cs.Idle},
		}
		for _, m := range modes {
			c.inc(a.names.cpuSeconds, a.cpuDelta(cpuKey{cs.Core, m.mode}, m.value), core, m.mode)
		}
	}
}

// cpuDelta turns an absolute cumulative OS value into an increment. The first
// observation contributes the whole value so the counter tracks time since
// boot; a value that went backwards (reboot, CPU hotplug) only re-baselines.
func (a *Aggregator) cpuDelta(k cpuKey, value float64) float64 {
	prev, ok := a.lastCPU[k]
	a.lastCPU[k] = value
	switch {
	case !ok:
		return value
	case value < prev:
		return 0
	default:
		return value - prev
	}
}

type procGroup struct {
	cpu       float64
	resident  float64
	virtual   float64
	start     float64
	runtime   float64
	instances int
	read      float64
	write     float64
}

func (a *Aggregator) foldProcesses(c *cycle, procs map[int32]sampler.ProcessSample) {
	groups := make(map[string]*procGroup)
	seen := make(map[procKey]struct{}, len(procs))

	for _, ps := range procs {
		if !validName(ps.Name) {
			continue
		}
		g, ok := groups[ps.Name]
		if !ok {
			g = &procGroup{start: ps.StartTime, runtime: ps.RunTime}
			groups[ps.Name] = g
		}
		g.cpu += ps.CPUPercent
		g.resident += float64(ps.ResidentBytes)
		g.virtual += float64(ps.VirtualBytes)
		g.start = min(g.start, ps.StartTime)
		g.runtime = max(g.runtime, ps.RunTime)
		g.instances++

		key := procKey{pid: ps.PID, start: ps.StartTime}
		seen[key] = struct{}{}
		if ps.HasIO {
			read, write := a.ioDelta(key, ps.DiskReadBytes, ps.DiskWrittenBytes)
			g.read += float64(read)
			g.write += float64(write)
		}
	}

	for k := range a.lastIO {
		if _, ok := seen[k]; !ok {
			delete(a.lastIO, k)
		}
	}

	for _, name := range a.names.processGauges() {
		c.reset(name)
	}
	for name, g := range groups {
		c.set(a.names.procCPU, g.cpu, name)
		c.set(a.names.procMemory, g.resident, name)
		c.set(a.names.procVirtual, g.virtual, name)
		c.set(a.names.procStart, g.start, name)
		c.set(a.names.procRuntime, g.runtime, name)
		c.set(a.names.procInstances, float64(g.instances), name)
		c.inc(a.names.procDiskRead, g.read, name)
		c.inc(a.names.procDiskWrite, g.write, name)
	}
}

// ioDelta returns the bytes a process moved since it was last observed. A
// newly seen process contributes its whole history; a decrease is treated as
// a fresh counter.
func (a *Aggregator) ioDelta(k procKey, read, write uint64) (uint64, uint64) {
	prev, ok := a.lastIO[k]
	a.lastIO[k] = ioTotals{read: read, write: write}
	if !ok {
		return read, write
	}
	return sinceLast(read, prev.read), sinceLast(write, prev.write)
}

func sinceLast(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func (a *Aggregator) foldNetworks(c *cycle, nets map[string]sampler.InterfaceSample) {
	for name, n := range nets {
		d := n.Delta
		c.inc(a.names.netRxBytes, float64(d.BytesReceived), name)
		c.inc(a.names.netTxBytes, float64(d.BytesTransmitted), name)
		c.inc(a.names.netRxPackets, float64(d.PacketsReceived), name)
		c.inc(a.names.netTxPackets, float64(d.PacketsTransmitted), name)
		c.inc(a.names.netRxErrors, float64(d.ErrorsReceived), name)
		c.inc(a.names.netTxErrors, float64(d.ErrorsTransmitted), name)
	}
}

// validName rejects processes whose name is missing or not decodable as text.
func validName(name string) bool {
	return name != "" && utf8.ValidString(name)
}

// Names exposes the fully-qualified metric names, mainly for tests and the
// landing page.
func (a *Aggregator) Names() []string {
	descs := a.names.descs(a.cfg.CPUMode)
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}
