package sampler

import "time"

// RawSample is one point-in-time reading of host state. A nil pointer or nil
// map means that source could not be read this cycle.
type RawSample struct {
	Timestamp time.Time
	CPUs      []CPUSample
	Memory    *MemorySample
	Swap      *SwapSample
	Processes map[int32]ProcessSample
	Networks  map[string]InterfaceSample
	Load      *LoadSample
}

// CPUSample holds cumulative CPU seconds per mode for one core since boot,
// plus the busy percentage since the previous sample.
type CPUSample struct {
	Core         int
	User         float64
	System       float64
	Nice         float64
	Idle         float64
	UsagePercent float64
}

// MemorySample is physical memory in bytes.
type MemorySample struct {
	Total     uint64
	Free      uint64
	Available uint64
	Used      uint64
}

// SwapSample is swap space in bytes.
type SwapSample struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// ProcessSample is one process as seen in one sample. Disk counters are
// cumulative since the process started and only meaningful when HasIO is set.
type ProcessSample struct {
	PID              int32
	Name             string
	StartTime        float64 // unix seconds
	RunTime          float64 // seconds
	CPUPercent       float64
	ResidentBytes    uint64
	VirtualBytes     uint64
	DiskReadBytes    uint64
	DiskWrittenBytes uint64
	HasIO            bool
}

// NetCounters are per-interface packet and byte counts.
type NetCounters struct {
	BytesReceived      uint64
	BytesTransmitted   uint64
	PacketsReceived    uint64
	PacketsTransmitted uint64
	ErrorsReceived     uint64
	ErrorsTransmitted  uint64
}

// InterfaceSample carries an interface's cumulative counters and the increase
// since the sampler's previous refresh.
type InterfaceSample struct {
	Name  string
	Total NetCounters
	Delta NetCounters
}

// LoadSample holds load averages and uptime.
type LoadSample struct {
	Load1  float64
	Load5  float64
	Load15 float64
	Uptime float64 // seconds
	Procs  uint64
}

// sub returns c - prev per field. A field that went backwards is treated as a
// counter reset and reports its current value.
func (c NetCounters) sub(prev NetCounters) NetCounters {
	d := func(cur, old uint64) uint64 {
		if cur < old {
			return cur
		}
		return cur - old
	}
	return NetCounters{
		BytesReceived:      d(c.BytesReceived, prev.BytesReceived),
		BytesTransmitted:   d(c.BytesTransmitted, prev.BytesTransmitted),
		PacketsReceived:    d(c.PacketsReceived, prev.PacketsReceived),
		PacketsTransmitted: d(c.PacketsTransmitted, prev.PacketsTransmitted),
		ErrorsReceived:     d(c.ErrorsReceived, prev.ErrorsReceived),
		ErrorsTransmitted:  d(c.ErrorsTransmitted, prev.ErrorsTransmitted),
	}
}
