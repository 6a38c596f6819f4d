package aggregator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/simon/internal/store"
)

// families holds the fully-qualified names of every metric the aggregator
// writes.
type families struct {
	cpuUsage   string
	cpuSeconds string

	memTotal     string
	memFree      string
	memAvailable string
	memUsed      string

	swapTotal string
	swapFree  string
	swapUsed  string

	procCPU       string
	procMemory    string
	procVirtual   string
	procStart     string
	procRuntime   string
	procInstances string
	procDiskRead  string
	procDiskWrite string

	netRxBytes   string
	netTxBytes   string
	netRxPackets string
	netTxPackets string
	netRxErrors  string
	netTxErrors  string

	load1  string
	load5  string
	load15 string
	uptime string
}

// processGauges are rebuilt from scratch every cycle.
func (f families) processGauges() []string {
	return []string{f.procCPU, f.procMemory, f.procVirtual, f.procStart, f.procRuntime, f.procInstances}
}

func newFamilies(ns string) families {
	fq := func(sub, name string) string { return prometheus.BuildFQName(ns, sub, name) }
	return families{
		cpuUsage:   fq("cpu", "usage_percentage"),
		cpuSeconds: fq("cpu", "seconds_total"),

		memTotal:     fq("memory", "total_bytes"),
		memFree:      fq("memory", "free_bytes"),
		memAvailable: fq("memory", "available_bytes"),
		memUsed:      fq("memory", "used_bytes"),

		swapTotal: fq("swap", "total_bytes"),
		swapFree:  fq("swap", "free_bytes"),
		swapUsed:  fq("swap", "used_bytes"),

		procCPU:       fq("process", "cpu_usage_percentage"),
		procMemory:    fq("process", "memory_bytes"),
		procVirtual:   fq("process", "virtual_memory_bytes"),
		procStart:     fq("process", "start_time_seconds"),
		procRuntime:   fq("process", "runtime_seconds"),
		procInstances: fq("process", "instances"),
		procDiskRead:  fq("process", "disk_read_bytes_total"),
		procDiskWrite: fq("process", "disk_write_bytes_total"),

		netRxBytes:   fq("network", "received_bytes_total"),
		netTxBytes:   fq("network", "transmitted_bytes_total"),
		netRxPackets: fq("network", "packets_received_total"),
		netTxPackets: fq("network", "packets_transmitted_total"),
		netRxErrors:  fq("network", "errors_on_received_total"),
		netTxErrors:  fq("network", "errors_on_transmitted_total"),

		load1:  fq("", "load1"),
		load5:  fq("", "load5"),
		load15: fq("", "load15"),
		uptime: fq("", "uptime_seconds"),
	}
}

func (f families) descs(mode CPUMode) []store.Desc {
	gauge := func(name, help string, labels ...string) store.Desc {
		return store.Desc{Name: name, Help: help, Kind: store.KindGauge, Labels: labels}
	}
	counter := func(name, help string, labels ...string) store.Desc {
		return store.Desc{Name: name, Help: help, Kind: store.KindCounter, Labels: labels}
	}

	var out []store.Desc
	switch mode {
	case CPUModeSeconds:
		out = append(out, counter(f.cpuSeconds, "Seconds the CPUs spent in each mode.", "core", "mode"))
	default:
		out = append(out, gauge(f.cpuUsage, "CPU usage percentage per core.", "core"))
	}

	return append(out,
		gauge(f.memTotal, "Total physical memory in bytes."),
		gauge(f.memFree, "Free physical memory in bytes."),
		gauge(f.memAvailable, "Available physical memory in bytes."),
		gauge(f.memUsed, "Used physical memory in bytes."),

		gauge(f.swapTotal, "Total swap memory in bytes."),
		gauge(f.swapFree, "Free swap memory in bytes."),
		gauge(f.swapUsed, "Used swap memory in bytes."),

		gauge(f.procCPU, "CPU usage percentage per process name (summed across instances).", "name"),
		gauge(f.procMemory, "Resident memory per process name in bytes (summed across instances).", "name"),
		gauge(f.procVirtual, "Virtual memory per process name in bytes (summed across instances).", "name"),
		gauge(f.procStart, "Earliest start time of any process with this name, in unix seconds.", "name"),
		gauge(f.procRuntime, "Longest run time of any process with this name, in seconds.", "name"),
		gauge(f.procInstances, "Number of running processes with this name.", "name"),
		counter(f.procDiskRead, "Bytes read from disk by processes with this name.", "name"),
		counter(f.procDiskWrite, "Bytes written to disk by processes with this name.", "name"),

		counter(f.netRxBytes, "Total number of bytes received, per network interface.", "interface"),
		counter(f.netTxBytes, "Total number of bytes transmitted, per network interface.", "interface"),
		counter(f.netRxPackets, "Total number of packets received, per network interface.", "interface"),
		counter(f.netTxPackets, "Total number of packets transmitted, per network interface.", "interface"),
		counter(f.netRxErrors, "Total number of errors on received packets, per network interface.", "interface"),
		counter(f.netTxErrors, "Total number of errors on transmitted packets, per network interface.", "interface"),

		gauge(f.load1, "1m load average."),
		gauge(f.load5, "5m load average."),
		gauge(f.load15, "15m load average."),
		gauge(f.uptime, "Seconds since boot."),
	)
}

func (f families) register(st *store.Store, mode CPUMode) error {
	for _, d := range f.descs(mode) {
		if err := st.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return nil
}
