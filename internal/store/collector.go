package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Compile-time interface guard.
var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes a Store to a prometheus.Registry. Families must be
// registered on the Store before the Collector is registered, since the
// registry checks collected metrics against the descriptors it was given.
type Collector struct {
	store *Store

	mu    sync.Mutex
	descs map[string]*prometheus.Desc
}

// NewCollector wraps st.
func NewCollector(st *Store) *Collector {
	return &Collector{
		store: st,
		descs: make(map[string]*prometheus.Desc),
	}
}

func (c *Collector) desc(d Desc) *prometheus.Desc {
	c.mu.Lock()
	defer c.mu.Unlock()
	pd, ok := c.descs[d.Name]
	if !ok {
		pd = prometheus.NewDesc(d.Name, d.Help, d.Labels, nil)
		c.descs[d.Name] = pd
	}
	return pd
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.store.Descs() {
		ch <- c.desc(d)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.store.Snapshot() {
		labelNames := make([]string, len(s.Labels))
		labelValues := make([]string, len(s.Labels))
		for i, l := range s.Labels {
			labelNames[i] = l.Name
			labelValues[i] = l.Value
		}
		pd := c.desc(Desc{Name: s.Name, Help: s.Help, Labels: labelNames})

		vt := prometheus.GaugeValue
		if s.Kind == KindCounter {
			vt = prometheus.CounterValue
		}
		m, err := prometheus.NewConstMetric(pd, vt, s.Value, labelValues...)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(pd, err)
			continue
		}
		ch <- m
	}
}
