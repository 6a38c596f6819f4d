// Package store holds the named, labeled gauge and counter series that the
// aggregator writes once per cycle and scrape requests read concurrently.
//
// A single series update is atomic. Snapshot does not present a consistent view
// across series: a scrape may observe some series from an in-progress cycle and
// others from the previous one.
package store

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Errors returned by Store operations.
var (
	ErrDuplicateMetric = errors.New("metric already registered")
	ErrUnknownMetric   = errors.New("metric not registered")
	ErrInvalidName     = errors.New("invalid metric or label name")
	ErrLabelMismatch   = errors.New("label value count does not match family")
	ErrWrongKind       = errors.New("operation not supported for metric kind")
	ErrInvalidDelta    = errors.New("counter delta must be non-negative")
)

// Kind distinguishes last-write-wins gauges from monotonic counters.
type Kind int

const (
	KindGauge Kind = iota
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Desc describes a metric family.
type Desc struct {
	Name   string
	Help   string
	Kind   Kind
	Labels []string
}

// Label is one key/value pair of a series identity.
type Label struct {
	Name  string
	Value string
}

// Sample is one series value as returned by Snapshot.
type Sample struct {
	Name   string
	Help   string
	Kind   Kind
	Labels []Label
	Value  float64
}

// Series is a handle to a single labeled value. Handles stay valid after
// ResetFamily but writes to them are no longer visible in snapshots.
type Series struct {
	kind        Kind
	labelValues []string
	bits        atomic.Uint64
}

// Value returns the current value.
func (s *Series) Value() float64 {
	return math.Float64frombits(s.bits.Load())
}

func (s *Series) set(v float64) {
	s.bits.Store(math.Float64bits(v))
}

func (s *Series) add(delta float64) {
	for {
		oldBits := s.bits.Load()
		newBits := math.Float64bits(math.Float64frombits(oldBits) + delta)
		if s.bits.CompareAndSwap(oldBits, newBits) {
			return
		}
	}
}

type family struct {
	desc Desc

	mu     sync.RWMutex
	series map[string]*Series
}

// Store is the registry of metric families. It is safe for concurrent use;
// the intended pattern is one writer (the aggregator) and many readers.
type Store struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		families: make(map[string]*family),
	}
}

// Register adds a metric family. Registering the same name twice fails with
// ErrDuplicateMetric.
func (s *Store) Register(d Desc) error {
	if !metricNameRE.MatchString(d.Name) {
		return fmt.Errorf("metric %q: %w", d.Name, ErrInvalidName)
	}
	seen := make(map[string]struct{}, len(d.Labels))
	for _, l := range d.Labels {
		if !labelNameRE.MatchString(l) || strings.HasPrefix(l, "__") {
			return fmt.Errorf("metric %q label %q: %w", d.Name, l, ErrInvalidName)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("metric %q label %q repeated: %w", d.Name, l, ErrInvalidName)
		}
		seen[l] = struct{}{}
	}
	if d.Kind != KindGauge && d.Kind != KindCounter {
		return fmt.Errorf("metric %q: %w", d.Name, ErrWrongKind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.families[d.Name]; exists {
		return fmt.Errorf("metric %q: %w", d.Name, ErrDuplicateMetric)
	}
	d.Labels = append([]string(nil), d.Labels...)
	s.families[d.Name] = &family{desc: d, series: make(map[string]*Series)}
	s.order = append(s.order, d.Name)
	return nil
}

// Descs returns the registered family descriptions in registration order.
func (s *Store) Descs() []Desc {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Desc, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.families[name].desc)
	}
	return out
}

func (s *Store) family(name string) (*family, error) {
	s.mu.RLock()
	f, ok := s.families[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("metric %q: %w", name, ErrUnknownMetric)
	}
	return f, nil
}

// GetOrCreate returns the series identified by name and labelValues, creating
// it with a zero value on first use.
func (s *Store) GetOrCreate(name string, labelValues ...string) (*Series, error) {
	f, err := s.family(name)
	if err != nil {
		return nil, err
	}
	if len(labelValues) != len(f.desc.Labels) {
		return nil, fmt.Errorf("metric %q: got %d label values, want %d: %w",
			name, len(labelValues), len(f.desc.Labels), ErrLabelMismatch)
	}

	key := seriesKey(labelValues)

	f.mu.RLock()
	sr, ok := f.series[key]
	f.mu.RUnlock()
	if ok {
		return sr, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if sr, ok := f.series[key]; ok {
		return sr, nil
	}
	sr = &Series{kind: f.desc.Kind, labelValues: append([]string(nil), labelValues...)}
	f.series[key] = sr
	return sr, nil
}

// Set overwrites a gauge value.
func (s *Store) Set(sr *Series, value float64) error {
	if sr.kind != KindGauge {
		return fmt.Errorf("set on %s: %w", sr.kind, ErrWrongKind)
	}
	sr.set(value)
	return nil
}

// Increment adds delta to a counter. Negative or NaN deltas are rejected with
// ErrInvalidDelta and leave the counter unchanged.
func (s *Store) Increment(sr *Series, delta float64) error {
	if sr.kind != KindCounter {
		return fmt.Errorf("increment on %s: %w", sr.kind, ErrWrongKind)
	}
	if delta < 0 || math.IsNaN(delta) {
		return fmt.Errorf("delta %v: %w", delta, ErrInvalidDelta)
	}
	if delta == 0 {
		return nil
	}
	sr.add(delta)
	return nil
}

// ResetFamily drops every label instance of the named family.
func (s *Store) ResetFamily(name string) error {
	f, err := s.family(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.series = make(map[string]*Series)
	f.mu.Unlock()
	return nil
}

// Snapshot copies every series, ordered by metric name and then label values.
// It holds each family's read lock only while copying that family.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	fams := make([]*family, 0, len(s.families))
	for _, f := range s.families {
		fams = append(fams, f)
	}
	s.mu.RUnlock()

	sort.Slice(fams, func(i, j int) bool { return fams[i].desc.Name < fams[j].desc.Name })

	var out []Sample
	for _, f := range fams {
		f.mu.RLock()
		series := make([]*Series, 0, len(f.series))
		for _, sr := range f.series {
			series = append(series, sr)
		}
		f.mu.RUnlock()

		sort.Slice(series, func(i, j int) bool {
			return lessLabels(series[i].labelValues, series[j].labelValues)
		})

		for _, sr := range series {
			labels := make([]Label, len(f.desc.Labels))
			for i, ln := range f.desc.Labels {
				labels[i] = Label{Name: ln, Value: sr.labelValues[i]}
			}
			out = append(out, Sample{
				Name:   f.desc.Name,
				Help:   f.desc.Help,
				Kind:   f.desc.Kind,
				Labels: labels,
				Value:  sr.Value(),
			})
		}
	}
	return out
}

// Lookup returns the current value of one series without creating it.
func (s *Store) Lookup(name string, labelValues ...string) (float64, bool) {
	f, err := s.family(name)
	if err != nil {
		return 0, false
	}
	f.mu.RLock()
	sr, ok := f.series[seriesKey(labelValues)]
	f.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return sr.Value(), true
}

// Len returns the number of live series in the named family.
func (s *Store) Len(name string) int {
	f, err := s.family(name)
	if err != nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.series)
}

// seriesKey joins label values with a byte that cannot appear in valid UTF-8.
func seriesKey(values []string) string {
	return strings.Join(values, "\xff")
}

func lessLabels(a, b []string) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
