package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HerbHall/simon/internal/sampler"
	"github.com/HerbHall/simon/internal/testutil"
)

type fakeSampler struct {
	calls  atomic.Int32
	called chan struct{}
	err    error
	panics bool
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{called: make(chan struct{}, 64)}
}

func (f *fakeSampler) Sample(context.Context) (*sampler.RawSample, error) {
	f.calls.Add(1)
	defer func() {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}()
	if f.panics {
		panic("sampler exploded")
	}
	return testutil.NewSample(), f.err
}

type fakeAggregator struct {
	mu   sync.Mutex
	seen int
	err  error
}

func (f *fakeAggregator) Aggregate(*sampler.RawSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen++
	return f.err
}

func (f *fakeAggregator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

func waitCall(t *testing.T, f *fakeSampler) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a collection cycle")
	}
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStart_RunsCyclesOnInterval(t *testing.T) {
	smp, agg := newFakeSampler(), &fakeAggregator{}
	s := New(smp, agg, Config{Interval: 10 * time.Millisecond}, testutil.Logger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 3 {
		waitCall(t, smp)
	}
	stop(t, s)

	if agg.count() < 3 {
		t.Errorf("aggregated %d samples, want >= 3", agg.count())
	}
	if s.LastCycle().IsZero() {
		t.Error("LastCycle should be set after a cycle")
	}
	if got := promtestutil.ToFloat64(s.metrics.cycles); got < 3 {
		t.Errorf("cycles_total = %v, want >= 3", got)
	}
}

func TestStart_TwiceReturnsErrAlreadyRunning(t *testing.T) {
	smp := newFakeSampler()
	s := New(smp, &fakeAggregator{}, Config{Interval: 10 * time.Millisecond}, testutil.Logger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	// The original loop is unaffected.
	waitCall(t, smp)
	waitCall(t, smp)
	if s.State() != StateRunning {
		t.Errorf("State = %v, want running", s.State())
	}
	stop(t, s)
}

func TestStop_DuringSleepSkipsNextSample(t *testing.T) {
	smp := newFakeSampler()
	s := New(smp, &fakeAggregator{}, Config{Interval: time.Hour}, testutil.Logger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCall(t, smp)

	start := time.Now()
	stop(t, s)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, should interrupt the sleep", elapsed)
	}
	if got := smp.calls.Load(); got != 1 {
		t.Errorf("Sample called %d times, want 1", got)
	}
	if s.State() != StateStopped {
		t.Errorf("State = %v, want stopped", s.State())
	}
}

func TestStop_Lifecycle(t *testing.T) {
	s := New(newFakeSampler(), &fakeAggregator{}, Config{Interval: time.Hour}, testutil.Logger())

	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop on idle = %v, want ErrNotRunning", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop(t, s)
	stop(t, s) // no-op once stopped

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart from stopped: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State after restart = %v, want running", s.State())
	}
	stop(t, s)
}

func TestStop_WaitsForInFlightCycle(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	smp := &blockingSampler{entered: entered, release: release}
	s := New(smp, &fakeAggregator{}, Config{Interval: time.Hour}, testutil.Logger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop with expired ctx = %v, want deadline exceeded", err)
	}
	if s.State() != StateStopping {
		t.Errorf("State = %v, want stopping", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start while stopping = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	stop(t, s)
	if !smp.completed.Load() {
		t.Error("in-flight cycle should have completed")
	}
}

type blockingSampler struct {
	entered   chan struct{}
	release   chan struct{}
	completed atomic.Bool
}

func (b *blockingSampler) Sample(ctx context.Context) (*sampler.RawSample, error) {
	close(b.entered)
	<-b.release
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	b.completed.Store(true)
	return testutil.NewSample(), nil
}

func TestContextCancelStopsLoop(t *testing.T) {
	smp := newFakeSampler()
	s := New(smp, &fakeAggregator{}, Config{Interval: time.Hour}, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCall(t, smp)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("State = %v, want stopped after cancel", s.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCycle_PanicIsRecovered(t *testing.T) {
	smp := newFakeSampler()
	smp.panics = true
	s := New(smp, &fakeAggregator{}, Config{Interval: 5 * time.Millisecond}, testutil.Logger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCall(t, smp)
	waitCall(t, smp)
	stop(t, s)

	if got := promtestutil.ToFloat64(s.metrics.errors.WithLabelValues(stagePanic)); got < 2 {
		t.Errorf("panic errors = %v, want >= 2", got)
	}
}

func TestCycle_ErrorsAreCountedAndLoopContinues(t *testing.T) {
	smp := newFakeSampler()
	smp.err = errors.Join(
		&sampler.SourceError{Source: sampler.SourceMemory, Err: errors.New("denied")},
		&sampler.SourceError{Source: sampler.SourceLoad, Err: errors.New("denied")},
	)
	agg := &fakeAggregator{err: errors.New("store rejected sample")}
	s := New(smp, agg, Config{Interval: time.Hour}, testutil.Logger())

	s.cycle(context.Background())
	s.cycle(context.Background())

	if agg.count() != 2 {
		t.Errorf("partial samples should still be aggregated, got %d", agg.count())
	}
	for stage, want := range map[string]float64{
		sampler.SourceMemory: 2,
		sampler.SourceLoad:   2,
		stageAggregate:       2,
	} {
		if got := promtestutil.ToFloat64(s.metrics.errors.WithLabelValues(stage)); got != want {
			t.Errorf("errors_total{stage=%q} = %v, want %v", stage, got, want)
		}
	}
}

func TestCycle_UnattributedSampleError(t *testing.T) {
	smp := newFakeSampler()
	smp.err = errors.New("unexpected")
	s := New(smp, &fakeAggregator{}, Config{}, testutil.Logger())

	s.cycle(context.Background())

	if got := promtestutil.ToFloat64(s.metrics.errors.WithLabelValues(stageSample)); got != 1 {
		t.Errorf("errors_total{stage=sample} = %v, want 1", got)
	}
}

func TestRegister(t *testing.T) {
	s := New(newFakeSampler(), &fakeAggregator{}, DefaultConfig(), testutil.Logger())
	reg := prometheus.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.cycle(context.Background())

	n, err := promtestutil.GatherAndCount(reg, "simon_collection_cycles_total", "simon_collection_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("gathered %d metrics, want 2", n)
	}
	if err := s.Register(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:     "idle",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateStopped:  "stopped",
		State(9):      "state(9)",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(st), got, want)
		}
	}
}
