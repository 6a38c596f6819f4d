// Package scheduler drives the sample-then-aggregate collection loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/simon/internal/sampler"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is running or stopping.
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrNotRunning is returned by Stop on a scheduler that was never started.
	ErrNotRunning = errors.New("scheduler not running")
)

// Sampler reads one raw sample from the host.
type Sampler interface {
	Sample(ctx context.Context) (*sampler.RawSample, error)
}

// Aggregator folds a raw sample into the metric store.
type Aggregator interface {
	Aggregate(rs *sampler.RawSample) error
}

// State is the lifecycle state of a Scheduler.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures the collection loop.
type Config struct {
	Interval  time.Duration
	Namespace string
}

// DefaultConfig returns a 5 second interval in the simon namespace.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, Namespace: "simon"}
}

// Scheduler runs one collection cycle per interval until stopped. Cycles are
// never interrupted: a stop request is only observed between cycles.
type Scheduler struct {
	sampler Sampler
	agg     Aggregator
	cfg     Config
	logger  *zap.Logger
	metrics *metrics

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}

	lastCycle atomic.Int64
}

// New creates an idle Scheduler.
func New(smp Sampler, agg Aggregator, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	return &Scheduler{
		sampler: smp,
		agg:     agg,
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(cfg.Namespace),
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastCycle returns when the most recent cycle finished, or the zero time if
// none has.
func (s *Scheduler) LastCycle() time.Time {
	ns := s.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start launches the loop on its own goroutine and returns immediately. The
// first cycle runs without waiting for the interval. Cancelling ctx has the
// same effect as Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning || s.state == StateStopping {
		return ErrAlreadyRunning
	}

	s.state = StateRunning
	s.stop = make(chan struct{})
	s.stopOnce = new(sync.Once)
	s.done = make(chan struct{})

	s.logger.Info("collection loop starting", zap.Duration("interval", s.cfg.Interval))
	go s.run(ctx, s.stop, s.done)
	return nil
}

// Stop signals the loop to exit and waits for the in-flight cycle to finish or
// ctx to expire. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotRunning
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
	}
	s.stopOnce.Do(func() { close(s.stop) })
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for collection loop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(done)
		s.logger.Info("collection loop stopped")
	}()

	// Cycles must not be cancelled halfway through a fold.
	cycleCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.cycle(cycleCtx)

		timer.Reset(s.cfg.Interval)
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// cycle runs one sample and aggregate pass. Failures are logged and counted;
// a panic is recovered so the loop keeps going.
func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collection cycle panicked", zap.Any("panic", r))
			s.metrics.errors.WithLabelValues(stagePanic).Inc()
		}
		s.metrics.duration.Observe(time.Since(start).Seconds())
		s.metrics.cycles.Inc()
		s.lastCycle.Store(time.Now().UnixNano())
	}()

	rs, err := s.sampler.Sample(ctx)
	if err != nil {
		failed := sampler.FailedSources(err)
		if len(failed) == 0 {
			failed = []string{stageSample}
		}
		for _, src := range failed {
			s.metrics.errors.WithLabelValues(src).Inc()
		}
		s.logger.Warn("sampling incomplete", zap.Strings("sources", failed), zap.Error(err))
	}
	if rs == nil {
		return
	}

	if err := s.agg.Aggregate(rs); err != nil {
		s.metrics.errors.WithLabelValues(stageAggregate).Inc()
		s.logger.Error("aggregation failed", zap.Error(err))
	}
}
