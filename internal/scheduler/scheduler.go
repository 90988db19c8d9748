// Package scheduler runs a function on a fixed interval until stopped.
// The outreach service uses it for the recurring reconciliation pass.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithName labels the scheduler's log lines.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithInitialDelay postpones the first pass after Start. The default is an
// immediate pass.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.initialDelay = max(d, 0) }
}

// Status is a snapshot reported to the operator.
type Status struct {
	Running      bool       `json:"running"`
	Interval     string     `json:"interval"`
	Ticks        int64      `json:"ticks"`
	Panics       int64      `json:"panics,omitempty"`
	LastTick     *time.Time `json:"lastTick,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
}

// Scheduler runs tickFn repeatedly. The interval is measured from the end
// of one pass to the start of the next, so a slow pass never overlaps or
// queues up the following one.
type Scheduler struct {
	interval     time.Duration
	initialDelay time.Duration
	tickFn       func(context.Context)
	name         string
	logger       *slog.Logger

	running      atomic.Bool
	ticks        atomic.Int64
	panics       atomic.Int64
	lastTick     atomic.Pointer[time.Time]
	lastDuration atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context), opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	s := &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		name:     "scheduler",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("scheduler", s.name)
	return s, nil
}

// Start launches the loop. It returns false if it is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("scheduler started", "interval", s.interval.String(), "initial_delay", s.initialDelay.String())
	return true
}

// Stop cancels the running pass, if any, and waits for the loop to exit.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped", "ticks", s.ticks.Load())
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
		Panics:   s.panics.Load(),
		LastTick: s.lastTick.Load(),
	}
	if st.LastTick != nil {
		st.LastDuration = time.Duration(s.lastDuration.Load()).String()
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.pass(ctx)
		timer.Reset(s.interval)
	}
}

// pass runs tickFn once. A panic is logged and counted; the loop goes on.
func (s *Scheduler) pass(ctx context.Context) {
	start := time.Now()
	s.ticks.Add(1)
	s.lastTick.Store(&start)
	defer func() {
		elapsed := time.Since(start)
		s.lastDuration.Store(int64(elapsed))
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("scheduler pass panicked", "panic", r)
			return
		}
		s.logger.Debug("scheduler pass completed", "duration_ms", elapsed.Milliseconds())
	}()
	s.tickFn(ctx)
}
