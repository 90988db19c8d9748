// Package pacing spaces out sends the way a person working through a list
// would: an irregular pause before each action and a longer break after a
// run of consecutive actions.
package pacing

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const defaultTick = time.Second

type Profile struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	// BreakEvery is the number of consecutive actions after which a break
	// replaces the regular delay. Zero disables breaks.
	BreakEvery int
	BreakMin   time.Duration
	BreakMax   time.Duration

	// Tick is how often a running wait reports its countdown and polls
	// for cancellation.
	Tick time.Duration
}

func (p Profile) Validate() error {
	var errs []error
	if p.MinDelay <= 0 {
		errs = append(errs, errors.New("pacing: min delay must be > 0"))
	}
	if p.MaxDelay < p.MinDelay {
		errs = append(errs, errors.New("pacing: max delay must be >= min delay"))
	}
	if p.BreakEvery < 0 {
		errs = append(errs, errors.New("pacing: break cadence must be >= 0"))
	}
	if p.BreakEvery > 0 && (p.BreakMin < p.MaxDelay || p.BreakMax < p.BreakMin) {
		errs = append(errs, errors.New("pacing: break bounds must satisfy max delay <= break min <= break max"))
	}
	if p.Tick < 0 {
		errs = append(errs, errors.New("pacing: tick must be >= 0"))
	}
	return errors.Join(errs...)
}

type Delay struct {
	Duration time.Duration
	IsBreak  bool
}

type Countdown struct {
	Remaining time.Duration
	IsBreak   bool
}

type Outcome int

const (
	Elapsed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	if o == Cancelled {
		return "cancelled"
	}
	return "elapsed"
}

type Option func(*Engine)

// WithRand replaces the random source. n returns a value in [0, max).
func WithRand(n func(max int64) int64) Option {
	return func(e *Engine) { e.randN = n }
}

type Engine struct {
	profile Profile
	randN   func(int64) int64
}

func New(p Profile, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Tick == 0 {
		p.Tick = defaultTick
	}
	e := &Engine{
		profile: p,
		randN:   rand.Int64N,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Profile() Profile { return e.profile }

// Next picks the pause before the next action given how many actions were
// taken since the last break. It returns the counter to carry forward,
// which is reset to zero when a break is chosen.
func (e *Engine) Next(sinceBreak int) (Delay, int) {
	p := e.profile
	if p.BreakEvery > 0 && sinceBreak >= p.BreakEvery {
		return Delay{Duration: e.between(p.BreakMin, p.BreakMax), IsBreak: true}, 0
	}
	return Delay{Duration: e.between(p.MinDelay, p.MaxDelay)}, sinceBreak
}

func (e *Engine) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.randN(int64(hi-lo)+1))
}

// Wait blocks for d, calling onTick with the remaining time on every tick.
// cancelled is polled before the wait and on every tick; when it reports
// true, or ctx is done, Wait returns Cancelled straight away.
func (e *Engine) Wait(ctx context.Context, d Delay, cancelled func() bool, onTick func(Countdown)) Outcome {
	stop := func() bool {
		return ctx.Err() != nil || (cancelled != nil && cancelled())
	}
	if stop() {
		return Cancelled
	}

	deadline := time.Now().Add(d.Duration)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Elapsed
		}
		if onTick != nil {
			onTick(Countdown{Remaining: remaining, IsBreak: d.IsBreak})
		}

		step := min(e.profile.Tick, remaining)
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Cancelled
		case <-timer.C:
		}
		if stop() {
			return Cancelled
		}
	}
}
