// Package allowance tracks how many sends of each outreach kind were made
// today against the configured daily caps.
package allowance

import (
	"context"
	"fmt"
	"time"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

const dayLayout = "2006-01-02"

// CounterStore persists the counters. *store.Store satisfies it.
type CounterStore interface {
	Counters(ctx context.Context) (model.AllowanceCounters, error)
	UpdateCounters(ctx context.Context, fn func(*model.AllowanceCounters)) (model.AllowanceCounters, error)
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

type Tracker struct {
	store CounterStore
	caps  map[model.Kind]int
	now   func() time.Time
}

func New(store CounterStore, caps map[model.Kind]int, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		caps:  make(map[model.Kind]int, len(caps)),
		now:   time.Now,
	}
	for k, v := range caps {
		t.caps[k] = v
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dayLayout)
}

// used reads today's count; counters from an earlier day count as zero.
func (t *Tracker) used(c model.AllowanceCounters, kind model.Kind) int {
	if c.Day != t.today() {
		return 0
	}
	return c.Counts[kind]
}

func (t *Tracker) Cap(kind model.Kind) int {
	return t.caps[kind]
}

func (t *Tracker) Remaining(ctx context.Context, kind model.Kind) (int, error) {
	c, err := t.store.Counters(ctx)
	if err != nil {
		return 0, err
	}
	return max(t.caps[kind]-t.used(c, kind), 0), nil
}

func (t *Tracker) CanSend(ctx context.Context, kind model.Kind) (bool, error) {
	n, err := t.Remaining(ctx, kind)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment records n successful sends of kind. Counters only ever grow
// within a day; the first increment of a new day starts from zero.
func (t *Tracker) Increment(ctx context.Context, kind model.Kind, n int) error {
	if n <= 0 {
		return fmt.Errorf("allowance: increment must be > 0, got %d", n)
	}
	today := t.today()
	_, err := t.store.UpdateCounters(ctx, func(c *model.AllowanceCounters) {
		if c.Day != today || c.Counts == nil {
			c.Day = today
			c.Counts = make(map[model.Kind]int, len(model.Kinds))
		}
		c.Counts[kind] += n
	})
	return err
}

func (t *Tracker) Snapshot(ctx context.Context) ([]model.AllowanceSnapshot, error) {
	c, err := t.store.Counters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.AllowanceSnapshot, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		used := t.used(c, k)
		out = append(out, model.AllowanceSnapshot{
			Kind:      k,
			Cap:       t.caps[k],
			Used:      used,
			Remaining: max(t.caps[k]-used, 0),
		})
	}
	return out, nil
}
