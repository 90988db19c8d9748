// Package store keeps the operator's queue. The whole queue and the
// allowance counters live in one serialized document that is read in full
// and written in full on every mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/outreach-engine/internal/lattice"
	"github.com/LeventeLantos/outreach-engine/internal/model"
)

var (
	ErrItemNotFound     = errors.New("queue item not found")
	ErrDuplicateItem    = errors.New("queue item already exists")
	ErrTrackerImmutable = errors.New("tracker id cannot be changed once set")
)

// Backing persists the serialized state document. Load returns nil, nil
// when nothing has been saved yet.
type Backing interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

type document struct {
	Items     []model.QueueItem       `json:"items"`
	Allowance model.AllowanceCounters `json:"allowance"`
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store serializes all access behind a single lock, so concurrent writers
// see last-writer-wins on whole passes and never a torn collection.
type Store struct {
	backing Backing
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

func New(b Backing, opts ...Option) *Store {
	s := &Store{
		backing: b,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) load(ctx context.Context) (*document, error) {
	raw, err := s.backing.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	doc := &document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *document) error {
	if doc.Items == nil {
		doc.Items = []model.QueueItem{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := s.backing.Save(ctx, raw); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// mutate runs fn over a freshly loaded document and persists it when fn
// reports a change.
func (s *Store) mutate(ctx context.Context, fn func(doc *document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(ctx, doc)
}

func (s *Store) List(ctx context.Context) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.QueueItem, error) {
	items, err := s.List(ctx)
	if err != nil {
		return model.QueueItem{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return model.QueueItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// ReplaceAll swaps the whole item collection. Allowance counters are kept.
func (s *Store) ReplaceAll(ctx context.Context, items []model.QueueItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return s.mutate(ctx, func(doc *document) (bool, error) {
		doc.Items = append([]model.QueueItem(nil), items...)
		return true, nil
	})
}

// Add appends new pending items, assigning ids where missing.
func (s *Store) Add(ctx context.Context, items ...model.QueueItem) ([]model.QueueItem, error) {
	added := make([]model.QueueItem, 0, len(items))
	err := s.mutate(ctx, func(doc *document) (bool, error) {
		existing := make(map[string]struct{}, len(doc.Items))
		for _, it := range doc.Items {
			existing[it.ID] = struct{}{}
		}
		now := s.now().UTC()
		for _, it := range items {
			if !it.MessageType.Valid() {
				return false, fmt.Errorf("invalid message type %q", it.MessageType)
			}
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			if _, dup := existing[it.ID]; dup {
				return false, fmt.Errorf("%w: %s", ErrDuplicateItem, it.ID)
			}
			existing[it.ID] = struct{}{}
			it.Status = model.Pending
			it.ErrorMessage = ""
			it.CreatedAt = now
			it.UpdatedAt = now
			added = append(added, it)
		}
		doc.Items = append(doc.Items, added...)
		return len(added) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Patch applies fn to a single item and persists the result immediately.
// A tracker id that is already set cannot be cleared or replaced.
func (s *Store) Patch(ctx context.Context, id string, fn func(*model.QueueItem) error) (model.QueueItem, error) {
	var out model.QueueItem
	err := s.mutate(ctx, func(doc *document) (bool, error) {
		for i := range doc.Items {
			if doc.Items[i].ID != id {
				continue
			}
			next := doc.Items[i]
			if err := fn(&next); err != nil {
				return false, err
			}
			if err := checkPatch(doc.Items[i], next); err != nil {
				return false, err
			}
			next.UpdatedAt = s.now().UTC()
			doc.Items[i] = next
			out = next
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	})
	return out, err
}

// Update runs fn over every item in one pass. fn returns true for items it
// changed; the document is written once if anything changed.
func (s *Store) Update(ctx context.Context, fn func(*model.QueueItem) bool) (int, error) {
	updated := 0
	err := s.mutate(ctx, func(doc *document) (bool, error) {
		now := s.now().UTC()
		for i := range doc.Items {
			next := doc.Items[i]
			if !fn(&next) {
				continue
			}
			if err := checkPatch(doc.Items[i], next); err != nil {
				s.logger.Warn("rejected queue item update", "item_id", next.ID, "error", err)
				continue
			}
			next.UpdatedAt = now
			doc.Items[i] = next
			updated++
		}
		return updated > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func checkPatch(prev, next model.QueueItem) error {
	if next.ID != prev.ID {
		return fmt.Errorf("queue item id cannot change: %s", prev.ID)
	}
	if prev.TrackerID != "" && next.TrackerID != prev.TrackerID {
		return fmt.Errorf("%w: %s", ErrTrackerImmutable, prev.ID)
	}
	return nil
}

// Retry resets a failed item to pending and clears its error. Nothing else
// on the item changes.
func (s *Store) Retry(ctx context.Context, id string) (model.QueueItem, error) {
	return s.Patch(ctx, id, func(it *model.QueueItem) error {
		if err := lattice.CheckRetry(it.Status); err != nil {
			return err
		}
		it.Status = model.Pending
		it.ErrorMessage = ""
		return nil
	})
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc *document) (bool, error) {
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	})
}

// Clear drops every item. Allowance counters survive a clear.
func (s *Store) Clear(ctx context.Context) (int, error) {
	var n int
	err := s.mutate(ctx, func(doc *document) (bool, error) {
		n = len(doc.Items)
		doc.Items = nil
		return n > 0, nil
	})
	return n, err
}

func (s *Store) Counters(ctx context.Context) (model.AllowanceCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return model.AllowanceCounters{}, err
	}
	return copyCounters(doc.Allowance), nil
}

// UpdateCounters applies fn to the allowance counters and persists them.
func (s *Store) UpdateCounters(ctx context.Context, fn func(*model.AllowanceCounters)) (model.AllowanceCounters, error) {
	var out model.AllowanceCounters
	err := s.mutate(ctx, func(doc *document) (bool, error) {
		c := copyCounters(doc.Allowance)
		fn(&c)
		doc.Allowance = c
		out = copyCounters(c)
		return true, nil
	})
	return out, err
}

func copyCounters(c model.AllowanceCounters) model.AllowanceCounters {
	out := model.AllowanceCounters{Day: c.Day, Counts: make(map[model.Kind]int, len(c.Counts))}
	for k, v := range c.Counts {
		out.Counts[k] = v
	}
	return out
}
