// Package reconcile aligns locally sent queue items with the status the
// backend tracker service (and, on a forced sync, the provider) reports
// for them. Items only ever move forward.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/LeventeLantos/outreach-engine/internal/lattice"
	"github.com/LeventeLantos/outreach-engine/internal/model"
)

var ErrSyncInProgress = errors.New("sync already in progress")

type QueueStore interface {
	List(ctx context.Context) ([]model.QueueItem, error)
	Update(ctx context.Context, fn func(*model.QueueItem) bool) (int, error)
}

// StatusSource is the backend's cached view of tracker records.
type StatusSource interface {
	StatusByProviders(ctx context.Context, providerIDs []string) ([]model.TrackerStatus, error)
	SyncConnections(ctx context.Context, providerIDs []string) error
}

// LiveStatus asks the provider directly whether invitations were accepted.
type LiveStatus interface {
	ConnectionStatus(ctx context.Context, providerIDs []string) (map[string]bool, error)
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLiveStatus enables the provider check performed by ForceSync.
func WithLiveStatus(live LiveStatus) Option {
	return func(r *Reconciler) { r.live = live }
}

type Reconciler struct {
	store  QueueStore
	source StatusSource
	live   LiveStatus
	logger *slog.Logger
	now    func() time.Time

	inFlight atomic.Bool
	last     atomic.Pointer[model.SyncResult]
}

func New(store QueueStore, source StatusSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		source: source,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sync is the recurring entry point. Errors are logged and the next
// interval tries again.
func (r *Reconciler) Sync(ctx context.Context) {
	res, err := r.run(ctx, false)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		r.logger.Debug("sync skipped, previous pass still running")
	case err != nil:
		r.logger.Warn("sync failed", "error", err)
	case res.Warning != "":
		r.logger.Warn("sync finished with warning", "checked", res.Checked, "updated", res.Updated, "warning", res.Warning)
	default:
		r.logger.Info("sync finished", "checked", res.Checked, "trackers", res.TrackersFound, "updated", res.Updated)
	}
}

// ForceSync is the operator entry point. A failure of the provider check,
// the connection re-sync or the status lookup is returned and no item is
// changed.
func (r *Reconciler) ForceSync(ctx context.Context) (model.SyncResult, error) {
	return r.run(ctx, true)
}

// Last returns the result of the most recent successful pass.
func (r *Reconciler) Last() (model.SyncResult, bool) {
	p := r.last.Load()
	if p == nil {
		return model.SyncResult{}, false
	}
	return *p, true
}

func eligible(it model.QueueItem) bool {
	return it.CanSend() && lattice.Tracked(it.Status) && !lattice.Terminal(it.Status)
}

func (r *Reconciler) run(ctx context.Context, forced bool) (model.SyncResult, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return model.SyncResult{}, ErrSyncInProgress
	}
	defer r.inFlight.Store(false)

	items, err := r.store.List(ctx)
	if err != nil {
		return model.SyncResult{}, err
	}

	var (
		ids     []string
		connIDs []string
		checked []model.QueueItem
		seen    = map[string]struct{}{}
	)
	for _, it := range items {
		if !eligible(it) {
			continue
		}
		checked = append(checked, it)
		if _, ok := seen[it.ProviderID]; ok {
			continue
		}
		seen[it.ProviderID] = struct{}{}
		ids = append(ids, it.ProviderID)
		if it.MessageType.Flow() == model.FlowConnection {
			connIDs = append(connIDs, it.ProviderID)
		}
	}

	now := r.now().UTC()
	res := model.SyncResult{At: now, Forced: forced, Checked: len(checked)}
	if len(checked) == 0 {
		r.last.Store(&res)
		return res, nil
	}

	var accepted map[string]bool
	if forced {
		if r.live != nil && len(connIDs) > 0 {
			live, err := r.live.ConnectionStatus(ctx, connIDs)
			if err != nil {
				return model.SyncResult{}, fmt.Errorf("live connection status: %w", err)
			}
			accepted = live
		}
		if err := r.source.SyncConnections(ctx, ids); err != nil {
			return model.SyncResult{}, fmt.Errorf("connection re-sync: %w", err)
		}
	}

	records, err := r.source.StatusByProviders(ctx, ids)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("tracker status: %w", err)
	}
	snapshot := index(records, seen)

	// A provider id counts as tracked only when the backend returned a
	// record carrying a tracker id for it.
	var gaps *multierror.Error
	for _, rec := range snapshot {
		if rec.TrackerID != "" {
			res.TrackersFound++
		}
	}
	for _, it := range checked {
		if rec, ok := snapshot[it.ProviderID]; ok && rec.TrackerID != "" {
			continue
		}
		res.Untracked++
		gaps = multierror.Append(gaps, fmt.Errorf("%s: no backend tracker", it.ID))
	}

	res.Updated, err = r.store.Update(ctx, func(it *model.QueueItem) bool {
		if !eligible(*it) {
			return false
		}
		rec, ok := snapshot[it.ProviderID]
		live := accepted[it.ProviderID]
		if !ok && !live {
			return false
		}
		return merge(it, rec, live, now)
	})
	if err != nil {
		return model.SyncResult{}, err
	}

	res.Warning = warning(res.Untracked)
	if gaps != nil {
		r.logger.Debug("untracked items", "detail", flatten(gaps))
	}
	r.last.Store(&res)
	return res, nil
}

// index keys records by provider id, ignoring ids that were not asked for.
// Duplicate records for one provider id are folded together.
func index(records []model.TrackerStatus, want map[string]struct{}) map[string]model.TrackerStatus {
	out := make(map[string]model.TrackerStatus, len(records))
	for _, rec := range records {
		if _, ok := want[rec.ProviderID]; !ok {
			continue
		}
		prev, dup := out[rec.ProviderID]
		if !dup {
			out[rec.ProviderID] = rec
			continue
		}
		ps, _ := lattice.ParseBackend(prev.Status)
		rs, _ := lattice.ParseBackend(rec.Status)
		if lattice.Rank(rs) > lattice.Rank(ps) {
			prev.Status = rec.Status
		}
		if prev.TrackerID == "" {
			prev.TrackerID = rec.TrackerID
		}
		if prev.AcceptedAt == nil {
			prev.AcceptedAt = rec.AcceptedAt
		}
		if prev.PitchSentAt == nil {
			prev.PitchSentAt = rec.PitchSentAt
		}
		out[rec.ProviderID] = prev
	}
	return out
}

// merge applies one backend record to it and reports whether anything
// changed. Status only advances; tracker id and timestamps are only filled
// when absent. A missing timestamp is stamped with now only when this pass
// moved the item past it.
func merge(it *model.QueueItem, rec model.TrackerStatus, liveAccepted bool, now time.Time) bool {
	changed := false

	candidate := it.Status
	if s, ok := lattice.ParseBackend(rec.Status); ok {
		candidate = lattice.Max(it.MessageType, candidate, s)
	}
	if liveAccepted {
		candidate = lattice.Max(it.MessageType, candidate, model.ConnectionAccepted)
	}
	advanced := false
	if next, ok := lattice.Advance(it.MessageType, it.Status, candidate); ok {
		it.Status = next
		advanced = true
		changed = true
	}

	if it.TrackerID == "" && rec.TrackerID != "" {
		it.TrackerID = rec.TrackerID
		changed = true
	}

	reached := func(s model.Status) bool {
		return lattice.Allowed(it.MessageType, s) && lattice.Rank(it.Status) >= lattice.Rank(s)
	}
	if it.AcceptedAt == nil && reached(model.ConnectionAccepted) {
		if at := stamp(rec.AcceptedAt, advanced, now); at != nil {
			it.AcceptedAt = at
			changed = true
		}
	}
	if it.PitchSentAt == nil && reached(model.PitchSent) {
		if at := stamp(rec.PitchSentAt, advanced, now); at != nil {
			it.PitchSentAt = at
			changed = true
		}
	}
	return changed
}

func stamp(remote *time.Time, advanced bool, now time.Time) *time.Time {
	switch {
	case remote != nil:
		t := remote.UTC()
		return &t
	case advanced:
		return &now
	}
	return nil
}

func warning(untracked int) string {
	if untracked == 0 {
		return ""
	}
	return fmt.Sprintf("%d sent item(s) have no backend tracker", untracked)
}

func flatten(merr *multierror.Error) string {
	merr.ErrorFormat = func(es []error) string {
		msgs := make([]string, len(es))
		for i, e := range es {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return merr.Error()
}
