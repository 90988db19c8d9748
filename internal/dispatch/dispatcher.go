// Package dispatch sends a batch of queued outreach one item at a time,
// pacing each send and stopping at the next pacing boundary when
// cancelled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/LeventeLantos/outreach-engine/internal/lattice"
	"github.com/LeventeLantos/outreach-engine/internal/model"
	"github.com/LeventeLantos/outreach-engine/internal/pacing"
)

// MaxNoteLength is the longest note the provider accepts on a connection
// request.
const MaxNoteLength = 300

type QueueStore interface {
	List(ctx context.Context) ([]model.QueueItem, error)
	Get(ctx context.Context, id string) (model.QueueItem, error)
	Patch(ctx context.Context, id string, fn func(*model.QueueItem) error) (model.QueueItem, error)
}

type Messenger interface {
	SendInvitation(ctx context.Context, providerID, note string) error
	SendMessage(ctx context.Context, providerID, text string, inmail bool) error
}

type TrackerService interface {
	Track(ctx context.Context, req model.TrackRequest) (string, error)
}

type Allowance interface {
	Remaining(ctx context.Context, kind model.Kind) (int, error)
	Increment(ctx context.Context, kind model.Kind, n int) error
}

type Pacer interface {
	Next(sinceBreak int) (pacing.Delay, int)
	Wait(ctx context.Context, d pacing.Delay, cancelled func() bool, onTick func(pacing.Countdown)) pacing.Outcome
}

// CancelFlag is shared between the operator and a running batch. Setting
// it stops the batch at the next pacing boundary; a send already in flight
// completes.
type CancelFlag struct {
	v atomic.Bool
}

func (f *CancelFlag) Cancel()         { f.v.Store(true) }
func (f *CancelFlag) Cancelled() bool { return f != nil && f.v.Load() }

type Request struct {
	IDs []string

	// Flow restricts the selection to one flow view. Empty accepts both.
	Flow model.Flow

	Cancel     *CancelFlag
	OnProgress func(model.Progress)
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	store     QueueStore
	messenger Messenger
	tracker   TrackerService
	allowance Allowance
	pacer     Pacer
	logger    *slog.Logger
	now       func() time.Time

	active atomic.Pointer[activeRun]

	// unrecorded holds items the provider accepted whose sent status could
	// not be written, keyed by item id with their send time.
	mu         sync.Mutex
	unrecorded map[string]time.Time
}

func New(store QueueStore, messenger Messenger, tracker TrackerService, allowance Allowance, pacer Pacer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		messenger:  messenger,
		tracker:    tracker,
		allowance:  allowance,
		pacer:      pacer,
		logger:     slog.Default(),
		now:        time.Now,
		unrecorded: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run admits the selection and sends it synchronously. Admission errors
// are returned before any network call; once admitted the batch runs to
// completion or cancellation and the final progress is returned.
func (d *Dispatcher) Run(ctx context.Context, req Request) (model.Progress, error) {
	batch, err := d.admit(ctx, req)
	if err != nil {
		return model.Progress{}, err
	}
	return d.execute(ctx, uuid.NewString(), batch, req), nil
}

// admit resolves the selection to sendable items and checks the allowance
// for every kind represented. Items that are unknown, no longer pending,
// outside the requested flow or without a provider id are left out and
// stay untouched.
func (d *Dispatcher) admit(ctx context.Context, req Request) ([]model.QueueItem, error) {
	d.settleUnrecorded(ctx)
	pendingWrite := d.unrecordedIDs()

	items, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.QueueItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var batch []model.QueueItem
	seen := make(map[string]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		it, ok := byID[id]
		switch {
		case !ok:
			d.logger.Debug("selection skipped unknown item", "item_id", id)
		case pendingWrite[id]:
			d.logger.Warn("selection skipped item already sent, status not yet recorded", "item_id", id, "candidate", it.DisplayName())
		case it.Status != model.Pending:
			d.logger.Debug("selection skipped non-pending item", "item_id", id, "status", it.Status)
		case req.Flow != "" && it.MessageType.Flow() != req.Flow:
			d.logger.Debug("selection skipped item outside flow", "item_id", id, "flow", req.Flow)
		case !it.CanSend():
			d.logger.Info("selection skipped item without provider id", "item_id", id, "candidate", it.DisplayName())
		default:
			batch = append(batch, it)
		}
	}
	if len(batch) == 0 {
		return nil, ErrNoValidCandidates
	}

	checked := make(map[model.Kind]struct{}, len(model.Kinds))
	for _, it := range batch {
		kind := it.MessageType.Kind()
		if _, ok := checked[kind]; ok {
			continue
		}
		checked[kind] = struct{}{}

		remaining, err := d.allowance.Remaining(ctx, kind)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			return nil, &AllowanceError{Kind: kind, Remaining: remaining}
		}
	}
	return batch, nil
}

func (d *Dispatcher) execute(ctx context.Context, runID string, batch []model.QueueItem, req Request) model.Progress {
	progress := model.Progress{
		RunID: runID,
		State: model.RunRunning,
		Total: len(batch),
	}
	report := func() {
		if req.OnProgress != nil {
			req.OnProgress(progress.Clone())
		}
	}
	cancelled := req.Cancel.Cancelled

	d.logger.Info("batch started", "run_id", runID, "items", len(batch))
	report()

	sinceBreak := 0
	for i, it := range batch {
		stop := cancelled()
		if i > 0 && !stop {
			var delay pacing.Delay
			delay, sinceBreak = d.pacer.Next(sinceBreak)

			progress.Current = ""
			progress.Break = delay.IsBreak
			progress.Label = "waiting"
			if delay.IsBreak {
				progress.Label = "break"
			}
			stop = d.pacer.Wait(ctx, delay, cancelled, func(c pacing.Countdown) {
				progress.WaitingSeconds = int(c.Remaining.Round(time.Second) / time.Second)
				report()
			}) == pacing.Cancelled
			progress.WaitingSeconds = 0
			progress.Break = false
		}
		if stop {
			progress.State = model.RunCancelled
			progress.Current = ""
			progress.Label = "cancelled"
			d.logger.Info("batch cancelled", "run_id", runID, "sent", progress.Sent, "failed", progress.Failed, "unattempted", len(batch)-i)
			report()
			return progress
		}

		progress.Index = i + 1

		// The send and its bookkeeping are not interruptible once started.
		sendCtx := context.WithoutCancel(ctx)

		// The operator may have removed or edited the item since admission.
		cur, err := d.store.Get(sendCtx, it.ID)
		if err != nil || cur.Status != model.Pending {
			d.logger.Info("item changed since admission, skipping", "item_id", it.ID, "error", err)
			continue
		}
		it = cur

		progress.Current = it.DisplayName()
		progress.Label = "sending"
		report()

		if err := d.processItem(sendCtx, it); err != nil {
			progress.Failed++
			progress.Failures = append(progress.Failures, model.Failure{
				CandidateName: it.DisplayName(),
				Error:         err.Error(),
			})
			progress.Label = "failed"
		} else {
			progress.Sent++
			progress.Label = "sent"
		}
		sinceBreak++
		report()
	}

	progress.State = model.RunComplete
	progress.Current = ""
	progress.Label = "complete"
	d.logger.Info("batch complete", "run_id", runID, "sent", progress.Sent, "failed", progress.Failed)
	report()
	return progress
}

// processItem sends one item and records the outcome on it. The returned
// error is the send failure recorded on the item, if any.
func (d *Dispatcher) processItem(ctx context.Context, it model.QueueItem) error {
	sendErr := d.send(ctx, it)
	if sendErr != nil {
		d.logger.Warn("send failed", "item_id", it.ID, "candidate", it.DisplayName(), "error", sendErr)
		if _, err := d.store.Patch(ctx, it.ID, func(cur *model.QueueItem) error {
			if err := lattice.CheckDispatch(cur.Status, model.Failed); err != nil {
				return err
			}
			cur.Status = model.Failed
			cur.ErrorMessage = sendErr.Error()
			return nil
		}); err != nil {
			d.logger.Error("failed to record send failure", "item_id", it.ID, "error", err)
		}
		return sendErr
	}

	sentAt := d.now().UTC()
	recordErr := d.markSent(ctx, it.ID, sentAt)

	// The provider accepted the send, so it counts whether or not the
	// status write succeeded.
	if err := d.allowance.Increment(ctx, it.MessageType.Kind(), 1); err != nil {
		d.logger.Error("failed to count send against allowance", "item_id", it.ID, "error", err)
	}

	if err := recordErr; err != nil {
		if errors.Is(err, lattice.ErrIllegalTransition) {
			d.logger.Warn("item changed during send, sent status not recorded", "item_id", it.ID, "error", err)
			return fmt.Errorf("%w: %v", ErrSentNotRecorded, err)
		}
		d.logger.Error("failed to record send", "item_id", it.ID, "error", err)
		d.mu.Lock()
		d.unrecorded[it.ID] = sentAt
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSentNotRecorded, err)
	}

	d.register(ctx, it, sentAt)
	return nil
}

// markSent records a provider-accepted send, retrying the write once.
func (d *Dispatcher) markSent(ctx context.Context, id string, sentAt time.Time) error {
	patch := func(cur *model.QueueItem) error {
		if err := lattice.CheckDispatch(cur.Status, model.Sent); err != nil {
			return err
		}
		cur.Status = model.Sent
		cur.ErrorMessage = ""
		cur.SentAt = &sentAt
		return nil
	}
	_, err := d.store.Patch(ctx, id, patch)
	if err == nil || errors.Is(err, lattice.ErrIllegalTransition) {
		return err
	}
	_, err = d.store.Patch(ctx, id, patch)
	return err
}

// settleUnrecorded writes the sent status of earlier sends whose write
// failed. Items no longer pending are forgotten.
func (d *Dispatcher) settleUnrecorded(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, sentAt := range d.unrecorded {
		err := d.markSent(ctx, id, sentAt)
		switch {
		case err == nil:
			d.logger.Info("recorded earlier send", "item_id", id)
			delete(d.unrecorded, id)
		case errors.Is(err, lattice.ErrIllegalTransition):
			delete(d.unrecorded, id)
		default:
			d.logger.Warn("earlier send still not recorded", "item_id", id, "error", err)
		}
	}
}

func (d *Dispatcher) unrecordedIDs() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.unrecorded))
	for id := range d.unrecorded {
		out[id] = true
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, it model.QueueItem) error {
	switch it.MessageType {
	case model.InMail:
		return d.messenger.SendMessage(ctx, it.ProviderID, it.MessageDraft, true)
	case model.DirectMessage:
		return d.messenger.SendMessage(ctx, it.ProviderID, it.MessageDraft, false)
	case model.ConnectionOnly:
		return d.messenger.SendInvitation(ctx, it.ProviderID, "")
	default:
		if utf8.RuneCountInString(it.MessageDraft) > MaxNoteLength {
			return fmt.Errorf("connection note exceeds %d chars", MaxNoteLength)
		}
		return d.messenger.SendInvitation(ctx, it.ProviderID, it.MessageDraft)
	}
}

// register creates a backend tracker for a successful send. Failures are
// logged and never change the item's sent status.
func (d *Dispatcher) register(ctx context.Context, it model.QueueItem, sentAt time.Time) {
	if d.tracker == nil {
		return
	}
	trackerID, err := d.tracker.Track(ctx, model.TrackRequest{
		CandidateID:    it.CandidateID,
		ProviderID:     it.ProviderID,
		MessageType:    it.MessageType,
		JobID:          it.JobID,
		AssessmentLink: it.AssessmentLink,
		Message:        it.MessageDraft,
		SentAt:         sentAt,
	})
	if err != nil {
		d.logger.Warn("tracker registration failed", "item_id", it.ID, "error", err)
		return
	}
	if trackerID == "" {
		return
	}
	if _, err := d.store.Patch(ctx, it.ID, func(cur *model.QueueItem) error {
		if cur.TrackerID == "" {
			cur.TrackerID = trackerID
		}
		return nil
	}); err != nil {
		d.logger.Warn("failed to store tracker id", "item_id", it.ID, "error", err)
	}
}
