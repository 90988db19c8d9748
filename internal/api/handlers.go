package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/outreach-engine/internal/dispatch"
	"github.com/LeventeLantos/outreach-engine/internal/lattice"
	"github.com/LeventeLantos/outreach-engine/internal/model"
	"github.com/LeventeLantos/outreach-engine/internal/reconcile"
	"github.com/LeventeLantos/outreach-engine/internal/scheduler"
	"github.com/LeventeLantos/outreach-engine/internal/store"
)

type QueueStore interface {
	List(ctx context.Context) ([]model.QueueItem, error)
	Add(ctx context.Context, items ...model.QueueItem) ([]model.QueueItem, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) (int, error)
	Retry(ctx context.Context, id string) (model.QueueItem, error)
}

type BatchRunner interface {
	Start(ctx context.Context, ids []string, flow model.Flow) (model.Progress, error)
	Cancel() bool
	Current() (model.Progress, bool)
}

type Syncer interface {
	ForceSync(ctx context.Context) (model.SyncResult, error)
	Last() (model.SyncResult, bool)
}

type AllowanceReporter interface {
	Snapshot(ctx context.Context) ([]model.AllowanceSnapshot, error)
}

type Handler struct {
	sched     *scheduler.Scheduler
	store     QueueStore
	batches   BatchRunner
	syncer    Syncer
	allowance AllowanceReporter
	logger    *slog.Logger
}

func NewHandler(s *scheduler.Scheduler, q QueueStore, b BatchRunner, sy Syncer, a AllowanceReporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sched: s, store: q, batches: b, syncer: sy, allowance: a, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// ListQueue returns the queue, optionally narrowed by ?status= and ?flow=.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := model.Status(r.URL.Query().Get("status"))
	flow := model.Flow(r.URL.Query().Get("flow"))
	out := make([]model.QueueItem, 0, len(items))
	for _, it := range items {
		if status != "" && it.Status != status {
			continue
		}
		if flow != "" && it.MessageType.Flow() != flow {
			continue
		}
		out = append(out, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type addItem struct {
	ID             string            `json:"id"`
	CandidateID    string            `json:"candidateId"`
	CandidateName  string            `json:"candidateName"`
	ProviderID     string            `json:"providerId"`
	MessageType    model.MessageType `json:"messageType"`
	MessageDraft   string            `json:"messageDraft"`
	JobID          string            `json:"jobId"`
	AssessmentLink string            `json:"assessmentLink"`
}

func (h *Handler) AddToQueue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Items []addItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(payload.Items) == 0 {
		writeMessage(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	items := make([]model.QueueItem, 0, len(payload.Items))
	for _, in := range payload.Items {
		if !in.MessageType.Valid() {
			writeMessage(w, http.StatusBadRequest, "invalid messageType: "+string(in.MessageType))
			return
		}
		if in.CandidateID == "" {
			writeMessage(w, http.StatusBadRequest, "candidateId is required")
			return
		}
		items = append(items, model.QueueItem{
			ID:             in.ID,
			CandidateID:    in.CandidateID,
			CandidateName:  in.CandidateName,
			ProviderID:     in.ProviderID,
			MessageType:    in.MessageType,
			MessageDraft:   in.MessageDraft,
			JobID:          in.JobID,
			AssessmentLink: in.AssessmentLink,
		})
	}

	added, err := h.store.Add(r.Context(), items...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": added})
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Clear(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.store.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDs  []string   `json:"ids"`
		Flow model.Flow `json:"flow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch payload.Flow {
	case "", model.FlowConnection, model.FlowDirect:
	default:
		writeMessage(w, http.StatusBadRequest, "invalid flow: "+string(payload.Flow))
		return
	}

	p, err := h.batches.Start(r.Context(), payload.IDs, payload.Flow)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": h.batches.Cancel()})
}

func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.batches.Current()
	if !ok {
		writeMessage(w, http.StatusNotFound, "no batch has run yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Allowance(w http.ResponseWriter, r *http.Request) {
	snap, err := h.allowance.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": snap})
}

func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.ForceSync(r.Context())
	if err != nil {
		// Anything but an overlapping pass is a collaborator failure.
		h.writeErrorStatus(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) LastSync(w http.ResponseWriter, r *http.Request) {
	res, ok := h.syncer.Last()
	if !ok {
		writeMessage(w, http.StatusNotFound, "no sync has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorStatus(w, err, http.StatusInternalServerError)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, err error, fallback int) {
	var allowErr *dispatch.AllowanceError
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateItem),
		errors.Is(err, lattice.ErrIllegalTransition),
		errors.Is(err, dispatch.ErrBatchInProgress),
		errors.Is(err, reconcile.ErrSyncInProgress):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrNoValidCandidates):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &allowErr):
		writeMessage(w, http.StatusTooManyRequests, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeMessage(w, fallback, err.Error())
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
