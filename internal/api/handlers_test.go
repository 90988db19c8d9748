package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/outreach-engine/internal/allowance"
	"github.com/LeventeLantos/outreach-engine/internal/dispatch"
	"github.com/LeventeLantos/outreach-engine/internal/model"
	"github.com/LeventeLantos/outreach-engine/internal/reconcile"
	"github.com/LeventeLantos/outreach-engine/internal/scheduler"
	"github.com/LeventeLantos/outreach-engine/internal/store"
)

type fakeBatches struct {
	gotIDs  []string
	gotFlow model.Flow
	err     error

	current   *model.Progress
	cancelled bool
}

func (f *fakeBatches) Start(ctx context.Context, ids []string, flow model.Flow) (model.Progress, error) {
	f.gotIDs = ids
	f.gotFlow = flow
	if f.err != nil {
		return model.Progress{}, f.err
	}
	p := model.Progress{RunID: "run-1", State: model.RunRunning, Total: len(ids)}
	f.current = &p
	return p, nil
}

func (f *fakeBatches) Cancel() bool {
	if f.current == nil {
		return false
	}
	f.cancelled = true
	return true
}

func (f *fakeBatches) Current() (model.Progress, bool) {
	if f.current == nil {
		return model.Progress{}, false
	}
	return *f.current, true
}

type fakeSyncer struct {
	res  model.SyncResult
	err  error
	last *model.SyncResult
}

func (f *fakeSyncer) ForceSync(ctx context.Context) (model.SyncResult, error) {
	if f.err != nil {
		return model.SyncResult{}, f.err
	}
	f.last = &f.res
	return f.res, nil
}

func (f *fakeSyncer) Last() (model.SyncResult, bool) {
	if f.last == nil {
		return model.SyncResult{}, false
	}
	return *f.last, true
}

type testServer struct {
	sched   *scheduler.Scheduler
	store   *store.Store
	batches *fakeBatches
	syncer  *fakeSyncer
	mux     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New(time.Hour, func(context.Context) {}, scheduler.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	st := store.New(store.NewMemoryBacking())
	allow := allowance.New(st, map[model.Kind]int{model.KindConnection: 20, model.KindInMail: 10, model.KindMessage: 40})

	ts := &testServer{sched: s, store: st, batches: &fakeBatches{}, syncer: &fakeSyncer{}}
	ts.mux = Router(NewHandler(s, st, ts.batches, ts.syncer, allow, logger))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%q", want, rr.Code, rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/v1/health", "")
	expectStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t)

	steps := []struct {
		method, path string
		running      bool
	}{
		{http.MethodGet, "/v1/scheduler/status", false},
		{http.MethodPost, "/v1/scheduler/start", true},
		{http.MethodPost, "/v1/scheduler/stop", false},
	}
	for _, step := range steps {
		rr := ts.do(t, step.method, step.path, "")
		expectStatus(t, rr, http.StatusOK)

		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running != step.running {
			t.Fatalf("%s %s: expected running=%v, got %v", step.method, step.path, step.running, body)
		}
		if body["interval"] != "1h0m0s" {
			t.Fatalf("expected interval in status, got %v", body)
		}
	}
}

func TestQueue_AddListFilter(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/v1/queue", `{"items":[
		{"candidateId":"c1","candidateName":"Ada","providerId":"p1","messageType":"connection_request","messageDraft":"hi"},
		{"candidateId":"c2","candidateName":"Bob","providerId":"p2","messageType":"inmail"}
	]}`)
	expectStatus(t, rr, http.StatusCreated)

	body := decodeJSON(t, rr)
	added, ok := body["items"].([]any)
	if !ok || len(added) != 2 {
		t.Fatalf("expected 2 added items, got %v", body)
	}
	first := added[0].(map[string]any)
	if first["id"] == "" || first["status"] != "pending" {
		t.Fatalf("expected generated id and pending status, got %v", first)
	}

	rr = ts.do(t, http.MethodGet, "/v1/queue", "")
	expectStatus(t, rr, http.StatusOK)
	if items := decodeJSON(t, rr)["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	rr = ts.do(t, http.MethodGet, "/v1/queue?flow=direct", "")
	expectStatus(t, rr, http.StatusOK)
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["candidateName"] != "Bob" {
		t.Fatalf("expected only the inmail item, got %v", items)
	}

	rr = ts.do(t, http.MethodGet, "/v1/queue?status=sent", "")
	expectStatus(t, rr, http.StatusOK)
	if items := decodeJSON(t, rr)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected no sent items, got %v", items)
	}
}

func TestQueue_AddValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{"items":`},
		{"empty", `{"items":[]}`},
		{"bad type", `{"items":[{"candidateId":"c1","messageType":"fax"}]}`},
		{"no candidate", `{"items":[{"messageType":"inmail"}]}`},
	}
	for _, tc := range cases {
		rr := ts.do(t, http.MethodPost, "/v1/queue", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%q", tc.name, rr.Code, rr.Body.String())
		}
	}

	rr := ts.do(t, http.MethodPost, "/v1/queue", `{"items":[{"id":"x","candidateId":"c1","messageType":"inmail"},{"id":"x","candidateId":"c2","messageType":"inmail"}]}`)
	expectStatus(t, rr, http.StatusConflict)
}

func TestQueue_RetryRemoveClear(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if err := ts.store.ReplaceAll(ctx, []model.QueueItem{
		{ID: "f", CandidateID: "c1", MessageType: model.InMail, Status: model.Failed, ErrorMessage: "boom"},
		{ID: "s", CandidateID: "c2", MessageType: model.InMail, Status: model.Sent},
		{ID: "p", CandidateID: "c3", MessageType: model.InMail, Status: model.Pending},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := ts.do(t, http.MethodPost, "/v1/queue/f/retry", "")
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["status"] != "pending" {
		t.Fatalf("expected pending after retry, got %v", body)
	}
	if _, ok := body["errorMessage"]; ok {
		t.Fatalf("expected error cleared, got %v", body)
	}

	rr = ts.do(t, http.MethodPost, "/v1/queue/s/retry", "")
	expectStatus(t, rr, http.StatusConflict)

	rr = ts.do(t, http.MethodPost, "/v1/queue/missing/retry", "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = ts.do(t, http.MethodDelete, "/v1/queue/p", "")
	expectStatus(t, rr, http.StatusNoContent)

	rr = ts.do(t, http.MethodDelete, "/v1/queue/p", "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = ts.do(t, http.MethodDelete, "/v1/queue", "")
	expectStatus(t, rr, http.StatusOK)
	if n := decodeJSON(t, rr)["removed"]; n != float64(2) {
		t.Fatalf("expected 2 removed, got %v", n)
	}
}

func TestBatch_StartStatusCancel(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/v1/batch", "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = ts.do(t, http.MethodPost, "/v1/batch/cancel", "")
	expectStatus(t, rr, http.StatusOK)
	if v := decodeJSON(t, rr)["cancelled"]; v != false {
		t.Fatalf("expected cancelled=false with no batch, got %v", v)
	}

	rr = ts.do(t, http.MethodPost, "/v1/batch", `{"ids":["a","b"],"flow":"connection"}`)
	expectStatus(t, rr, http.StatusAccepted)
	if ts.batches.gotFlow != model.FlowConnection || len(ts.batches.gotIDs) != 2 {
		t.Fatalf("unexpected start args: ids=%v flow=%q", ts.batches.gotIDs, ts.batches.gotFlow)
	}
	if body := decodeJSON(t, rr); body["state"] != "running" || body["total"] != float64(2) {
		t.Fatalf("unexpected progress: %v", body)
	}

	rr = ts.do(t, http.MethodGet, "/v1/batch", "")
	expectStatus(t, rr, http.StatusOK)

	rr = ts.do(t, http.MethodPost, "/v1/batch/cancel", "")
	expectStatus(t, rr, http.StatusOK)
	if !ts.batches.cancelled {
		t.Fatalf("expected the batch to be cancelled")
	}
}

func TestBatch_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no candidates", dispatch.ErrNoValidCandidates, http.StatusUnprocessableEntity},
		{"allowance", &dispatch.AllowanceError{Kind: model.KindInMail}, http.StatusTooManyRequests},
		{"in progress", dispatch.ErrBatchInProgress, http.StatusConflict},
	}
	for _, tc := range cases {
		ts := newTestServer(t)
		ts.batches.err = tc.err

		rr := ts.do(t, http.MethodPost, "/v1/batch", `{"ids":["a"]}`)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d body=%q", tc.name, tc.want, rr.Code, rr.Body.String())
		}
		if msg, _ := decodeJSON(t, rr)["error"].(string); msg != tc.err.Error() {
			t.Fatalf("%s: expected error %q, got %q", tc.name, tc.err.Error(), msg)
		}
	}

	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/v1/batch", `{"ids":["a"],"flow":"carrier-pigeon"}`)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestAllowance(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/v1/allowance", "")
	expectStatus(t, rr, http.StatusOK)

	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected one entry per kind, got %v", items)
	}
	first := items[0].(map[string]any)
	if first["kind"] != "connection" || first["remaining"] != float64(20) {
		t.Fatalf("unexpected connection allowance: %v", first)
	}
}

func TestSync_ForceAndLast(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/v1/sync", "")
	expectStatus(t, rr, http.StatusNotFound)

	ts.syncer.res = model.SyncResult{Forced: true, Checked: 2, Warning: "2 sent item(s) have no backend tracker"}
	rr = ts.do(t, http.MethodPost, "/v1/sync", "")
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["warning"] != "2 sent item(s) have no backend tracker" || body["updated"] != float64(0) {
		t.Fatalf("unexpected sync result: %v", body)
	}

	rr = ts.do(t, http.MethodGet, "/v1/sync", "")
	expectStatus(t, rr, http.StatusOK)
}

func TestSync_Errors(t *testing.T) {
	ts := newTestServer(t)

	ts.syncer.err = errors.New("tracker status: connection refused")
	rr := ts.do(t, http.MethodPost, "/v1/sync", "")
	expectStatus(t, rr, http.StatusBadGateway)
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("expected collaborator error in body, got %q", rr.Body.String())
	}

	ts.syncer.err = reconcile.ErrSyncInProgress
	rr = ts.do(t, http.MethodPost, "/v1/sync", "")
	expectStatus(t, rr, http.StatusConflict)
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/", "")
	expectStatus(t, rr, http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != "outreach-engine" {
		t.Fatalf("expected body %q, got %q", "outreach-engine", got)
	}
}

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
	if !strings.Contains(buf.String(), "status=201") || !strings.Contains(buf.String(), "path=/test") {
		t.Fatalf("expected request log with status, got %q", buf.String())
	}
}
