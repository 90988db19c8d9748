package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	Method string
	Path   string
	APIKey string
	Body   []byte
}

func captureServer(t *testing.T, status int, response string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Method = r.Method
		got.Path = r.URL.Path
		got.APIKey = r.Header.Get("X-API-KEY")
		got.Body, _ = ioReadAll(r)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderClient_SendInvitation_Success(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusCreated, `{"object":"UserInvitationSent"}`, &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL + "/", APIKey: "k", AccountID: "acc-1"})
	if err := c.SendInvitation(context.Background(), "prov-1", "hi there"); err != nil {
		t.Fatalf("SendInvitation() error: %v", err)
	}

	if captured.Method != http.MethodPost || captured.Path != "/api/v1/users/invite" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.Path)
	}
	if captured.APIKey != "k" {
		t.Fatalf("expected api key header, got %q", captured.APIKey)
	}

	var req inviteRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.AccountID != "acc-1" || req.ProviderID != "prov-1" || req.Message != "hi there" {
		t.Fatalf("unexpected invite body: %+v", req)
	}
}

func TestProviderClient_SendMessage_InMailFlag(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusCreated, `{"chat_id":"chat-9"}`, &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL, AccountID: "acc-1"})
	if err := c.SendMessage(context.Background(), "prov-2", "hello", true); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	var req chatRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v", err)
	}
	if !req.InMail || req.Text != "hello" || len(req.AttendeesIDs) != 1 || req.AttendeesIDs[0] != "prov-2" {
		t.Fatalf("unexpected chat body: %+v", req)
	}
}

func TestProviderClient_SendMessage_EmptyText(t *testing.T) {
	t.Parallel()

	c := NewProviderClient(ProviderConfig{BaseURL: "http://127.0.0.1:0"})
	if err := c.SendMessage(context.Background(), "prov", "", false); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestProviderClient_Non2xx_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusTooManyRequests, "slow down", &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL})
	err := c.SendInvitation(context.Background(), "prov", "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "unexpected status code: 429") {
		t.Fatalf("expected error to mention status code, got: %v", err)
	}
	if !strings.Contains(msg, `body="slow down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestProviderClient_ConnectionStatus(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusOK,
		`{"items":[{"provider_id":"a","connected":true},{"provider_id":"b","connected":false}]}`, &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL, AccountID: "acc"})
	got, err := c.ConnectionStatus(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("ConnectionStatus() error: %v", err)
	}
	if !got["a"] || got["b"] {
		t.Fatalf("unexpected status map: %v", got)
	}
}

func TestProviderClient_InvalidJSON(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusOK, "THIS IS NOT JSON", &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL})
	_, err := c.ConnectionStatus(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
}

func TestProviderClient_Throttles(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := captureServer(t, http.StatusCreated, `{}`, &captured)

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL, RequestsPerSecond: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.SendInvitation(context.Background(), "p", ""); err != nil {
			t.Fatalf("SendInvitation() error: %v", err)
		}
	}
	// Burst of one at 20 rps: the 2nd and 3rd calls wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected throttled calls to take >= 90ms, took %v", elapsed)
	}
}

func TestProviderClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewProviderClient(ProviderConfig{BaseURL: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.SendInvitation(ctx, "p", "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "context") &&
		!strings.Contains(strings.ToLower(err.Error()), "deadline") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
