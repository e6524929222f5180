package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cifleet/internal/apperr"
)

func TestWebhookNotifier_Success(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected Idempotency-Key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := n.Notify(context.Background(), "alice", "debug expiring", "1 hour left"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if got.User != "alice" || got.Subject != "debug expiring" || got.Body != "1 hour left" {
		t.Errorf("unexpected message %+v", got)
	}
	if got.ID == "" {
		t.Error("expected message id")
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		keys  = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		keys[r.Header.Get("Idempotency-Key")] = true
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Attempts: 5, Interval: time.Millisecond})
	if err := n.Notify(context.Background(), "alice", "s", "b"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(keys) != 1 {
		t.Errorf("expected one idempotency key across retries, got %d", len(keys))
	}
}

func TestWebhookNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Attempts: 3, Interval: time.Millisecond})
	err := n.Notify(context.Background(), "alice", "s", "b")
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Attempts: 5, Interval: time.Millisecond})
	if err := n.Notify(context.Background(), "alice", "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single call, got %d", n)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), "alice", "s", "b"); err != nil {
		t.Errorf("LogNotifier returned %v", err)
	}
}
