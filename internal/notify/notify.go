// Package notify delivers reminders and reports to people.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"cifleet/internal/apperr"
)

// Notifier sends a message to a user. An empty user addresses the shared
// operations channel.
type Notifier interface {
	Notify(ctx context.Context, user, subject, body string) error
}

// LogNotifier writes notifications to the log. It is used when no webhook
// is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, user, subject, body string) error {
	slog.InfoContext(ctx, "notification", "user", user, "subject", subject, "body", body)
	return nil
}

// Message is the JSON body posted to the webhook.
type Message struct {
	ID      string `json:"id"`
	User    string `json:"user,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL string
	// Attempts is the total number of tries, default 5.
	Attempts int
	// Interval is the wait between tries, default 60s.
	Interval time.Duration
	Timeout  time.Duration
}

// WebhookNotifier posts messages to a chat webhook, retrying server errors
// and transport failures. Every try of one message carries the same
// Idempotency-Key so the receiver can drop duplicates.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Notify returns an apperr.ErrTransient error once every attempt has failed.
func (w *WebhookNotifier) Notify(ctx context.Context, user, subject, body string) error {
	msg := Message{ID: uuid.NewString(), User: user, Subject: subject, Body: body}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.Attempts; attempt++ {
		retry, err := w.post(ctx, msg.ID, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}

		slog.WarnContext(ctx, "notification failed", "user", user, "attempt", attempt, "error", err)
		if attempt == w.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperr.Transient("notify "+user, ctx.Err())
		case <-time.After(w.cfg.Interval):
		}
	}
	return apperr.Transient("notify "+user, lastErr)
}

// post sends one attempt and reports whether a failure is worth retrying.
func (w *WebhookNotifier) post(ctx context.Context, key string, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook returned %s", resp.Status)
	default:
		return false, fmt.Errorf("webhook returned %s", resp.Status)
	}
}
