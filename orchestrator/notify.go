package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"enhanceswarm/log"
)

// Sink receives lifecycle events. Delivery is best-effort; implementations
// should return quickly and let the caller decide what to do with failures.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// WebhookSink posts lifecycle events to an HTTP endpoint as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink returns a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// webhookPayload is the wire shape of one delivered event.
type webhookPayload struct {
	ID     string `json:"id"`
	SentAt string `json:"sent_at"`
	Event  Event  `json:"event"`
}

func (s *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	payload := webhookPayload{
		ID:     uuid.NewString(),
		SentAt: time.Now().Format(time.RFC3339),
		Event:  ev,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotificationManager delivers lifecycle events to a sink on a best-effort
// basis. Delivery failures are logged and swallowed; they never propagate back
// into the orchestrator's control flow.
type NotificationManager struct {
	sink Sink
}

// NewNotificationManager returns a manager for the given sink. A nil sink
// disables notifications entirely.
func NewNotificationManager(sink Sink) *NotificationManager {
	return &NotificationManager{sink: sink}
}

// Publish delivers ev, logging and swallowing any failure.
func (n *NotificationManager) Publish(ev Event) {
	if n == nil || n.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.sink.Deliver(ctx, ev); err != nil {
		log.WarningLog.Printf("notification delivery failed for %s/%s: %v",
			ev.AgentID, ev.Type, log.SanitizeURLs(err.Error()))
	}
}
