package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint. Decision
// alerts carry their structured fields under "decision".
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
		now:    time.Now,
	}
}

type webhookPayload struct {
	Level    AlertLevel     `json:"level"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Decision map[string]any `json:"decision,omitempty"`
	TS       string         `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	_, err := postJSON(ctx, w.client, w.url, webhookPayload{
		Level:    alert.Level,
		Title:    alert.Title,
		Message:  alert.Message,
		Decision: alert.Fields,
		TS:       w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] sent alert: %s", alert.Title)
	return nil
}
