package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// LogDelivery writes notifications to the log instead of delivering them.
// Used in development mode when no delivery endpoint is configured.
type LogDelivery struct{}

// NewLogDelivery creates a log-only delivery collaborator.
func NewLogDelivery() *LogDelivery {
	return &LogDelivery{}
}

// Send logs the notification payload.
func (d *LogDelivery) Send(ctx context.Context, n *Notification) error {
	log.Info().
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Str("resume_url", n.ResumeURL).
		Str("resume_code", n.ResumeCode).
		Str("expires_on", n.ExpiresOn).
		Msg("Resume notification (log delivery)")
	return nil
}

// WebhookDelivery posts notifications as JSON to an external delivery
// endpoint, typically the mail gateway's intake hook.
type WebhookDelivery struct {
	url    string
	client *http.Client
}

// NewWebhookDelivery creates a webhook delivery collaborator for the given
// endpoint URL.
func NewWebhookDelivery(url string) *WebhookDelivery {
	return &WebhookDelivery{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts the notification payload to the delivery endpoint.
func (d *WebhookDelivery) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
