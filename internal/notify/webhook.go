package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event      string `json:"event"`                 // alert_raised, alert_cleared or test
	Key        string `json:"key,omitempty"`         // Alert identity, e.g. unit:10.0.0.2
	Title      string `json:"title,omitempty"`       // Short operator-facing title
	Message    string `json:"message,omitempty"`     // Operator-facing detail
	DurationMs int64  `json:"duration_ms,omitempty"` // How long the alert was active (cleared only)
	Source     string `json:"source"`                // Application name
	Timestamp  string `json:"timestamp"`
}

// webhookClient is shared by all webhook deliveries.
var webhookClient = &http.Client{Timeout: 10 * time.Second}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Source:    AppName,
		Timestamp: timestampUTC(),
	})
}

// alertWebhook converts an alert into its webhook payload.
func alertWebhook(a *Alert) *WebhookPayload {
	p := &WebhookPayload{
		Event:     "alert_raised",
		Key:       a.Key,
		Title:     a.Title,
		Message:   a.Text,
		Source:    AppName,
		Timestamp: a.Time.UTC().Format(time.RFC3339),
	}
	if a.Cleared {
		p.Event = "alert_cleared"
		p.DurationMs = a.Duration.Milliseconds()
	}
	return p
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
