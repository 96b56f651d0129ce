// Package notifier publishes download lifecycle events to external receivers.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	KindDownloadDone   = "download_done"
	KindDownloadFailed = "download_failed"
)

// Event is one terminal download outcome.
type Event struct {
	Kind    string `json:"event"`
	Station string `json:"station"`
	Product string `json:"product"`
	Detail  string `json:"detail,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// WebhookNotifier POSTs events as JSON to a configured URL, authenticating
// with an optional API key header.
type WebhookNotifier struct {
	WebhookURL string
	APIKey     string

	client *http.Client
}

func NewWebhookNotifier(webhookURL, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		WebhookURL: webhookURL,
		APIKey:     apiKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if n.APIKey != "" {
		req.Header.Set("X-Api-Key", n.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
