// Package webhook notifies an external endpoint when a run finishes.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/pricewatch/retry"
)

// Event types.
const EventPricesUpdated = "prices.updated"

// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is set.
const SignatureHeader = "X-Pricewatch-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notifier delivers events to one endpoint. A nil Notifier, or one with an
// empty URL, drops every event.
type Notifier struct {
	URL    string
	Secret string
	Retry  retry.Policy

	client *http.Client
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier retrying with 1s, 5s, 30s between tries.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		URL:    url,
		Secret: secret,
		Retry: retry.Policy{
			MaxAttempts: 4,
			Backoff:     retry.Schedule(time.Second, 5*time.Second, 30*time.Second),
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether events are delivered at all.
func (n *Notifier) Enabled() bool {
	return n != nil && n.URL != ""
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends event once, synchronously.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	if !n.Enabled() {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pricewatch-Webhook/1.0")
	if n.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.Secret, body))
	}

	client := n.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends event in the background, retrying per n.Retry.
func (n *Notifier) DeliverAsync(event *Event) {
	if !n.Enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		policy := n.Retry
		policy.OnRetry = func(attempt int, wait time.Duration, err error) {
			slog.Warn("webhook delivery failed",
				"url", n.URL, "event", event.Type, "run_id", event.RunID,
				"attempt", attempt+1, "wait", wait, "error", err)
		}

		err := policy.Do(context.Background(), func(ctx context.Context, _ int) error {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return n.Deliver(ctx, event)
		})
		if err != nil {
			slog.Error("webhook delivery exhausted all retries",
				"url", n.URL, "event", event.Type, "run_id", event.RunID, "error", err)
			return
		}
		slog.Info("webhook delivered", "url", n.URL, "event", event.Type, "run_id", event.RunID)
	}()
}

// Wait blocks until background deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
