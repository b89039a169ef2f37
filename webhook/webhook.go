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
	"time"

	"golang.org/x/time/rate"
)

// EventAuthExpired is sent when upstream rejected the service cookies.
const EventAuthExpired = "credentials.expired"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AuthExpiredData is the Data of an EventAuthExpired event.
type AuthExpiredData struct {
	URL        string   `json:"url"`
	Strategies []string `json:"strategies"`
	Message    string   `json:"message"`
}

// retryDelays are the waits before each delivery attempt.
var retryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
// Header: X-Soundgrab-Signature: sha256=<hex>
func Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Soundgrab-Webhook/1.0")

	if secret != "" {
		req.Header.Set("X-Soundgrab-Signature", "sha256="+Sign(secret, body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
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

// DeliverAsync sends a webhook event in the background, retrying after
// 1s, 5s and 30s.
func DeliverAsync(url, secret string, event *Event) {
	go func() {
		for attempt, delay := range retryDelays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, url, secret, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"url", url,
					"event", event.Type,
					"request_id", event.RequestID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"request_id", event.RequestID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"url", url,
			"event", event.Type,
			"request_id", event.RequestID,
		)
	}()
}

// Alerter notifies an operator endpoint when credentials expire. Alerts are
// throttled to one per interval; every rejected request would otherwise
// page once.
type Alerter struct {
	url     string
	secret  string
	limiter *rate.Limiter
}

// NewAlerter creates an Alerter. It returns nil when url is empty, which
// callers treat as alerting disabled.
func NewAlerter(url, secret string, interval time.Duration) *Alerter {
	if url == "" {
		return nil
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Alerter{
		url:     url,
		secret:  secret,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// AuthExpired implements orchestrator.Notifier.
func (a *Alerter) AuthExpired(requestID, mediaURL string, strategies []string) {
	if a == nil {
		return
	}
	if !a.limiter.Allow() {
		slog.Debug("credential alert throttled", "request_id", requestID)
		return
	}
	DeliverAsync(a.url, a.secret, &Event{
		Type:      EventAuthExpired,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
		Data: AuthExpiredData{
			URL:        mediaURL,
			Strategies: strategies,
			Message:    "upstream rejected the configured cookies; refresh the credential file",
		},
	})
}
