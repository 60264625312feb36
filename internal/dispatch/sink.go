package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cthz/cthz-core/internal/infrastructure/config"
)

// Deliverer pushes a payload to a downstream system and classifies every
// failure as transient or permanent via the dispatch error sentinels.
type Deliverer interface {
	Deliver(ctx context.Context, payload []byte) error
}

// WebhookSink delivers JSON payloads to an HTTP endpoint.
//
// Classification: connection errors and timeouts are transient; 5xx and 429
// responses are transient; every other non-2xx response is permanent.
type WebhookSink struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for the configured endpoint.
func NewWebhookSink(name string, cfg config.WebhookSinkConfig) *WebhookSink {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		name: name,
		url:  cfg.URL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Deliver posts the payload. An unconfigured sink fails permanently so the
// dispatcher records the miswiring instead of retrying into nothing.
func (s *WebhookSink) Deliver(ctx context.Context, payload []byte) error {
	if s.url == "" {
		return Permanent(fmt.Errorf("sink %s has no url configured", s.name))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Permanent(fmt.Errorf("building %s request: %w", s.name, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("delivering to %s: %w", s.name, err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Transient(fmt.Errorf("%s responded %s", s.name, resp.Status))
	default:
		return Permanent(fmt.Errorf("%s responded %s", s.name, resp.Status))
	}
}
