package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
	ProviderID() string
}

// WebhookSender posts {"to","body"} JSON to an SMS gateway with an optional bearer token.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) SendSMS(ctx context.Context, to, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	raw, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

// ErrNotConfigured is returned for a channel that has no transport. Retrying
// cannot help, so such deliveries fail at once.
var ErrNotConfigured = errors.New("notification channel not configured")

// unconfigured stands in for a channel without a transport and refuses every
// message, so the queue never records a delivery that did not happen.
type unconfigured struct{ channel string }

func (u unconfigured) ProviderID() string { return "none" }

func (u unconfigured) SendSMS(context.Context, string, string) error {
	return fmt.Errorf("%s: %w", u.channel, ErrNotConfigured)
}

func (u unconfigured) SendEmail(context.Context, string, string, string) error {
	return fmt.Errorf("%s: %w", u.channel, ErrNotConfigured)
}
