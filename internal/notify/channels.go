package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"vouch/pkg/email"
)

// Channel delivers one event to one destination. Implementations classify
// their failures via ChannelError so the worker can tell a quota blip from a
// permanently bad request.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// ChannelError wraps a delivery failure with retry classification.
type ChannelError struct {
	Channel    string
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s delivery failed (status %d): %s", e.Channel, e.StatusCode, e.Message)
}

// IsRetryable reports whether an error is worth another attempt. Unknown
// errors (network, context) are treated as retryable; only an explicit
// non-retryable classification stops the retry loop early.
func IsRetryable(err error) bool {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

// classifyStatus maps an HTTP response code to retryability. Rate limiting
// (429) and payment/quota responses (402) are transient by contract with the
// providers we use; other 4xx codes mean the request itself is wrong.
func classifyStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusPaymentRequired:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func drainBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return string(bytes.TrimSpace(b))
}

// =====================================================================
// ChatOps webhook
// =====================================================================

// ChatOpsChannel posts a short message to a team chat webhook.
type ChatOpsChannel struct {
	url    string
	client *http.Client
}

func NewChatOpsChannel(url string, client *http.Client) *ChatOpsChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatOpsChannel{url: url, client: client}
}

func (c *ChatOpsChannel) Name() string { return "chatops" }

func (c *ChatOpsChannel) Send(ctx context.Context, ev Event) error {
	text := fmt.Sprintf("purchase claim %s for %s: %s", ev.ClaimID, ev.ResourceID, ev.Kind)
	if reason := ev.Payload["reason"]; reason != "" {
		text += " (" + reason + ")"
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal chatops payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chatops request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chatops webhook: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body.Close()
		return nil
	}
	return &ChannelError{
		Channel:    c.Name(),
		StatusCode: resp.StatusCode,
		Retryable:  classifyStatus(resp.StatusCode),
		Message:    drainBody(resp),
	}
}

// =====================================================================
// Transactional email
// =====================================================================

// EmailChannel sends a transactional email through an HTTP provider API.
type EmailChannel struct {
	url    string
	apiKey string
	client *http.Client
}

func NewEmailChannel(url, apiKey string, client *http.Client) *EmailChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &EmailChannel{url: url, apiKey: apiKey, client: client}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, ev Event) error {
	subject := "Your purchase was approved"
	if ev.Kind == KindPurchaseRejected {
		subject = "Your purchase was rejected"
	}
	firstName, lastName := email.DeriveNameFromEmail(ev.Recipient)
	body, err := json.Marshal(map[string]any{
		"to":      ev.Recipient,
		"subject": subject,
		"template": map[string]string{
			"first_name": firstName,
			"last_name":  lastName,
			"kind":       string(ev.Kind),
			"resource":   ev.ResourceID,
			"reason":     ev.Payload["reason"],
		},
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post email api: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body.Close()
		return nil
	}
	return &ChannelError{
		Channel:    c.Name(),
		StatusCode: resp.StatusCode,
		Retryable:  classifyStatus(resp.StatusCode),
		Message:    drainBody(resp),
	}
}
