package alertxwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/errx"
)

var webhookErrors = errx.NewRegistry("ALERTX_WEBHOOK")

var (
	ErrPostFailed    = webhookErrors.Register("POST_FAILED", errx.TypeExternal, 500, "Webhook delivery failed")
	ErrBadStatus     = webhookErrors.Register("BAD_STATUS", errx.TypeExternal, 502, "Webhook returned non-2xx status")
	ErrMarshalFailed = webhookErrors.Register("MARSHAL_FAILED", errx.TypeInternal, 500, "Failed to marshal alert")
)

// WebhookProvider POSTs alerts as JSON to an HTTP endpoint (Slack-style
// incoming webhooks, internal collectors).
type WebhookProvider struct {
	url    string
	client *http.Client
}

// NewWebhookProvider creates a new webhook alert provider.
func NewWebhookProvider(url string) *WebhookProvider {
	return &WebhookProvider{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the provider in delivery results.
func (p *WebhookProvider) Name() string { return "webhook" }

// Send POSTs the alert to the configured endpoint.
func (p *WebhookProvider) Send(ctx context.Context, a alertx.Alert, _ ...alertx.Option) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return webhookErrors.NewWithCause(ErrMarshalFailed, err).WithDetail("alert_id", a.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return webhookErrors.NewWithCause(ErrPostFailed, err).WithDetail("alert_id", a.ID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return webhookErrors.NewWithCause(ErrPostFailed, err).WithDetail("alert_id", a.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return webhookErrors.New(ErrBadStatus).
			WithDetail("alert_id", a.ID).
			WithDetail("status", resp.StatusCode)
	}
	return nil
}
