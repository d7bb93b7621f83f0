package alertx

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/batchx/pkg/asyncx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// Sender delivers a single alert through one channel.
type Sender interface {
	Send(ctx context.Context, a Alert, opts ...Option) error
	Name() string
}

// Client fans alerts out to every configured provider. Provider failures
// are reported per provider, never fail the caller's operation.
type Client struct {
	source      string
	providers   []Sender
	minSeverity Severity
	templates   *TemplateRegistry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMinSeverity drops alerts below the given severity.
func WithMinSeverity(min Severity) ClientOption {
	return func(c *Client) { c.minSeverity = min }
}

// NewClient creates an alert client tagged with a source identifier.
func NewClient(source string, providers []Sender, opts ...ClientOption) *Client {
	c := &Client{
		source:      source,
		providers:   providers,
		minSeverity: SeverityInfo,
		templates:   NewTemplateRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterTemplate parses and stores a named template for providers that
// render bodies.
func (c *Client) RegisterTemplate(name, tmplString string) error {
	return c.templates.Register(name, tmplString)
}

// Templates exposes the registry to providers.
func (c *Client) Templates() *TemplateRegistry { return c.templates }

// Send delivers the alert to every provider, returning per-provider results.
func (c *Client) Send(ctx context.Context, a Alert, opts ...Option) []DeliveryResult {
	if a.Title == "" {
		logx.Warn("alertx: dropping alert with empty title")
		return nil
	}
	if !a.Severity.AtLeast(c.minSeverity) {
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Source == "" {
		a.Source = c.source
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	// Providers deliver concurrently; a slow channel must not delay the rest.
	tasks := make([]func(context.Context) (DeliveryResult, error), 0, len(c.providers))
	for _, p := range c.providers {
		p := p
		tasks = append(tasks, func(ctx context.Context) (DeliveryResult, error) {
			res := DeliveryResult{Provider: p.Name(), Success: true}
			if err := p.Send(ctx, a, opts...); err != nil {
				res.Success = false
				res.Error = err.Error()
				logx.WithError(err).Warnf("alertx: provider %s failed to deliver alert %s", p.Name(), a.ID)
			}
			return res, nil
		})
	}

	settled := asyncx.AllSettled(ctx, tasks...)
	results := make([]DeliveryResult, 0, len(settled))
	for _, r := range settled {
		results = append(results, r.Value)
	}
	return results
}

// Info sends an informational alert.
func (c *Client) Info(ctx context.Context, title, message string, fields map[string]interface{}) {
	c.Send(ctx, Alert{Severity: SeverityInfo, Title: title, Message: message, Fields: fields})
}

// Warning sends a warning alert.
func (c *Client) Warning(ctx context.Context, title, message string, fields map[string]interface{}) {
	c.Send(ctx, Alert{Severity: SeverityWarning, Title: title, Message: message, Fields: fields})
}

// Critical sends a critical alert.
func (c *Client) Critical(ctx context.Context, title, message string, fields map[string]interface{}) {
	c.Send(ctx, Alert{Severity: SeverityCritical, Title: title, Message: message, Fields: fields})
}
