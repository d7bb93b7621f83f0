package alertxconsole

import (
	"context"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// ConsoleProvider prints alerts to the terminal via logx. Intended for
// development and testing.
type ConsoleProvider struct{}

// NewConsoleProvider creates a new console alert provider.
func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{}
}

// Name identifies the provider in delivery results.
func (p *ConsoleProvider) Name() string { return "console" }

// Send logs the alert instead of delivering it.
func (p *ConsoleProvider) Send(_ context.Context, a alertx.Alert, _ ...alertx.Option) error {
	entry := logx.WithFields(logx.Fields{
		"alert_id": a.ID,
		"source":   a.Source,
		"severity": string(a.Severity),
	})
	for k, v := range a.Fields {
		entry = entry.WithField(k, v)
	}

	switch a.Severity {
	case alertx.SeverityCritical:
		entry.Errorf("alertx/console: %s: %s", a.Title, a.Message)
	case alertx.SeverityWarning:
		entry.Warnf("alertx/console: %s: %s", a.Title, a.Message)
	default:
		entry.Infof("alertx/console: %s: %s", a.Title, a.Message)
	}
	return nil
}
