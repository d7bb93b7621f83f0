package alertx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Abraxas-365/batchx/pkg/alertx"
)

type stubSender struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubSender) Send(_ context.Context, _ alertx.Alert, _ ...alertx.Option) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestSend_FansOutToEveryProvider(t *testing.T) {
	ok := &stubSender{name: "console"}
	bad := &stubSender{name: "webhook", err: errors.New("endpoint down")}
	client := alertx.NewClient("batchx", []alertx.Sender{ok, bad})

	results := client.Send(context.Background(), alertx.Alert{
		Severity: alertx.SeverityWarning,
		Title:    "cycle failing",
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want one per provider", len(results))
	}
	byName := map[string]alertx.DeliveryResult{}
	for _, r := range results {
		byName[r.Provider] = r
	}
	if !byName["console"].Success {
		t.Fatalf("console delivery failed: %+v", byName["console"])
	}
	if byName["webhook"].Success || byName["webhook"].Error == "" {
		t.Fatalf("webhook failure not reported: %+v", byName["webhook"])
	}
	if ok.calls.Load() != 1 || bad.calls.Load() != 1 {
		t.Fatalf("providers called %d/%d times, want 1/1", ok.calls.Load(), bad.calls.Load())
	}
}

func TestSend_DropsBelowMinSeverity(t *testing.T) {
	s := &stubSender{name: "console"}
	client := alertx.NewClient("batchx", []alertx.Sender{s},
		alertx.WithMinSeverity(alertx.SeverityCritical))

	if res := client.Send(context.Background(), alertx.Alert{
		Severity: alertx.SeverityInfo,
		Title:    "noise",
	}); res != nil {
		t.Fatalf("expected nil results for filtered alert, got %+v", res)
	}
	if s.calls.Load() != 0 {
		t.Fatal("provider called for a filtered alert")
	}
}

func TestSend_StampsDefaults(t *testing.T) {
	capture := &captureSender{}
	client := alertx.NewClient("batchx", []alertx.Sender{capture})

	client.Send(context.Background(), alertx.Alert{
		Severity: alertx.SeverityInfo,
		Title:    "hello",
	})

	got := capture.last
	if got.ID == "" || got.Source != "batchx" || got.CreatedAt.IsZero() {
		t.Fatalf("alert not stamped with defaults: %+v", got)
	}
}

type captureSender struct {
	last alertx.Alert
}

func (c *captureSender) Send(_ context.Context, a alertx.Alert, _ ...alertx.Option) error {
	c.last = a
	return nil
}

func (c *captureSender) Name() string { return "capture" }
