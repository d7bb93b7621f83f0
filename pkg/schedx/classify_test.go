package schedx_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Abraxas-365/batchx/pkg/schedx"
)

func TestClassify_MessageInspection(t *testing.T) {
	cases := []struct {
		msg  string
		want schedx.ErrorKind
	}{
		{"request timed out after 30s", schedx.ErrorKindTimeout},
		{"429 too many requests", schedx.ErrorKindRateLimit},
		{"dial tcp: connection refused", schedx.ErrorKindConnection},
		{"lookup api.example.com: no such host", schedx.ErrorKindNetwork},
		{"401 unauthorized", schedx.ErrorKindAuthentication},
		{"access denied for actor", schedx.ErrorKindPermission},
		{"proxy handshake rejected", schedx.ErrorKindProxy},
		{"invalid config: missing url", schedx.ErrorKindValidation},
		{"something exploded", schedx.ErrorKindExecution},
	}
	for _, tc := range cases {
		if got := schedx.Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassify_ExplicitKindWins(t *testing.T) {
	// The message alone would classify as timeout; the wrapped kind must win.
	err := schedx.NewWorkError(schedx.ErrorKindRateLimit, errors.New("operation timed out"))
	if got := schedx.Classify(err); got != schedx.ErrorKindRateLimit {
		t.Fatalf("expected rate_limit, got %s", got)
	}

	wrapped := fmt.Errorf("running job: %w", schedx.NewWorkError(schedx.ErrorKindProxy, errors.New("boom")))
	if got := schedx.Classify(wrapped); got != schedx.ErrorKindProxy {
		t.Fatalf("expected proxy through wrapping, got %s", got)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	if got := schedx.Classify(context.DeadlineExceeded); got != schedx.ErrorKindTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	wrapped := fmt.Errorf("work: %w", context.DeadlineExceeded)
	if got := schedx.Classify(wrapped); got != schedx.ErrorKindTimeout {
		t.Fatalf("expected timeout through wrapping, got %s", got)
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := schedx.Classify(nil); got != "" {
		t.Fatalf("expected empty kind for nil error, got %s", got)
	}
}
