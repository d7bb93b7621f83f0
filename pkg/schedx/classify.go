package schedx

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// WorkError lets a work function report a failure with an explicit kind
// instead of relying on message inspection.
type WorkError struct {
	Kind ErrorKind
	Err  error
}

func (e *WorkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *WorkError) Unwrap() error { return e.Err }

// NewWorkError wraps err with an explicit error kind.
func NewWorkError(kind ErrorKind, err error) *WorkError {
	return &WorkError{Kind: kind, Err: err}
}

// Classify maps an arbitrary work-function error onto the closed ErrorKind
// taxonomy. Explicit WorkError kinds and context deadline errors win;
// everything else is classified by message inspection, falling back to
// execution_error.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var we *WorkError
	if errors.As(err, &we) && we.Kind != "" {
		return we.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return ErrorKindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "throttle") || strings.Contains(msg, "too many requests"):
		return ErrorKindRateLimit
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe"):
		return ErrorKindConnection
	case strings.Contains(msg, "network") || strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return ErrorKindNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") || strings.Contains(msg, "auth"):
		return ErrorKindAuthentication
	case strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "access denied"):
		return ErrorKindPermission
	case strings.Contains(msg, "proxy"):
		return ErrorKindProxy
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid config"):
		return ErrorKindValidation
	default:
		return ErrorKindExecution
	}
}
