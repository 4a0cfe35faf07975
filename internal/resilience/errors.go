package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrBreakerOpen is returned once the intake breaker has tripped.
	ErrBreakerOpen = errors.New("import breaker open")
)

// ImportError describes a message that failed conversion or dispatch.
type ImportError struct {
	Path      string
	NativeID  string
	Err       error
	Recovered any
}

func (e *ImportError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("import %s message %s: panic: %v", e.Path, e.NativeID, e.Recovered)
	}
	return fmt.Sprintf("import %s message %s: %v", e.Path, e.NativeID, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err should cause redelivery rather than
// quarantine: cancellations, timeouts, network errors and anything that
// declares itself temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
