package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies a failed request.
type FailureKind string

const (
	KindTransport FailureKind = "transport"
	KindMalformed FailureKind = "malformed_response"
	KindStatus    FailureKind = "http_status"
	KindCancelled FailureKind = "cancelled"
	KindUnknown   FailureKind = "unknown"
)

// Classified is implemented by errors that know their failure kind.
type Classified interface {
	FailureKind() FailureKind
}

// TransportError wraps connection, timeout and body read failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FailureKind reports KindCancelled when the run context ended the request.
func (e *TransportError) FailureKind() FailureKind {
	if errors.Is(e.Err, context.Canceled) {
		return KindCancelled
	}
	return KindTransport
}

// Timeout reports whether the underlying error was a timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// MalformedResponseError is returned when the body is not the expected
// [result, {"secs": S, "nanos": N}] envelope.
type MalformedResponseError struct {
	Reason string
	Body   string // leading bytes of the response, for logs
}

func (e *MalformedResponseError) Error() string {
	if e.Body == "" {
		return "malformed response: " + e.Reason
	}
	return fmt.Sprintf("malformed response: %s (body %q)", e.Reason, e.Body)
}

func (e *MalformedResponseError) FailureKind() FailureKind { return KindMalformed }

// StatusError is returned for non-2xx responses, e.g. the server's 500 when
// all workers are busy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) FailureKind() FailureKind { return KindStatus }

// KindOf classifies err. Errors that do not implement Classified map to
// KindCancelled for context errors and KindUnknown otherwise.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.FailureKind()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}
