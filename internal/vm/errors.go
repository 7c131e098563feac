package vm

import (
	"errors"
	"fmt"
)

// Endpoint resolution failures. Both are fatal configuration errors reported
// before any network call.
var (
	ErrInvalidHost        = errors.New("invalid host URL")
	ErrMissingClusterHost = errors.New("cluster host not configured")
)

// TransportErrorKind classifies a transport failure.
type TransportErrorKind int

const (
	// TransportNetwork is a connection-level failure (refused, reset, DNS).
	TransportNetwork TransportErrorKind = iota
	// TransportHTTPStatus is a non-2xx response from the backend.
	TransportHTTPStatus
	// TransportTimeout is a per-request deadline expiry.
	TransportTimeout
	// TransportCancelled means the caller's context was cancelled.
	TransportCancelled
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportNetwork:
		return "network"
	case TransportHTTPStatus:
		return "http status"
	case TransportTimeout:
		return "timeout"
	case TransportCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TransportError is a failed HTTP exchange after any applicable retries.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	case TransportTimeout:
		return "request timed out"
	case TransportCancelled:
		return "request cancelled"
	default:
		return fmt.Sprintf("network error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// transient reports whether the failure may clear on retry: connection
// errors, timeouts, 5xx responses and 429 rate limiting. Other 4xx statuses
// signal a caller error and are permanent.
func (e *TransportError) transient() bool {
	switch e.Kind {
	case TransportNetwork, TransportTimeout:
		return true
	case TransportHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// QueryErrorKind classifies a query failure.
type QueryErrorKind int

const (
	// QueryInvalidRange means start > end or a non-positive step.
	QueryInvalidRange QueryErrorKind = iota
	// QueryBackend is a backend-reported failure (envelope status != success).
	QueryBackend
	// QueryDecode is a malformed backend response.
	QueryDecode
)

// QueryError is a failed query execution. For QueryBackend, Message carries
// the backend's error string verbatim.
type QueryError struct {
	Kind    QueryErrorKind
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	switch e.Kind {
	case QueryInvalidRange:
		return fmt.Sprintf("invalid query range: %s", e.Message)
	case QueryBackend:
		return fmt.Sprintf("backend error: %s", e.Message)
	default:
		return fmt.Sprintf("failed to decode backend response: %v", e.Err)
	}
}

func (e *QueryError) Unwrap() error { return e.Err }
