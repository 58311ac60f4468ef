package kolibri

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout = errors.New("request timed out")
	// ErrAborted reports that the caller's context was cancelled.
	ErrAborted = errors.New("request aborted")
	// ErrNoTransport is returned when neither SSE nor WebSocket may be used.
	ErrNoTransport = errors.New("no streaming transport available")
	// ErrMissingSession is returned when a stream handshake yields no session id.
	ErrMissingSession = errors.New("server did not return a session id")
)

// APIError is a non-2xx response from the node.
type APIError struct {
	Status  int
	Message string
	// Payload is the decoded JSON error body, nil when the body was not JSON.
	Payload any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// TimeoutError is raised when the client-side timeout fires before a response arrives.
type TimeoutError struct {
	Method string
	URL    string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s %s: timed out after %s", e.Method, e.URL, e.After)
	}
	return fmt.Sprintf("%s %s: timed out", e.Method, e.URL)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NetworkError wraps a failure that happened before any response existed.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a client-side timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsAborted reports whether err came from caller cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func abortError(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
