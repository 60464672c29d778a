package stream

import (
	"errors"
	"fmt"
)

// ErrStreamEnded is terminal: the source has no more frames.
var ErrStreamEnded = errors.New("stream ended")

// ConnectionError means the source could not be reached at connect time.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to stream %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransientError is a retryable read failure; the service loop reconnects
// with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient stream read error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should trigger a reconnect instead of
// failing the service.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
