package speedtest

import (
	"errors"
	"fmt"
)

// ErrCanceled is the cause recorded when a consumer aborts a session. It
// ends the session with a canceled Finished event rather than an Error.
var ErrCanceled = errors.New("speedtest canceled")

// errDeadline is the cause recorded when the duration cap elapses.
var errDeadline = errors.New("speedtest duration cap reached")

// ConfigError rejects a test before any session is created.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError terminates a running session with an Error event.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: server responded with %v", e.Op, e.URL, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
