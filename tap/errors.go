package tap

import (
	"errors"
	"fmt"
)

// ErrInvalidPage is returned when a page body or its originating request
// cannot be read the way the paginator expects.
var ErrInvalidPage = errors.New("invalid page")

// ConfigError reports a configuration or wiring problem that must abort the
// affected stream before any request is made.
type ConfigError struct {
	Stream string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error in stream %s: %s", e.Stream, e.Reason)
}

// TransportError wraps a failed API call with the stream and URL it was made for.
type TransportError struct {
	Stream string
	Method string
	URL    string
	// Status is the HTTP status, or 0 when no response arrived.
	Status int
	Body   APIError
	Err    error
}

func (e *TransportError) Error() string {
	if msg, ok := e.Body["message"]; ok {
		return fmt.Sprintf("stream %s: %s %s: %v: %v", e.Stream, e.Method, e.URL, e.Err, msg)
	}
	return fmt.Sprintf("stream %s: %s %s: %v", e.Stream, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports a record that does not fit its stream schema.
type ValidationError struct {
	Stream string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s record: %s", e.Stream, e.Reason)
	}
	return fmt.Sprintf("invalid %s record: field %q %s", e.Stream, e.Field, e.Reason)
}
