package failure

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload marks a payload that is not the JSON shape a stage
// requires (not an object, wrong events array length, bad compression).
var ErrMalformedPayload = errors.New("malformed payload")

// MalformedPayload wraps ErrMalformedPayload with detail.
func MalformedPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// InvalidAttributeError reports an attribute or payload value outside the
// accepted domain, e.g. an unknown document type.
type InvalidAttributeError struct {
	Message string
	Value   string
}

func (e *InvalidAttributeError) Error() string {
	return e.Message
}

// InvalidURLError reports a reporting URL that cannot be parsed or whose
// host is not allowed.
type InvalidURLError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %v", e.Reason, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.URL)
}

func (e *InvalidURLError) Unwrap() error { return e.Err }

// RejectedMessageError reports a missing or unusable value that the
// reporting contract requires. Field names the offending parameter.
type RejectedMessageError struct {
	Message string
	Field   string
}

func (e *RejectedMessageError) Error() string {
	return e.Message
}

// Rejected builds a RejectedMessageError.
func Rejected(field, format string, args ...any) error {
	return &RejectedMessageError{Message: fmt.Sprintf(format, args...), Field: field}
}

// Type names the error kind for counters and failure records. The empty
// string means err is not a recoverable per-event error.
func Type(err error) string {
	var (
		attrErr *InvalidAttributeError
		urlErr  *InvalidURLError
		rejErr  *RejectedMessageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &attrErr):
		return "invalid_attribute"
	case errors.As(err, &urlErr):
		return "invalid_url"
	case errors.As(err, &rejErr):
		return "rejected_message"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	default:
		return ""
	}
}

// IsRecoverable reports whether err belongs to one record only and should be
// routed to the failure output instead of aborting the run.
func IsRecoverable(err error) bool {
	return Type(err) != ""
}
