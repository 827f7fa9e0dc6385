package address

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedInterface reports that the first segment names no known
	// transport family.
	ErrUnrecognizedInterface = errors.New("address: unrecognized interface")
	// ErrMalformedField reports a segment that is present but cannot be parsed.
	ErrMalformedField = errors.New("address: malformed field")
	// ErrMissingField reports a segment required by the transport that is absent
	// or empty.
	ErrMissingField = errors.New("address: missing field")
)

// Error describes why a resource address could not be resolved. It matches
// one of the sentinel errors above through errors.Is.
type Error struct {
	Address string // input as given
	Segment int    // zero-based segment index, -1 when not tied to a segment
	Value   string // offending segment text, if any
	Kind    error  // one of ErrUnrecognizedInterface, ErrMalformedField, ErrMissingField
	Cause   error  // underlying parse error, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Segment >= 0 {
		msg = fmt.Sprintf("%s: segment %d", msg, e.Segment)
		if e.Value != "" {
			msg = fmt.Sprintf("%s (%q)", msg, e.Value)
		}
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("%s in %q", msg, e.Address)
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func fieldError(kind error, segment int, value string, cause error) *Error {
	return &Error{Segment: segment, Value: value, Kind: kind, Cause: cause}
}
