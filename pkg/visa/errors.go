package visa

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
)

// Address errors, re-exported so callers need only this package.
var (
	ErrUnrecognizedInterface = address.ErrUnrecognizedInterface
	ErrMalformedField        = address.ErrMalformedField
	ErrMissingField          = address.ErrMissingField
)

var (
	// ErrTransportConnect reports that a transport could not establish the
	// connection (device absent, busy, permission denied).
	ErrTransportConnect = errors.New("visa: transport connect failed")
	// ErrTransportIO reports a failed command or query on an established
	// connection. The Instrument remains usable.
	ErrTransportIO = errors.New("visa: transport I/O failed")
	// ErrClosed is returned by operations on a closed Instrument handle.
	ErrClosed = errors.New("visa: instrument handle closed")
)

// ConnectionError is returned by Connect. It wraps either an address error or
// ErrTransportConnect together with the transport's own error.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("visa: connect %q: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func transportIO(op, cmd string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrTransportIO, op, cmd, err)
}
