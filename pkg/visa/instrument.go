package visa

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
)

// Instrument is a transport-agnostic handle to a connected instrument. Clone
// returns another handle to the same connection; the connection is released
// when the last handle is closed. Handles are safe for concurrent use, but
// commands sent through different handles are not ordered with respect to
// each other.
type Instrument struct {
	shared *sharedConn
	closed atomic.Bool
}

type sharedConn struct {
	conn    Connector
	address address.Resolved
	refs    atomic.Int64

	release  sync.Once
	closeErr error
}

func newInstrument(conn Connector, res address.Resolved) *Instrument {
	s := &sharedConn{conn: conn, address: res}
	s.refs.Store(1)
	return &Instrument{shared: s}
}

// Address returns the resolved address the instrument was connected with.
func (i *Instrument) Address() address.Resolved {
	return i.shared.address
}

// Clone returns a new handle to the same connection. Cloning a closed handle,
// or one whose connection is already released, yields a closed handle.
func (i *Instrument) Clone() *Instrument {
	s := i.shared
	if !i.closed.Load() {
		for {
			n := s.refs.Load()
			if n <= 0 {
				break
			}
			if s.refs.CompareAndSwap(n, n+1) {
				return &Instrument{shared: s}
			}
		}
	}
	c := &Instrument{shared: s}
	c.closed.Store(true)
	return c
}

// Close releases this handle. The connection is closed when the last handle
// is released; that call returns the connector's close error, if any. Closing
// a handle twice is a no-op.
func (i *Instrument) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	s := i.shared
	if s.refs.Add(-1) != 0 {
		return nil
	}
	s.release.Do(func() {
		if c, ok := s.conn.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

// SetTimeout sets the transport timeout for all subsequent operations on the
// connection, and therefore on every handle sharing it. Transport failures
// to apply the timeout are not reported.
func (i *Instrument) SetTimeout(d time.Duration) {
	if i.closed.Load() {
		return
	}
	i.shared.conn.SetTimeout(d)
}

// Command sends cmd to the instrument.
func (i *Instrument) Command(cmd string) error {
	if i.closed.Load() {
		return ErrClosed
	}
	if err := i.shared.conn.Command(cmd); err != nil {
		return transportIO("command", cmd, err)
	}
	return nil
}

// Query sends cmd and returns the response decoded as UTF-8 text.
func (i *Instrument) Query(cmd string) (string, error) {
	if i.closed.Load() {
		return "", ErrClosed
	}
	resp, err := i.shared.conn.Query(cmd)
	if err != nil {
		return "", transportIO("query", cmd, err)
	}
	return resp, nil
}

// QueryRaw sends cmd and returns the undecoded response payload.
func (i *Instrument) QueryRaw(cmd string) ([]byte, error) {
	if i.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := i.shared.conn.QueryRaw(cmd)
	if err != nil {
		return nil, transportIO("query", cmd, err)
	}
	return resp, nil
}
