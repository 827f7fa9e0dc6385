package usbtmc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

const (
	DefaultTimeout         = 5 * time.Second
	DefaultMaxTransferSize = 1 << 20
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("usbtmc: client closed")
	// ErrInvalidUTF8 is returned by Query when the response is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("usbtmc: response is not valid UTF-8")
)

// pipe is the bulk endpoint pair a Client talks through. USBTransport is the
// production implementation.
type pipe interface {
	Write(ctx context.Context, data []byte) (int, error)
	Read(ctx context.Context, data []byte) (int, error)
	MaxPacketSize() int
	Close() error
}

// Client sends commands to and reads responses from a USBTMC instrument.
// Each command or command/response pair holds the client lock for its whole
// duration, so a Client is safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	pipe     pipe
	protocol *Protocol
	buf      []byte
	rx       []byte // received bytes not yet decoded
	closed   bool

	timeout     atomic.Int64
	maxTransfer uint32
}

// Open connects to the USBTMC device described by opts.
func Open(opts Options) (*Client, error) {
	t, err := OpenTransport(opts)
	if err != nil {
		return nil, err
	}
	return newClient(t), nil
}

func newClient(p pipe) *Client {
	c := &Client{
		pipe:        p,
		protocol:    NewProtocol(),
		maxTransfer: DefaultMaxTransferSize,
	}
	c.timeout.Store(int64(DefaultTimeout))
	return c
}

// SetTimeout sets the deadline applied to every subsequent bulk transfer. A
// non-positive duration disables the deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

// Timeout returns the current transfer timeout.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// Command sends cmd to the instrument. A trailing newline is appended when
// cmd does not already end with one.
func (c *Client) Command(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.write(cmd)
}

// QueryRaw sends cmd and returns the complete response message unmodified.
func (c *Client) QueryRaw(cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.write(cmd); err != nil {
		return nil, err
	}
	return c.read()
}

// Query sends cmd and returns the response as text with one trailing line
// terminator removed.
func (c *Client) Query(cmd string) (string, error) {
	raw, err := c.QueryRaw(cmd)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return trimTerminator(string(raw)), nil
}

// trimTerminator removes one trailing "\n" or "\r\n".
func trimTerminator(s string) string {
	return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r")
}

// Close releases the device. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.pipe.Close()
}

func (c *Client) transferContext() (context.Context, context.CancelFunc) {
	if d := c.Timeout(); d > 0 {
		return context.WithTimeout(context.Background(), d)
	}
	return context.WithCancel(context.Background())
}

func (c *Client) write(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	frame := c.protocol.EncodeDevDepMsgOut([]byte(cmd), true)

	ctx, cancel := c.transferContext()
	defer cancel()
	if _, err := c.pipe.Write(ctx, frame); err != nil {
		return fmt.Errorf("usbtmc: send %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// read collects DEV_DEP_MSG_IN transfers until the device flags EOM.
func (c *Client) read() ([]byte, error) {
	var out []byte
	for {
		req := c.protocol.EncodeRequestDevDepMsgIn(c.maxTransfer, -1)
		msg, err := c.transfer(req)
		if err != nil {
			return nil, err
		}
		out = append(out, msg.Data...)
		if msg.EOM {
			return out, nil
		}
	}
}

// transfer sends one request and returns the matching DEV_DEP_MSG_IN.
// Received bytes outlive the call in c.rx, so a reply that arrives after
// its request timed out is recognised by its bTag and skipped by the next
// transfer instead of being mistaken for the current answer.
func (c *Client) transfer(req []byte) (MsgIn, error) {
	ctx, cancel := c.transferContext()
	defer cancel()

	if _, err := c.pipe.Write(ctx, req); err != nil {
		return MsgIn{}, fmt.Errorf("usbtmc: request response: %w", err)
	}

	buf := c.readBuffer()
	for {
		if len(c.rx) > 0 {
			msg, err := c.protocol.DecodeDevDepMsgIn(c.rx, req[1])
			switch {
			case err == nil:
				msg.Data = append([]byte(nil), msg.Data...)
				c.consume(frameLen(c.rx))
				return msg, nil
			case errors.Is(err, ErrTagMismatch):
				c.consume(frameLen(c.rx))
				continue
			case !errors.Is(err, ErrShortTransfer):
				// Not a header; nothing buffered can be trusted.
				c.rx = nil
				return MsgIn{}, err
			}
		}

		n, err := c.pipe.Read(ctx, buf)
		if err != nil {
			return MsgIn{}, fmt.Errorf("usbtmc: read response: %w", err)
		}
		if n == 0 {
			return MsgIn{}, fmt.Errorf("usbtmc: read response: %w", ErrShortTransfer)
		}
		c.rx = append(c.rx, buf[:n]...)
	}
}

// consume drops n buffered bytes. Padding that has not arrived yet is not
// waited for.
func (c *Client) consume(n int) {
	c.rx = c.rx[min(n, len(c.rx)):]
	if len(c.rx) == 0 {
		c.rx = nil
	}
}

// readBuffer returns a buffer large enough for one maximal transfer, rounded
// up to whole packets.
func (c *Client) readBuffer() []byte {
	if c.buf == nil {
		packet := c.pipe.MaxPacketSize()
		if packet <= 0 {
			packet = DefaultPacketSize
		}
		size := HeaderSize + int(c.maxTransfer) + 3
		size = (size + packet - 1) / packet * packet
		c.buf = make([]byte, size)
	}
	return c.buf
}
