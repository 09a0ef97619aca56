package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// countingReader tracks bytes consumed so a failed read can tell whether
// it stopped on a frame boundary
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// Conn is a synchronous RPC client. Calls are serialized. Replies to calls
// that gave up waiting are skipped by ID when they arrive later.
type Conn struct {
	mu     sync.Mutex
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	dls    []deadliner
	closed bool
	broken bool // stream position unknown after a partial read or write
}

// NewConn wraps a reader/writer pair. closer may be nil.
func NewConn(r io.Reader, w io.Writer, closer io.Closer) *Conn {
	c := &Conn{
		r:      bufio.NewReader(r),
		w:      w,
		closer: closer,
	}
	if d, ok := r.(deadliner); ok {
		c.dls = append(c.dls, d)
	}
	if d, ok := w.(deadliner); ok && any(w) != any(r) {
		c.dls = append(c.dls, d)
	}
	return c
}

// Dial connects to a bridge daemon over TCP
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(nc, nc, nc), nil
}

// Call sends method with params and decodes the result into result
// (which may be nil). A peer-side failure is returned as *RemoteError.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if c.broken {
		return fmt.Errorf("%s: %w", method, ErrBroken)
	}

	var raw msgpack.RawMessage
	if params != nil {
		b, err := msgpack.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: marshal params: %w", method, err)
		}
		raw = b
	}

	if len(c.dls) > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			c.setDeadline(deadline)
		}
		stop := context.AfterFunc(ctx, func() {
			c.setDeadline(time.Unix(1, 0))
		})
		defer func() {
			stop()
			c.setDeadline(time.Time{})
		}()
	}

	req := Request{
		ID:     uuid.NewString(),
		Method: method,
		Params: raw,
	}
	if err := WriteFrame(c.w, &req); err != nil {
		if !errors.Is(err, ErrFrameTooLarge) {
			c.broken = true
		}
		return c.wrap(ctx, method, err)
	}

	var resp Response
	for {
		cr := countingReader{r: c.r}
		if err := ReadFrame(&cr, &resp); err != nil {
			if cr.n > 0 {
				c.broken = true
			}
			return c.wrap(ctx, method, err)
		}
		if resp.ID == req.ID {
			break
		}
		logger.Debug("Bridge", "Skipping stale reply %s while waiting for %s", resp.ID, method)
		resp = Response{}
	}
	if !resp.OK {
		return &RemoteError{Method: method, Message: resp.Error}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := msgpack.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// Broken reports whether the stream lost framing and the conn must be replaced
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

func (c *Conn) setDeadline(t time.Time) {
	for _, d := range c.dls {
		_ = d.SetDeadline(t)
	}
}

func (c *Conn) wrap(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", method, ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%s: %w", method, context.DeadlineExceeded)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: connection closed by peer: %w", method, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// Close releases the underlying transport
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
