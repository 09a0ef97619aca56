// Package bridge implements the length-prefixed msgpack RPC used to talk to
// the robot bridge daemon and the caption worker process.
//
// Every message is a 4-byte big-endian length followed by a msgpack body.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single message body
const MaxFrameSize = 64 << 20

var (
	// ErrRemote marks failures reported by the peer rather than the transport
	ErrRemote = errors.New("bridge: remote error")

	// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("bridge: frame too large")

	// ErrBroken is returned by calls on a conn whose framing was lost
	ErrBroken = errors.New("bridge: connection out of sync")
)

// Request is one RPC call
type Request struct {
	ID     string             `msgpack:"id"`
	Method string             `msgpack:"method"`
	Params msgpack.RawMessage `msgpack:"params,omitempty"`
}

// Response answers the Request with the same ID
type Response struct {
	ID     string             `msgpack:"id"`
	OK     bool               `msgpack:"ok"`
	Error  string             `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

// RemoteError carries the peer's error message
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Method, e.Message)
}

// Is lets errors.Is(err, ErrRemote) match any RemoteError
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// WriteFrame encodes v and writes it with its length prefix in one write
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message and decodes it into v
func ReadFrame(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
