package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type echoParams struct {
	Text string `msgpack:"text"`
}

func startServer(t *testing.T, h Handler) *Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		_ = Serve(server, server, h)
		server.Close()
	}()
	conn := NewConn(client, client, client)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, map[string]int{"width": 640}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if int(n) != buf.Len()-4 {
		t.Fatalf("length prefix %d, body %d", n, buf.Len()-4)
	}

	var got map[string]int
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got["width"] != 640 {
		t.Errorf("width = %d, want 640", got["width"])
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)

	err := ReadFrame(bytes.NewReader(hdr[:]), new(any))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestCall(t *testing.T) {
	conn := startServer(t, func(method string, params msgpack.RawMessage) (any, error) {
		switch method {
		case "echo":
			var p echoParams
			if err := msgpack.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return echoParams{Text: "re: " + p.Text}, nil
		case "ping":
			return nil, nil
		}
		return nil, fmt.Errorf("unknown method %s", method)
	})

	ctx := context.Background()

	var out echoParams
	if err := conn.Call(ctx, "echo", echoParams{Text: "hi"}, &out); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if out.Text != "re: hi" {
		t.Errorf("echo result = %q", out.Text)
	}

	if err := conn.Call(ctx, "ping", nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	err := conn.Call(ctx, "explode", nil, nil)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("explode err = %v, want ErrRemote", err)
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Method != "explode" {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestCallHonoursContextDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		// read the request and never answer
		var req Request
		_ = ReadFrame(server, &req)
	}()

	conn := NewConn(client, client, client)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := conn.Call(ctx, "camera.get_image", nil, nil)
	if err == nil {
		t.Fatal("expected error from unanswered call")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call blocked for %v", elapsed)
	}
}

func TestCallAfterClose(t *testing.T) {
	conn := startServer(t, func(string, msgpack.RawMessage) (any, error) { return nil, nil })
	conn.Close()

	if err := conn.Call(context.Background(), "ping", nil, nil); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("err = %v, want net.ErrClosed", err)
	}
}

func TestCallSkipsStaleReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var slowOnce atomic.Bool
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		_ = Serve(nc, nc, func(method string, params msgpack.RawMessage) (any, error) {
			if method == "slow" && slowOnce.CompareAndSwap(false, true) {
				time.Sleep(200 * time.Millisecond)
			}
			var p echoParams
			_ = msgpack.Unmarshal(params, &p)
			return p, nil
		})
	}()

	conn, err := Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	err = conn.Call(ctx, "slow", echoParams{Text: "late"}, nil)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("slow call err = %v, want deadline exceeded", err)
	}
	if conn.Broken() {
		t.Fatal("timeout on a frame boundary marked the conn broken")
	}

	time.Sleep(250 * time.Millisecond)

	for i := 0; i < 3; i++ {
		var out echoParams
		want := fmt.Sprintf("call-%d", i)
		if err := conn.Call(context.Background(), "echo", echoParams{Text: want}, &out); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if out.Text != want {
			t.Errorf("call %d: got %q, want %q", i, out.Text, want)
		}
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestPartialReadMarksBroken(t *testing.T) {
	// two bytes of a length prefix, then the transport dies
	r := io.MultiReader(bytes.NewReader([]byte{0, 0}), failingReader{err: errors.New("reset by peer")})
	conn := NewConn(r, io.Discard, nil)

	if err := conn.Call(context.Background(), "ping", nil, nil); err == nil {
		t.Fatal("Call succeeded on a dead transport")
	}
	if !conn.Broken() {
		t.Fatal("Broken = false after a partial frame")
	}
	if err := conn.Call(context.Background(), "ping", nil, nil); !errors.Is(err, ErrBroken) {
		t.Errorf("second call err = %v, want ErrBroken", err)
	}
}
