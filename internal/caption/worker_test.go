package caption

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/bridge"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// TestHelperProcess is not a real test. It is the fake caption worker
// spawned by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	mode := os.Getenv("HELPER_MODE")
	fmt.Fprintln(os.Stderr, "[INFO] fake worker ready")

	_ = bridge.Serve(os.Stdin, os.Stdout, func(method string, params msgpack.RawMessage) (any, error) {
		switch method {
		case "load":
			if mode == "fail-load" {
				return nil, errors.New("model not found")
			}
			var p loadParams
			if err := msgpack.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if p.Model == "" || p.MaxLength != 50 {
				return nil, fmt.Errorf("bad load params %+v", p)
			}
			return nil, nil
		case "caption":
			var p captionParams
			if err := msgpack.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if len(p.Pixels) != p.Width*p.Height*p.Channels {
				return nil, fmt.Errorf("pixel buffer %d for %dx%dx%d", len(p.Pixels), p.Width, p.Height, p.Channels)
			}
			if mode == "slow" {
				time.Sleep(2 * time.Second)
			}
			if p.Pixels[0] == 255 {
				return captionReply{Text: " a room is burning with flames "}, nil
			}
			return captionReply{Text: "a blue wall"}, nil
		}
		return nil, fmt.Errorf("unknown method %s", method)
	})
	os.Exit(0)
}

func helperConfig(mode string) Config {
	cfg := DefaultConfig()
	cfg.Command = os.Args[0]
	cfg.Args = []string{"-test.run=TestHelperProcess", "--"}
	cfg.Env = []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode}
	cfg.LoadTimeout = 10 * time.Second
	return cfg
}

func redFrame() types.Frame {
	pix := make([]byte, 8*8*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i] = 255
	}
	f, _ := types.NewFrame(8, 8, 3, pix)
	return f
}

func TestLoadAndCaption(t *testing.T) {
	w := NewWorker(helperConfig(""))
	defer w.Close()

	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	res, err := w.Caption(context.Background(), redFrame())
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if res.Text != "a room is burning with flames" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", res.Elapsed)
	}

	res, err = w.Caption(context.Background(), types.Placeholder())
	if err != nil {
		t.Fatalf("Caption placeholder: %v", err)
	}
	if res.Text != "a blue wall" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestLoadFailure(t *testing.T) {
	w := NewWorker(helperConfig("fail-load"))
	defer w.Close()

	err := w.Load(context.Background())
	if !errors.Is(err, bridge.ErrRemote) {
		t.Fatalf("Load err = %v, want bridge.ErrRemote", err)
	}
	if _, err := w.Caption(context.Background(), redFrame()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Caption after failed load err = %v, want ErrNotLoaded", err)
	}
}

func TestCaptionTimeout(t *testing.T) {
	cfg := helperConfig("slow")
	cfg.CallTimeout = 100 * time.Millisecond
	cfg.StopTimeout = 100 * time.Millisecond
	w := NewWorker(cfg)
	defer w.Close()

	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err := w.Caption(context.Background(), redFrame())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if strings.Contains(err.Error(), "caption: caption:") {
		t.Errorf("error prefix repeated: %v", err)
	}
}

func TestCaptionBeforeLoad(t *testing.T) {
	w := NewWorker(DefaultConfig())
	if _, err := w.Caption(context.Background(), redFrame()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestMissingCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Command = "/nonexistent/blip-worker"
	w := NewWorker(cfg)
	if err := w.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing executable")
	}
}
