package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/dj-oyu/nao-firewatch/internal/robot"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

type fakeDevice struct {
	img          robot.RawImage
	subErr       error
	getErr       error
	subscribed   int
	unsubscribed int
}

func (d *fakeDevice) Subscribe(ctx context.Context, p robot.CameraParams) (string, error) {
	if d.subErr != nil {
		return "", d.subErr
	}
	d.subscribed++
	return p.Name, nil
}

func (d *fakeDevice) GetImage(ctx context.Context, handle string) (robot.RawImage, error) {
	return d.img, d.getErr
}

func (d *fakeDevice) Unsubscribe(ctx context.Context, handle string) error {
	d.unsubscribed++
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WarmUp = 0
	return cfg
}

func TestCaptureSuccess(t *testing.T) {
	dev := &fakeDevice{img: robot.RawImage{Width: 4, Height: 2, Channels: 3, Data: make([]byte, 24)}}
	src := NewSource(dev, testConfig())

	res := src.Capture(context.Background())
	if res.Fallback || res.Err != nil {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	if res.Frame.Width != 4 || res.Frame.Height != 2 {
		t.Errorf("frame = %dx%d", res.Frame.Width, res.Frame.Height)
	}
	if dev.unsubscribed != 1 {
		t.Errorf("unsubscribed %d times, want 1", dev.unsubscribed)
	}
}

func TestCaptureFallbacks(t *testing.T) {
	tests := []struct {
		name string
		dev  *fakeDevice
	}{
		{"get error", &fakeDevice{getErr: errors.New("camera busy")}},
		{"nil buffer", &fakeDevice{img: robot.RawImage{Width: 640, Height: 480, Channels: 3}}},
		{"short buffer", &fakeDevice{img: robot.RawImage{Width: 640, Height: 480, Channels: 3, Data: make([]byte, 100)}}},
		{"bad channels", &fakeDevice{img: robot.RawImage{Width: 1, Height: 1, Channels: 2, Data: make([]byte, 2)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewSource(tt.dev, testConfig()).Capture(context.Background())
			if !res.Fallback || res.Err == nil {
				t.Fatalf("expected fallback, got %+v", res)
			}
			assertPlaceholder(t, res.Frame)
			if tt.dev.unsubscribed != 1 {
				t.Errorf("unsubscribed %d times, want 1", tt.dev.unsubscribed)
			}
		})
	}
}

func TestCaptureSubscribeFailure(t *testing.T) {
	dev := &fakeDevice{subErr: errors.New("no camera")}
	res := NewSource(dev, testConfig()).Capture(context.Background())
	if !res.Fallback {
		t.Fatal("expected fallback")
	}
	if dev.unsubscribed != 0 {
		t.Errorf("unsubscribed without a subscription")
	}
	assertPlaceholder(t, res.Frame)
}

func TestCaptureNoDevice(t *testing.T) {
	res := NewSource(nil, testConfig()).Capture(context.Background())
	if !res.Fallback {
		t.Fatal("expected fallback")
	}
	assertPlaceholder(t, res.Frame)
}

func assertPlaceholder(t *testing.T, f types.Frame) {
	t.Helper()
	if f.Width != 640 || f.Height != 480 || f.Channels != 3 {
		t.Fatalf("placeholder geometry %dx%dx%d", f.Width, f.Height, f.Channels)
	}
	if f.Pix[0] != 0 || f.Pix[1] != 0 || f.Pix[2] != 255 {
		t.Errorf("placeholder pixel = %v, want blue", f.Pix[:3])
	}
}
