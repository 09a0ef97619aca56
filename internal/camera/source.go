// Package camera captures single frames from the robot's camera.
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
	"github.com/dj-oyu/nao-firewatch/internal/robot"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// Device is the subset of the robot session used for capture
type Device interface {
	Subscribe(ctx context.Context, p robot.CameraParams) (string, error)
	GetImage(ctx context.Context, handle string) (robot.RawImage, error)
	Unsubscribe(ctx context.Context, handle string) error
}

// Config holds camera parameters
type Config struct {
	Name       string
	CameraID   int
	Resolution int // 2 = 640x480 on NAO
	ColorSpace int // 11 = RGB on NAO
	FPS        int
	WarmUp     time.Duration // wait after subscribing before the first read
}

// DefaultConfig returns the NAO top camera at 640x480 RGB
func DefaultConfig() Config {
	return Config{
		Name:       "fire_detection",
		CameraID:   0,
		Resolution: 2,
		ColorSpace: 11,
		FPS:        5,
		WarmUp:     100 * time.Millisecond,
	}
}

// Result is a captured frame. Frame is always usable; Fallback reports that
// it is the placeholder and Err holds the cause.
type Result struct {
	Frame    types.Frame
	Fallback bool
	Err      error
}

// Source captures one frame per request
type Source struct {
	dev Device
	cfg Config
}

// NewSource creates a frame source over dev. dev may be nil, in which case
// every capture falls back to the placeholder.
func NewSource(dev Device, cfg Config) *Source {
	return &Source{dev: dev, cfg: cfg}
}

// Capture subscribes, reads one image and unsubscribes. It never fails:
// any problem yields the placeholder frame.
func (s *Source) Capture(ctx context.Context) Result {
	frame, err := s.capture(ctx)
	if err != nil {
		logger.Warn("Camera", "Capture failed, using placeholder frame: %v", err)
		return Result{Frame: types.Placeholder(), Fallback: true, Err: err}
	}
	return Result{Frame: frame}
}

func (s *Source) capture(ctx context.Context) (types.Frame, error) {
	if s.dev == nil {
		return types.Frame{}, errors.New("camera device unavailable")
	}

	handle, err := s.dev.Subscribe(ctx, robot.CameraParams{
		Name:       s.cfg.Name,
		CameraID:   s.cfg.CameraID,
		Resolution: s.cfg.Resolution,
		ColorSpace: s.cfg.ColorSpace,
		FPS:        s.cfg.FPS,
	})
	if err != nil {
		return types.Frame{}, fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		// release even if ctx was cancelled mid-capture
		if err := s.dev.Unsubscribe(context.WithoutCancel(ctx), handle); err != nil {
			logger.Debug("Camera", "Unsubscribe %s: %v", handle, err)
		}
	}()

	if s.cfg.WarmUp > 0 {
		select {
		case <-time.After(s.cfg.WarmUp):
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		}
	}

	img, err := s.dev.GetImage(ctx, handle)
	if err != nil {
		return types.Frame{}, fmt.Errorf("get image: %w", err)
	}
	if img.Data == nil {
		return types.Frame{}, errors.New("camera returned no image")
	}

	frame, err := types.NewFrame(img.Width, img.Height, img.Channels, img.Data)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode image: %w", err)
	}
	return frame, nil
}
