// Package robot is a client for the NAOqi bridge daemon running next to the
// robot. It exposes the camera and text-to-speech calls the monitor needs.
package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/bridge"
	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

// ErrNotConnected is returned by calls made before Connect
var ErrNotConnected = errors.New("robot: not connected")

// Config holds the session settings
type Config struct {
	Address     string        // host:port of the bridge daemon
	DialTimeout time.Duration // TCP connect timeout
	CallTimeout time.Duration // per-call timeout, 0 = none
}

// CameraParams selects the camera stream for a subscription
type CameraParams struct {
	Name       string `msgpack:"name"`
	CameraID   int    `msgpack:"camera_id"`
	Resolution int    `msgpack:"resolution"`
	ColorSpace int    `msgpack:"color_space"`
	FPS        int    `msgpack:"fps"`
}

// RawImage is an image as delivered by the robot camera
type RawImage struct {
	Width    int    `msgpack:"width"`
	Height   int    `msgpack:"height"`
	Channels int    `msgpack:"channels"`
	Data     []byte `msgpack:"data"`
}

// Client is a session with the bridge daemon. Safe for sequential use from
// multiple goroutines; calls are serialized on the connection.
type Client struct {
	cfg  Config
	mu   sync.Mutex
	conn *bridge.Conn
}

// NewClient creates an unconnected client
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the daemon and verifies it answers
func (c *Client) Connect(ctx context.Context) error {
	conn, err := bridge.Dial(ctx, c.cfg.Address, c.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("connect to robot at %s: %w", c.cfg.Address, err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if err := c.call(ctx, "ping", nil, nil); err != nil {
		c.Close()
		return fmt.Errorf("robot at %s did not answer: %w", c.cfg.Address, err)
	}

	logger.Info("Robot", "Connected to NAO at %s", c.cfg.Address)
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.session(ctx)
	if err != nil {
		return err
	}

	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	return conn.Call(ctx, method, params, result)
}

// session returns the live connection, redialing once if the previous one
// lost framing
func (c *Client) session(ctx context.Context) (*bridge.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if !c.conn.Broken() {
		return c.conn, nil
	}

	logger.Warn("Robot", "Session to %s out of sync, reconnecting", c.cfg.Address)
	c.conn.Close()
	conn, err := bridge.Dial(ctx, c.cfg.Address, c.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("reconnect to robot at %s: %w", c.cfg.Address, err)
	}
	c.conn = conn
	return conn, nil
}

// Subscribe opens a camera subscription and returns its handle
func (c *Client) Subscribe(ctx context.Context, p CameraParams) (string, error) {
	var out struct {
		Handle string `msgpack:"handle"`
	}
	if err := c.call(ctx, "camera.subscribe", p, &out); err != nil {
		return "", err
	}
	if out.Handle == "" {
		return "", errors.New("camera.subscribe: empty handle")
	}
	return out.Handle, nil
}

// GetImage fetches the current frame for a subscription
func (c *Client) GetImage(ctx context.Context, handle string) (RawImage, error) {
	var img RawImage
	err := c.call(ctx, "camera.get_image", map[string]string{"handle": handle}, &img)
	return img, err
}

// Unsubscribe releases a camera subscription
func (c *Client) Unsubscribe(ctx context.Context, handle string) error {
	return c.call(ctx, "camera.unsubscribe", map[string]string{"handle": handle}, nil)
}

// SetLanguage selects the speech language
func (c *Client) SetLanguage(ctx context.Context, language string) error {
	return c.call(ctx, "tts.set_language", map[string]string{"language": language}, nil)
}

// SetVolume sets speech volume in [0, 1]
func (c *Client) SetVolume(ctx context.Context, volume float64) error {
	return c.call(ctx, "tts.set_volume", map[string]float64{"volume": volume}, nil)
}

// Say speaks text and returns when the robot has accepted it
func (c *Client) Say(ctx context.Context, text string) error {
	return c.call(ctx, "tts.say", map[string]string{"text": text}, nil)
}

// Close ends the session
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
