// Package telemetry posts detection status to the ThingSpeak channel.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

// maxBodyBytes bounds how much of a response body is kept for logging
const maxBodyBytes = 4096

// Config holds the endpoint settings
type Config struct {
	Endpoint string
	APIKey   string
	Field    string // channel field carrying the flag
	Timeout  time.Duration
}

// DefaultConfig returns the public ThingSpeak update endpoint
func DefaultConfig() Config {
	return Config{
		Endpoint: "https://api.thingspeak.com/update",
		APIKey:   "YOUR_API_KEY",
		Field:    "field1",
		Timeout:  10 * time.Second,
	}
}

// Result describes one dispatch. Latency is the round trip when a request
// was issued (partial on transport failure) and zero if it never was.
type Result struct {
	Sent       bool
	Latency    time.Duration
	StatusCode int
	Body       string
	Err        error
}

// Dispatcher sends one GET per call, without retries
type Dispatcher struct {
	cfg    Config
	client *http.Client
}

// NewDispatcher creates a dispatcher with an instrumented HTTP client
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Field == "" {
		cfg.Field = "field1"
	}
	return &Dispatcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *Dispatcher) requestURL(isFire bool) (string, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	flag := "0"
	if isFire {
		flag = "1"
	}
	q := u.Query()
	q.Set("api_key", d.cfg.APIKey)
	q.Set(d.cfg.Field, flag)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send reports isFire to the endpoint. Failures are described in the
// Result and logged, never returned or panicked.
func (d *Dispatcher) Send(ctx context.Context, isFire bool) Result {
	target, err := d.requestURL(isFire)
	if err != nil {
		logger.Error("Telemetry", "Cannot build request: %v", err)
		return Result{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		logger.Error("Telemetry", "Cannot build request: %v", err)
		return Result{Err: err}
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		latency := time.Since(start)
		logger.Error("Telemetry", "Alert send failed after %.2f ms: %v", msec(latency), err)
		return Result{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)

	res := Result{
		Latency:    latency,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		logger.Warn("Telemetry", "Alert rejected: HTTP %d (%.2f ms)", resp.StatusCode, msec(latency))
		return res
	}
	if readErr != nil {
		logger.Debug("Telemetry", "Reading response body: %v", readErr)
	}

	res.Sent = true
	logger.Debug("Telemetry", "Sent %s=%v in %.2f ms (response %q)", d.cfg.Field, isFire, msec(latency), res.Body)
	return res
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
