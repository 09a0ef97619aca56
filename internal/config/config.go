// Package config loads firewatch settings from defaults, an optional YAML
// file, a .env file and FIREWATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. FIREWATCH_TELEMETRY__API_KEY.
const EnvPrefix = "FIREWATCH_"

// Config is the full runtime configuration
type Config struct {
	Robot     RobotConfig     `koanf:"robot"`
	Camera    CameraConfig    `koanf:"camera"`
	Caption   CaptionConfig   `koanf:"caption"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Output    OutputConfig    `koanf:"output"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Speech    SpeechConfig    `koanf:"speech"`
	Log       LogConfig       `koanf:"log"`
	Status    StatusConfig    `koanf:"status"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

// RobotConfig locates the NAOqi bridge daemon
type RobotConfig struct {
	Address     string        `koanf:"address"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// CameraConfig selects the camera stream
type CameraConfig struct {
	Name       string        `koanf:"name"`
	ID         int           `koanf:"id"`
	Resolution int           `koanf:"resolution"`
	ColorSpace int           `koanf:"color_space"`
	FPS        int           `koanf:"fps"`
	WarmUp     time.Duration `koanf:"warm_up"`
}

// CaptionConfig describes the captioning worker
type CaptionConfig struct {
	Command     string        `koanf:"command"`
	Args        []string      `koanf:"args"`
	Model       string        `koanf:"model"`
	MaxLength   int           `koanf:"max_length"`
	LoadTimeout time.Duration `koanf:"load_timeout"`
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// TelemetryConfig is the ThingSpeak channel
type TelemetryConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Field    string        `koanf:"field"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OutputConfig controls evidence persistence
type OutputConfig struct {
	BaseDir     string `koanf:"base_dir"`
	Prefix      string `koanf:"prefix"`
	JPEGQuality int    `koanf:"jpeg_quality"`
	Ledger      bool   `koanf:"ledger"`
}

// MonitorConfig controls the loop
type MonitorConfig struct {
	Interval      time.Duration `koanf:"interval"`
	Keywords      []string      `koanf:"keywords"`
	SnapshotWidth int           `koanf:"snapshot_width"`
}

// SpeechConfig controls the spoken alert
type SpeechConfig struct {
	Enabled  bool    `koanf:"enabled"`
	Language string  `koanf:"language"`
	Volume   float64 `koanf:"volume"`
}

// LogConfig controls logger output
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
	Color  bool   `koanf:"color"`
}

// StatusConfig controls the optional HTTP status server
type StatusConfig struct {
	Addr string `koanf:"addr"` // empty disables the server
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		Robot: RobotConfig{
			Address:     "172.15.1.29:9559",
			DialTimeout: 5 * time.Second,
			CallTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Name:       "fire_detection",
			ID:         0,
			Resolution: 2,
			ColorSpace: 11,
			FPS:        5,
			WarmUp:     100 * time.Millisecond,
		},
		Caption: CaptionConfig{
			Command:     "python3",
			Args:        []string{"scripts/blip_worker.py"},
			Model:       "Salesforce/blip-image-captioning-large",
			MaxLength:   50,
			LoadTimeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "https://api.thingspeak.com/update",
			APIKey:   "YOUR_API_KEY",
			Field:    "field1",
			Timeout:  10 * time.Second,
		},
		Output: OutputConfig{
			BaseDir:     ".",
			Prefix:      "nao_fire_detection",
			JPEGQuality: 95,
			Ledger:      true,
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
			Keywords: []string{
				"fire", "burning", "flame", "flames", "smoke", "smoky",
				"blaze", "inferno", "combustion", "ignition", "smoldering",
			},
			SnapshotWidth: 640,
		},
		Speech: SpeechConfig{
			Enabled:  true,
			Language: "English",
			Volume:   0.8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
		Tracing: TracingConfig{
			ServiceName: "firewatch",
		},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error, a missing .env is not.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return cfg, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	// slices decode element-wise over the defaults; replace them outright
	if k.Exists("monitor.keywords") {
		cfg.Monitor.Keywords = listValue(k, "monitor.keywords")
	}
	if k.Exists("caption.args") {
		cfg.Caption.Args = listValue(k, "caption.args")
	}

	return cfg, nil
}

// listValue reads a YAML list or a comma-separated environment string
func listValue(k *koanf.Koanf, key string) []string {
	var in []string
	switch v := k.Get(key).(type) {
	case string:
		in = []string{v}
	case []string:
		in = v
	case []interface{}:
		for _, item := range v {
			in = append(in, fmt.Sprint(item))
		}
	}

	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings the loop cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Robot.Address == "" {
		errs = append(errs, errors.New("robot.address is empty"))
	}
	if c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is empty"))
	}
	if c.Telemetry.Timeout <= 0 {
		errs = append(errs, errors.New("telemetry.timeout must be positive"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if len(c.Monitor.Keywords) == 0 {
		errs = append(errs, errors.New("monitor.keywords is empty"))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("output.jpeg_quality %d outside 1..100", c.Output.JPEGQuality))
	}
	if c.Caption.Command == "" {
		errs = append(errs, errors.New("caption.command is empty"))
	}
	if c.Caption.MaxLength <= 0 {
		errs = append(errs, errors.New("caption.max_length must be positive"))
	}
	if c.Speech.Volume < 0 || c.Speech.Volume > 1 {
		errs = append(errs, fmt.Errorf("speech.volume %.2f outside 0..1", c.Speech.Volume))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
