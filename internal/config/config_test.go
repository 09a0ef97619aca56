package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Monitor.Interval != 10*time.Second {
		t.Errorf("interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.Keywords[1] != "burning" {
		t.Errorf("keywords = %v", cfg.Monitor.Keywords)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "firewatch.yaml")
	yaml := `
robot:
  address: 10.0.0.5:9559
monitor:
  interval: 2s
  keywords: [lava, ember]
telemetry:
  api_key: from-file
output:
  jpeg_quality: 80
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Robot.Address != "10.0.0.5:9559" {
		t.Errorf("robot.address = %q", cfg.Robot.Address)
	}
	if cfg.Monitor.Interval != 2*time.Second {
		t.Errorf("monitor.interval = %v", cfg.Monitor.Interval)
	}
	if !reflect.DeepEqual(cfg.Monitor.Keywords, []string{"lava", "ember"}) {
		t.Errorf("monitor.keywords = %v", cfg.Monitor.Keywords)
	}
	if cfg.Telemetry.APIKey != "from-file" || cfg.Output.JPEGQuality != 80 {
		t.Errorf("telemetry/output = %+v / %+v", cfg.Telemetry, cfg.Output)
	}
	// untouched sections keep defaults
	if cfg.Caption.Model != "Salesforce/blip-image-captioning-large" || cfg.Speech.Volume != 0.8 {
		t.Errorf("defaults lost: %+v %+v", cfg.Caption, cfg.Speech)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FIREWATCH_TELEMETRY__API_KEY", "from-env")
	t.Setenv("FIREWATCH_MONITOR__INTERVAL", "500ms")
	t.Setenv("FIREWATCH_MONITOR__KEYWORDS", "smoke, fire")
	t.Setenv("FIREWATCH_STATUS__ADDR", ":9090")
	t.Setenv("FIREWATCH_OUTPUT__LEDGER", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telemetry.APIKey != "from-env" {
		t.Errorf("api_key = %q", cfg.Telemetry.APIKey)
	}
	if cfg.Monitor.Interval != 500*time.Millisecond {
		t.Errorf("interval = %v", cfg.Monitor.Interval)
	}
	if !reflect.DeepEqual(cfg.Monitor.Keywords, []string{"smoke", "fire"}) {
		t.Errorf("keywords = %v", cfg.Monitor.Keywords)
	}
	if cfg.Status.Addr != ":9090" || cfg.Output.Ledger {
		t.Errorf("status/output = %+v / %+v", cfg.Status, cfg.Output)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FIREWATCH_SPEECH__LANGUAGE=Japanese\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("FIREWATCH_SPEECH__LANGUAGE") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Speech.Language != "Japanese" {
		t.Errorf("speech.language = %q", cfg.Speech.Language)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty endpoint", func(c *Config) { c.Telemetry.Endpoint = "" }, "telemetry.endpoint"},
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor.interval"},
		{"no keywords", func(c *Config) { c.Monitor.Keywords = nil }, "monitor.keywords"},
		{"bad quality", func(c *Config) { c.Output.JPEGQuality = 101 }, "jpeg_quality"},
		{"bad timeout", func(c *Config) { c.Telemetry.Timeout = -time.Second }, "telemetry.timeout"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
