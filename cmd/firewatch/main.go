package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/camera"
	"github.com/dj-oyu/nao-firewatch/internal/caption"
	"github.com/dj-oyu/nao-firewatch/internal/classifier"
	"github.com/dj-oyu/nao-firewatch/internal/config"
	"github.com/dj-oyu/nao-firewatch/internal/evidence"
	"github.com/dj-oyu/nao-firewatch/internal/ledger"
	"github.com/dj-oyu/nao-firewatch/internal/logger"
	"github.com/dj-oyu/nao-firewatch/internal/metrics"
	"github.com/dj-oyu/nao-firewatch/internal/monitor"
	"github.com/dj-oyu/nao-firewatch/internal/notifier"
	"github.com/dj-oyu/nao-firewatch/internal/render"
	"github.com/dj-oyu/nao-firewatch/internal/robot"
	"github.com/dj-oyu/nao-firewatch/internal/status"
	"github.com/dj-oyu/nao-firewatch/internal/telemetry"
	"github.com/dj-oyu/nao-firewatch/internal/tracing"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "YAML config file (optional)")
	logLevel   = flag.String("log-level", "", "Log level override (debug, info, warn, error, silent)")
	statusAddr = flag.String("status-addr", "", "Status HTTP server address, e.g. :8090 (disabled when empty)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *statusAddr != "" {
		cfg.Status.Addr = *statusAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		return 1
	}
	if cfg.Log.Format == "json" {
		logger.InitJSON(level, os.Stderr)
	} else {
		logger.Init(level, os.Stderr, cfg.Log.Color)
	}

	printHeader(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, nil)
		if err != nil {
			logger.Warn("Main", "Tracing disabled: %v", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Warn("Main", "Tracer shutdown: %v", err)
				}
			}()
		}
	}

	runDir, err := evidence.NewRunDir(cfg.Output.BaseDir, cfg.Output.Prefix, time.Now())
	if err != nil {
		logger.Error("Main", "Cannot create output directory: %v", err)
		return 1
	}
	fmt.Printf("Output directory: %s\n", runDir)

	// Observers
	m := metrics.New()
	broadcaster := status.NewBroadcaster()
	board := status.NewBoard(broadcaster)
	observers := []monitor.Observer{m, board}

	// Ledger (optional, failures are not fatal)
	var led *ledger.Ledger
	if cfg.Output.Ledger {
		led = openLedger(filepath.Join(runDir, "ledger.db"), runDir)
		if led != nil {
			defer led.Close()
		}
	}

	// Robot session shared by the camera and the speaker
	nao := robot.NewClient(robot.Config{
		Address:     cfg.Robot.Address,
		DialTimeout: cfg.Robot.DialTimeout,
		CallTimeout: cfg.Robot.CallTimeout,
	})
	defer nao.Close()

	source := camera.NewSource(nao, camera.Config{
		Name:       cfg.Camera.Name,
		CameraID:   cfg.Camera.ID,
		Resolution: cfg.Camera.Resolution,
		ColorSpace: cfg.Camera.ColorSpace,
		FPS:        cfg.Camera.FPS,
		WarmUp:     cfg.Camera.WarmUp,
	})

	captionCfg := caption.DefaultConfig()
	captionCfg.Command = cfg.Caption.Command
	captionCfg.Args = cfg.Caption.Args
	captionCfg.Model = cfg.Caption.Model
	captionCfg.MaxLength = cfg.Caption.MaxLength
	captionCfg.LoadTimeout = cfg.Caption.LoadTimeout
	captionCfg.CallTimeout = cfg.Caption.CallTimeout
	worker := caption.NewWorker(captionCfg)
	defer worker.Close()

	dispatcher := telemetry.NewDispatcher(telemetry.Config{
		Endpoint: cfg.Telemetry.Endpoint,
		APIKey:   cfg.Telemetry.APIKey,
		Field:    cfg.Telemetry.Field,
		Timeout:  cfg.Telemetry.Timeout,
	})

	recorder := evidence.NewRecorder(runDir, cfg.Output.JPEGQuality, render.NewComposer(cfg.Monitor.SnapshotWidth))

	deps := monitor.Deps{
		Source:     source,
		Captioner:  worker,
		Classifier: classifier.New(cfg.Monitor.Keywords),
		Dispatcher: dispatcher,
		Evidence:   recorder,
		Observers:  observers,
	}
	if cfg.Speech.Enabled {
		deps.Notifier = notifier.NewSpeaker(nao, notifier.Config{
			Language: cfg.Speech.Language,
			Volume:   cfg.Speech.Volume,
		})
	}
	if led != nil {
		deps.Journal = led
	}

	loop := monitor.New(monitor.Config{Interval: cfg.Monitor.Interval}, deps,
		monitor.StartupStep{Name: "connect to NAO", Run: nao.Connect},
		monitor.StartupStep{Name: "load BLIP model", Run: worker.Load},
	)

	// Status server (optional)
	if cfg.Status.Addr != "" {
		opts := status.Options{
			Snapshots: recorder,
			Metrics:   m.Handler(),
			Info:      map[string]any{"output_dir": runDir},
		}
		if led != nil {
			opts.Cycles = led
			opts.Info["run_id"] = led.RunID()
		}
		srv := status.NewServer(board, broadcaster, opts)
		if _, err := srv.Listen(cfg.Status.Addr); err != nil {
			logger.Error("Main", "Status server disabled: %v", err)
		} else {
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("Main", "%v", err)
				}
			}()
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("Main", "Status server shutdown: %v", err)
			}
		}()
	}

	fmt.Println("Press Ctrl+C to stop")

	state, err := loop.Run(ctx)

	if led != nil {
		if ferr := led.FinishRun(state, time.Now()); ferr != nil {
			logger.Warn("Main", "Ledger finish: %v", ferr)
		}
	}

	if errors.Is(err, monitor.ErrStartup) {
		fmt.Printf("Startup failed: %v\n", err)
		return 1
	}
	printSummary(os.Stdout, state, runDir, ctx.Err() != nil, err)
	if err != nil {
		return 1
	}
	return 0
}

func openLedger(path, runDir string) *ledger.Ledger {
	led, err := ledger.Open(path)
	if err != nil {
		logger.Warn("Main", "Ledger disabled: %v", err)
		return nil
	}
	if _, err := led.StartRun(runDir, time.Now()); err != nil {
		logger.Warn("Main", "Ledger disabled: %v", err)
		led.Close()
		return nil
	}
	return led
}

func printHeader(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "NAO FIRE DETECTION + THINGSPEAK")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Headless mode: snapshots and alerts are written to the output directory")
}

func printSummary(w io.Writer, state types.LoopState, runDir string, interrupted bool, err error) {
	if interrupted {
		fmt.Fprintln(w, "\nSystem interrupted by user")
	}
	if err != nil {
		fmt.Fprintf(w, "\nUnexpected error: %v\n", err)
	}
	fmt.Fprintf(w, "Cycles run: %d\n", state.Iteration)
	fmt.Fprintf(w, "Total fire detections: %d\n", state.FireDetections)
	fmt.Fprintf(w, "\nSystem finished! Alerts saved in: %s\n", runDir)
}
