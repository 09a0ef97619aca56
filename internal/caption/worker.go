// Package caption runs the image captioning model in a worker process and
// talks to it over stdin/stdout with the bridge framing.
package caption

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/bridge"
	"github.com/dj-oyu/nao-firewatch/internal/logger"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// ErrNotLoaded is returned by Caption before a successful Load
var ErrNotLoaded = errors.New("caption: model not loaded")

// Config describes the worker process and model
type Config struct {
	Command     string   // executable, e.g. python3
	Args        []string // arguments, e.g. scripts/blip_worker.py
	Env         []string // extra environment, appended to os.Environ()
	Model       string   // model identifier passed to the worker
	MaxLength   int      // max caption tokens
	LoadTimeout time.Duration
	CallTimeout time.Duration // 0 = no per-caption timeout
	StopTimeout time.Duration // grace period before killing on Close
}

// DefaultConfig returns the BLIP large captioning model settings
func DefaultConfig() Config {
	return Config{
		Command:     "python3",
		Args:        []string{"scripts/blip_worker.py"},
		Model:       "Salesforce/blip-image-captioning-large",
		MaxLength:   50,
		LoadTimeout: 5 * time.Minute,
		StopTimeout: 2 * time.Second,
	}
}

// Result is one caption with the time spent inferring it
type Result struct {
	Text    string
	Elapsed time.Duration
}

// Worker owns the captioning process
type Worker struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	conn   *bridge.Conn
	exited chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker; the process starts in Load
func NewWorker(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

type loadParams struct {
	Model     string `msgpack:"model"`
	MaxLength int    `msgpack:"max_length"`
}

type captionParams struct {
	Width    int    `msgpack:"width"`
	Height   int    `msgpack:"height"`
	Channels int    `msgpack:"channels"`
	Pixels   []byte `msgpack:"pixels"`
}

type captionReply struct {
	Text string `msgpack:"text"`
}

// Load spawns the worker process and loads the model. Blocks until the
// model is ready.
func (w *Worker) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return nil
	}
	if w.cfg.Command == "" {
		return errors.New("caption: no worker command configured")
	}

	cmd := exec.Command(w.cfg.Command, w.cfg.Args...)
	cmd.Env = append(os.Environ(), w.cfg.Env...)
	detach(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start caption worker: %w", err)
	}
	logger.Info("Caption", "Worker process spawned (pid %d)", cmd.Process.Pid)

	w.cmd = cmd
	w.stdin = stdin
	w.exited = make(chan struct{})

	w.wg.Add(1)
	go w.logStderr(stderr)

	go func() {
		// stdout/stderr readers must finish before Wait closes the pipes
		w.wg.Wait()
		err := cmd.Wait()
		if err != nil {
			logger.Debug("Caption", "Worker process exited: %v", err)
		}
		close(w.exited)
	}()

	conn := bridge.NewConn(stdout, stdin, nil)

	loadCtx := ctx
	if w.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, w.cfg.LoadTimeout)
		defer cancel()
	}

	logger.Info("Caption", "Loading model %s (max_length=%d)...", w.cfg.Model, w.cfg.MaxLength)
	start := time.Now()
	if err := conn.Call(loadCtx, "load", loadParams{Model: w.cfg.Model, MaxLength: w.cfg.MaxLength}, nil); err != nil {
		w.stopLocked()
		return fmt.Errorf("load model %s: %w", w.cfg.Model, err)
	}
	logger.Info("Caption", "Model loaded in %.1fs", time.Since(start).Seconds())

	w.conn = conn
	return nil
}

// Caption describes frame. Elapsed covers only the worker round trip.
func (w *Worker) Caption(ctx context.Context, frame types.Frame) (Result, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return Result{}, ErrNotLoaded
	}

	params := captionParams{
		Width:    frame.Width,
		Height:   frame.Height,
		Channels: 3,
		Pixels:   frame.RGB(),
	}

	if w.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()
	}

	var reply captionReply
	start := time.Now()
	err := conn.Call(ctx, "caption", params, &reply)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Elapsed: elapsed}, err
	}

	return Result{Text: strings.TrimSpace(reply.Text), Elapsed: elapsed}, nil
}

// Close stops the worker process, killing it after StopTimeout
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	return nil
}

func (w *Worker) stopLocked() {
	w.conn = nil
	if w.cmd == nil {
		return
	}

	// closing stdin is the worker's signal to exit
	if w.stdin != nil {
		w.stdin.Close()
	}

	timeout := w.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	select {
	case <-w.exited:
		logger.Debug("Caption", "Worker stopped cleanly")
	case <-time.After(timeout):
		logger.Warn("Caption", "Worker stop timeout, killing process")
		if err := w.cmd.Process.Kill(); err != nil {
			logger.Error("Caption", "Failed to kill worker: %v", err)
		}
		<-w.exited
	}
	w.cmd = nil
	w.stdin = nil
}

// logStderr forwards worker output, mapping Python log levels
func (w *Worker) logStderr(r io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]", "Traceback"):
			logger.Error("Caption", "worker: %s", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			logger.Warn("Caption", "worker: %s", line)
		default:
			logger.Debug("Caption", "worker: %s", line)
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
