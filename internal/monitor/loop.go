// Package monitor runs the capture, caption, classify and alert cycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dj-oyu/nao-firewatch/internal/camera"
	"github.com/dj-oyu/nao-firewatch/internal/caption"
	"github.com/dj-oyu/nao-firewatch/internal/logger"
	"github.com/dj-oyu/nao-firewatch/internal/telemetry"
	"github.com/dj-oyu/nao-firewatch/internal/tracing"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// ErrStartup is wrapped by Run when a startup step fails
var ErrStartup = errors.New("monitor: startup failed")

// Stage names reported to StageFailed observers
const (
	StageCapture   = "capture"
	StageTelemetry = "telemetry"
	StageEvidence  = "evidence"
	StageSnapshot  = "snapshot"
	StageNotifier  = "notifier"
	StageLedger    = "ledger"
)

// ImageSource yields one frame per call, falling back to a placeholder
type ImageSource interface {
	Capture(ctx context.Context) camera.Result
}

// CaptionModel describes a frame in natural language
type CaptionModel interface {
	Caption(ctx context.Context, frame types.Frame) (caption.Result, error)
}

// Classifier maps a caption to a verdict
type Classifier interface {
	Classify(caption string) types.Verdict
}

// Dispatcher reports the verdict to the telemetry endpoint
type Dispatcher interface {
	Send(ctx context.Context, isFire bool) telemetry.Result
}

// EvidenceRecorder persists detection evidence and per-cycle snapshots
type EvidenceRecorder interface {
	RecordDetection(frame types.Frame, rec types.CycleRecord) (string, error)
	RecordSnapshot(frame types.Frame, rec types.CycleRecord, alertSent bool) (string, error)
}

// Notifier announces a detection. It reports success and never fails the cycle.
type Notifier interface {
	Announce(ctx context.Context, message string) bool
}

// Journal appends cycle outcomes to durable storage
type Journal interface {
	RecordCycle(o types.Outcome) error
}

// Observer is told about every completed cycle. Observers may also implement
// PhaseChanged(string) and StageFailed(string).
type Observer interface {
	CycleCompleted(o types.Outcome, s types.LoopState)
}

type phaseObserver interface {
	PhaseChanged(phase string)
}

type stageObserver interface {
	StageFailed(stage string)
}

// StartupStep is one named initialization action run before the first cycle
type StartupStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds loop settings
type Config struct {
	Interval time.Duration // Pause between cycles
	Output   io.Writer     // Console output for banners (stdout when nil)
}

// DefaultConfig returns the default loop configuration
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second}
}

// Deps are the loop collaborators. Evidence, Notifier and Journal may be nil.
type Deps struct {
	Source     ImageSource
	Captioner  CaptionModel
	Classifier Classifier
	Dispatcher Dispatcher
	Evidence   EvidenceRecorder
	Notifier   Notifier
	Journal    Journal
	Observers  []Observer
}

// Loop is the monitoring state machine. Run must be called from one goroutine.
type Loop struct {
	cfg   Config
	deps  Deps
	steps []StartupStep
	out   io.Writer
	phase atomic.Int32
}

// New creates a loop with the given startup steps
func New(cfg Config, deps Deps, steps ...StartupStep) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		steps: steps,
		out:   out,
	}
}

// Phase returns the current lifecycle phase
func (l *Loop) Phase() Phase {
	return Phase(l.phase.Load())
}

func (l *Loop) setPhase(p Phase) {
	l.phase.Store(int32(p))
	logger.Debug("Monitor", "Phase %s", p)
	for _, o := range l.deps.Observers {
		if po, ok := o.(phaseObserver); ok {
			po.PhaseChanged(p.String())
		}
	}
}

func (l *Loop) stageFailed(stage string) {
	for _, o := range l.deps.Observers {
		if so, ok := o.(stageObserver); ok {
			so.StageFailed(stage)
		}
	}
}

// Run executes the startup steps and then cycles until ctx is cancelled or a
// cycle fails fatally. Cancellation yields the final state and a nil error.
func (l *Loop) Run(ctx context.Context) (types.LoopState, error) {
	var state types.LoopState
	l.setPhase(PhaseStarting)

	for _, step := range l.steps {
		logger.Info("Monitor", "Startup: %s", step.Name)
		if err := step.Run(ctx); err != nil {
			logger.Error("Monitor", "Startup step %q failed: %v", step.Name, err)
			l.setPhase(PhaseStopped)
			return state, fmt.Errorf("%w: %s: %w", ErrStartup, step.Name, err)
		}
	}

	l.setPhase(PhaseRunning)
	logger.Info("Monitor", "Monitoring started (interval %s)", l.cfg.Interval)

	for {
		if ctx.Err() != nil {
			break
		}

		next, _, err := l.safeCycle(ctx, state)
		state = next
		if err != nil {
			logger.Error("Monitor", "Cycle %d failed, stopping: %v", state.Iteration, err)
			l.setPhase(PhaseStopped)
			return state, err
		}

		if !sleep(ctx, l.cfg.Interval) {
			break
		}
	}

	logger.Info("Monitor", "Interrupted after %d cycles (%d fire detections)", state.Iteration, state.FireDetections)
	l.setPhase(PhaseStopped)
	return state, nil
}

// safeCycle runs one cycle and converts a panic into an error
func (l *Loop) safeCycle(ctx context.Context, state types.LoopState) (next types.LoopState, o types.Outcome, err error) {
	next = state
	next.Iteration++
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle %d panicked: %v", state.Iteration+1, r)
		}
	}()
	return l.RunCycle(ctx, state)
}

// RunCycle performs one monitoring cycle starting from state. Once started the
// cycle runs to completion even if ctx is cancelled; the returned error is
// only set when captioning fails.
func (l *Loop) RunCycle(ctx context.Context, state types.LoopState) (types.LoopState, types.Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	state.Iteration++
	iter := state.Iteration

	ctx, span := tracing.Tracer().Start(ctx, "monitor.cycle",
		trace.WithAttributes(attribute.Int("cycle.iteration", iter)))
	defer span.End()

	logger.Info("Monitor", "--- Iteration %d ---", iter)

	var outcome types.Outcome

	// Capture
	shot := l.deps.Source.Capture(ctx)
	if shot.Fallback {
		outcome.CaptureFallback = true
		l.stageFailed(StageCapture)
		span.AddEvent("capture fallback")
	}
	frame := shot.Frame

	// Caption
	desc, err := l.deps.Captioner.Caption(ctx, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "caption failed")
		return state, outcome, fmt.Errorf("describe frame: %w", err)
	}
	logger.Info("Monitor", "Caption: %q (BLIP %.2f ms)", desc.Text, types.Milliseconds(desc.Elapsed))

	// Classify
	verdict := l.deps.Classifier.Classify(desc.Text)
	span.SetAttributes(
		attribute.Bool("cycle.fire", verdict.IsFire),
		attribute.String("cycle.keyword", verdict.Keyword),
	)

	rec := types.CycleRecord{
		Iteration: iter,
		Caption:   desc.Text,
		Verdict:   verdict,
		BlipTime:  desc.Elapsed,
	}

	if verdict.IsFire {
		state.FireDetections++
		logger.Warn("Monitor", "FIRE DETECTED (detection #%d, keyword %q)", state.FireDetections, verdict.Keyword)

		res := l.deps.Dispatcher.Send(ctx, true)
		rec.HTTPLatency = res.Latency
		rec.Timestamp = time.Now()
		outcome.AlertSent = res.Sent

		if res.Sent {
			l.printBanner(rec, res.Body)
			outcome.EvidencePath = l.recordDetection(frame, rec)
		} else {
			l.stageFailed(StageTelemetry)
		}

		if l.deps.Notifier != nil {
			if !l.deps.Notifier.Announce(ctx, "Fire detected! "+desc.Text) {
				l.stageFailed(StageNotifier)
			}
		}
	} else {
		rec.Timestamp = time.Now()
		res := l.deps.Dispatcher.Send(ctx, false)
		if !res.Sent {
			l.stageFailed(StageTelemetry)
		}
		logger.Info("Monitor", "No fire detected")
	}

	outcome.Record = rec
	outcome.SnapshotPath = l.recordSnapshot(frame, rec, outcome.AlertSent)

	if l.deps.Journal != nil {
		if err := l.deps.Journal.RecordCycle(outcome); err != nil {
			logger.Warn("Monitor", "Ledger append failed: %v", err)
			l.stageFailed(StageLedger)
		}
	}
	for _, o := range l.deps.Observers {
		o.CycleCompleted(outcome, state)
	}

	return state, outcome, nil
}

func (l *Loop) recordDetection(frame types.Frame, rec types.CycleRecord) string {
	if l.deps.Evidence == nil {
		return ""
	}
	path, err := l.deps.Evidence.RecordDetection(frame, rec)
	if err != nil {
		logger.Error("Monitor", "Saving detection evidence failed: %v", err)
		l.stageFailed(StageEvidence)
		return ""
	}
	logger.Info("Monitor", "Alert saved: %s", path)
	return path
}

func (l *Loop) recordSnapshot(frame types.Frame, rec types.CycleRecord, alertSent bool) string {
	if l.deps.Evidence == nil {
		return ""
	}
	path, err := l.deps.Evidence.RecordSnapshot(frame, rec, alertSent)
	if err != nil {
		logger.Warn("Monitor", "Saving snapshot failed: %v", err)
		l.stageFailed(StageSnapshot)
		return ""
	}
	logger.Debug("Monitor", "Snapshot saved: %s", path)
	return path
}

// printBanner writes the detection summary shown after a successful alert
func (l *Loop) printBanner(rec types.CycleRecord, body string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(l.out, "\n%s\n", rule)
	fmt.Fprintln(l.out, "FIRE ALERT SENT")
	fmt.Fprintln(l.out, rule)
	fmt.Fprintf(l.out, "Keyword:        %q\n", rec.Verdict.Keyword)
	fmt.Fprintf(l.out, "Caption:        %q\n", rec.Caption)
	fmt.Fprintf(l.out, "BLIP time:      %.2f ms\n", types.Milliseconds(rec.BlipTime))
	fmt.Fprintf(l.out, "HTTP latency:   %.2f ms\n", types.Milliseconds(rec.HTTPLatency))
	fmt.Fprintf(l.out, "Total time:     %.2f ms\n", types.Milliseconds(rec.TotalTime()))
	fmt.Fprintf(l.out, "Timestamp:      %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(l.out, "Response:       %s\n", body)
	fmt.Fprintf(l.out, "%s\n\n", rule)
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
