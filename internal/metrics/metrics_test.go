package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

func TestCycleCompleted(t *testing.T) {
	m := New()

	m.CycleCompleted(types.Outcome{
		Record:          types.CycleRecord{Iteration: 1, BlipTime: 900 * time.Millisecond},
		CaptureFallback: true,
	}, types.LoopState{Iteration: 1})

	m.CycleCompleted(types.Outcome{
		Record: types.CycleRecord{
			Iteration:   2,
			Verdict:     types.Verdict{IsFire: true, Keyword: "fire"},
			BlipTime:    time.Second,
			HTTPLatency: 300 * time.Millisecond,
		},
		AlertSent:    true,
		EvidencePath: "x.jpg",
	}, types.LoopState{Iteration: 2, FireDetections: 1})

	m.CycleCompleted(types.Outcome{
		Record: types.CycleRecord{Iteration: 3, Verdict: types.Verdict{IsFire: true, Keyword: "smoke"}},
	}, types.LoopState{Iteration: 3, FireDetections: 2})

	checks := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"Cycles", m.Cycles.Load(), 3},
		{"FireDetections", m.FireDetections.Load(), 2},
		{"AlertsSent", m.AlertsSent.Load(), 1},
		{"AlertsFailed", m.AlertsFailed.Load(), 1},
		{"CaptureFallbacks", m.CaptureFallbacks.Load(), 1},
		{"EvidenceWritten", m.EvidenceWritten.Load(), 1},
		{"LastHTTPMs", m.LastHTTPMs.Load(), 300},
		{"Iteration", m.Iteration.Load(), 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PhaseChanged("running")
	m.StageFailed("snapshot")
	m.UpdateBlipLatency(500 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"firewatch_loop_phase 1",
		`firewatch_stage_failures_total{stage="snapshot"} 1`,
		"firewatch_blip_latency_seconds_count 1",
		"firewatch_cycles_total 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestPhaseChanged(t *testing.T) {
	m := New()
	for phase, want := range map[string]uint64{"starting": PhaseStarting, "running": PhaseRunning, "stopped": PhaseStopped} {
		m.PhaseChanged(phase)
		if got := m.Phase.Load(); got != want {
			t.Errorf("PhaseChanged(%q) -> %d, want %d", phase, got, want)
		}
	}
}
