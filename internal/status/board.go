package status

import (
	"sync"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// historySize bounds the detection history kept in memory
const historySize = 8

// Snapshot is a consistent copy of the board state
type Snapshot struct {
	Phase     string          `json:"phase"`
	State     types.LoopState `json:"state"`
	Latest    *types.Outcome  `json:"latest_cycle"`
	History   []types.Outcome `json:"detection_history"`
	Uptime    float64         `json:"uptime_seconds"`
	Timestamp float64         `json:"timestamp"`
}

// Board collects loop progress for the HTTP server. The loop writes through
// the observer methods; handlers only read copies.
type Board struct {
	startTime   time.Time
	broadcaster *Broadcaster

	mu      sync.Mutex
	phase   string
	state   types.LoopState
	latest  *types.Outcome
	history []types.Outcome
}

// NewBoard creates an empty board publishing cycle events to b (may be nil)
func NewBoard(b *Broadcaster) *Board {
	return &Board{
		startTime:   time.Now(),
		broadcaster: b,
		phase:       "starting",
	}
}

// PhaseChanged records the loop phase
func (m *Board) PhaseChanged(phase string) {
	m.mu.Lock()
	m.phase = phase
	m.mu.Unlock()
}

// CycleCompleted stores a cycle outcome and fans it out to subscribers
func (m *Board) CycleCompleted(o types.Outcome, s types.LoopState) {
	m.mu.Lock()
	m.state = s
	latest := o
	m.latest = &latest
	if o.Record.Verdict.IsFire {
		m.history = append([]types.Outcome{o}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
	}
	m.mu.Unlock()

	if m.broadcaster == nil {
		return
	}
	event, err := NewSerializedEvent(cycleEvent(o, s))
	if err != nil {
		logger.Error("Status", "Serialize cycle event: %v", err)
		return
	}
	m.broadcaster.Publish(event)
}

// Snapshot returns the current board state
func (m *Board) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	historyCopy := make([]types.Outcome, len(m.history))
	copy(historyCopy, m.history)

	var latest *types.Outcome
	if m.latest != nil {
		l := *m.latest
		latest = &l
	}

	now := time.Now()
	return Snapshot{
		Phase:     m.phase,
		State:     m.state,
		Latest:    latest,
		History:   historyCopy,
		Uptime:    now.Sub(m.startTime).Seconds(),
		Timestamp: float64(now.Unix()),
	}
}

func cycleEvent(o types.Outcome, s types.LoopState) map[string]any {
	return map[string]any{
		"iteration":        o.Record.Iteration,
		"caption":          o.Record.Caption,
		"is_fire":          o.Record.Verdict.IsFire,
		"matched_keyword":  o.Record.Verdict.Keyword,
		"blip_time_ms":     types.Milliseconds(o.Record.BlipTime),
		"http_latency_ms":  types.Milliseconds(o.Record.HTTPLatency),
		"alert_sent":       o.AlertSent,
		"capture_fallback": o.CaptureFallback,
		"fire_detections":  s.FireDetections,
		"timestamp":        float64(o.Record.Timestamp.Unix()),
	}
}
