package types

import "time"

// Verdict is the outcome of caption classification.
// Keyword is empty when IsFire is false.
type Verdict struct {
	IsFire  bool   `json:"is_fire"`
	Keyword string `json:"matched_keyword,omitempty"`
}

// CycleRecord is the unit of persistence and logging for one cycle.
// HTTPLatency is only measured on the detection path.
type CycleRecord struct {
	Iteration   int           `json:"iteration"`
	Caption     string        `json:"caption"`
	Verdict     Verdict       `json:"verdict"`
	BlipTime    time.Duration `json:"blip_time_ns"`
	HTTPLatency time.Duration `json:"http_latency_ns"`
	Timestamp   time.Time     `json:"timestamp"`
}

// TotalTime is inference time plus alert round trip
func (r CycleRecord) TotalTime() time.Duration {
	return r.BlipTime + r.HTTPLatency
}

// LoopState is the only cross-cycle state. Iteration is the number of the
// last started cycle; FireDetections never exceeds it.
type LoopState struct {
	Iteration      int `json:"iteration"`
	FireDetections int `json:"fire_detection_count"`
}

// Outcome bundles a cycle record with what happened to it downstream
type Outcome struct {
	Record          CycleRecord `json:"record"`
	AlertSent       bool        `json:"alert_sent"`
	CaptureFallback bool        `json:"capture_fallback"`
	EvidencePath    string      `json:"evidence_path,omitempty"`
	SnapshotPath    string      `json:"snapshot_path,omitempty"`
}

// Milliseconds converts a duration to fractional milliseconds
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
