// Package evidence persists detection evidence and monitoring snapshots
// into a per-run output directory.
package evidence

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/nao-firewatch/internal/render"
	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// fileStamp is the timestamp layout used in file and directory names
const fileStamp = "20060102_150405"

// NewRunDir creates <base>/<prefix>_YYYYMMDD_HHMMSS. Calling it again with
// the same instant is a no-op.
func NewRunDir(base, prefix string, now time.Time) (string, error) {
	dir := filepath.Join(base, fmt.Sprintf("%s_%s", prefix, now.Format(fileStamp)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// Recorder writes evidence files into one directory
type Recorder struct {
	mu           sync.Mutex
	dir          string
	quality      int
	renderer     render.Renderer
	now          func() time.Time
	filesWritten uint64
	bytesWritten uint64
	lastSnapshot string
}

// NewRecorder creates a recorder over an existing directory
func NewRecorder(dir string, jpegQuality int, renderer render.Renderer) *Recorder {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &Recorder{
		dir:      dir,
		quality:  jpegQuality,
		renderer: renderer,
		now:      time.Now,
	}
}

// Dir returns the output directory
func (r *Recorder) Dir() string {
	return r.dir
}

// RecordDetection writes FIRE_ALERT_<iter>_<ts>.jpg and the matching .txt
// record. Returns the image path.
func (r *Recorder) RecordDetection(frame types.Frame, rec types.CycleRecord) (string, error) {
	base := fmt.Sprintf("FIRE_ALERT_%04d_%s", rec.Iteration, r.now().Format(fileStamp))
	imgPath := filepath.Join(r.dir, base+".jpg")
	txtPath := filepath.Join(r.dir, base+".txt")

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		return "", fmt.Errorf("failed to encode evidence image: %w", err)
	}
	report := []byte(DetectionReport(rec))
	if err := writeFile(imgPath, buf.Bytes()); err != nil {
		return "", err
	}
	if err := writeFile(txtPath, report); err != nil {
		// an image without its record is not evidence
		os.Remove(imgPath)
		return "", err
	}
	r.count(buf.Len() + len(report), 2)
	return imgPath, nil
}

// DetectionReport formats the text record stored next to evidence images
func DetectionReport(rec types.CycleRecord) string {
	rule := strings.Repeat("=", 50)
	var b strings.Builder
	fmt.Fprintln(&b, "FIRE ALERT DETECTED")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Timestamp: %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Iteration: %d\n", rec.Iteration)
	fmt.Fprintf(&b, "Caption: %s\n", rec.Caption)
	fmt.Fprintf(&b, "Keyword: %s\n", rec.Verdict.Keyword)
	fmt.Fprintf(&b, "BLIP detection time: %.2f ms\n", types.Milliseconds(rec.BlipTime))
	fmt.Fprintf(&b, "ThingSpeak HTTP latency: %.2f ms\n", types.Milliseconds(rec.HTTPLatency))
	fmt.Fprintf(&b, "Total time: %.2f ms\n", types.Milliseconds(rec.TotalTime()))
	fmt.Fprintln(&b, rule)
	return b.String()
}

// RecordSnapshot renders and writes monitor_<iter>_<ts>.png
func (r *Recorder) RecordSnapshot(frame types.Frame, rec types.CycleRecord, alertSent bool) (string, error) {
	if r.renderer == nil {
		return "", fmt.Errorf("no renderer configured")
	}

	data, err := r.renderer.Render(frame, SnapshotAnnotation(rec, alertSent))
	if err != nil {
		return "", fmt.Errorf("failed to render snapshot: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("monitor_%04d_%s.png", rec.Iteration, r.now().Format(fileStamp)))
	if err := r.write(path, data); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.lastSnapshot = path
	r.mu.Unlock()
	return path, nil
}

// SnapshotAnnotation builds the snapshot text. Timings appear only for
// detections.
func SnapshotAnnotation(rec types.CycleRecord, alertSent bool) render.Annotation {
	status := "Normal"
	if rec.Verdict.IsFire {
		status = "FIRE DETECTED!"
	}
	a := render.Annotation{
		Title: fmt.Sprintf("NAO Fire Detection - %s - Iter %d - %s",
			status, rec.Iteration, rec.Timestamp.Format("15:04:05")),
		Lines: []string{"Caption: " + rec.Caption},
		Alert: rec.Verdict.IsFire,
	}
	if rec.Verdict.IsFire {
		alert := "sent"
		if !alertSent {
			alert = "NOT sent"
		}
		a.Lines = append(a.Lines,
			"",
			fmt.Sprintf("BLIP Time: %.2f ms", types.Milliseconds(rec.BlipTime)),
			fmt.Sprintf("HTTP Latency: %.2f ms", types.Milliseconds(rec.HTTPLatency)),
			fmt.Sprintf("Total: %.2f ms", types.Milliseconds(rec.TotalTime())),
			"Alert: "+alert,
		)
	}
	return a
}

func (r *Recorder) write(path string, data []byte) error {
	if err := writeFile(path, data); err != nil {
		return err
	}
	r.count(len(data), 1)
	return nil
}

func (r *Recorder) count(n, files int) {
	r.mu.Lock()
	r.filesWritten += uint64(files)
	r.bytesWritten += uint64(n)
	r.mu.Unlock()
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LatestSnapshot returns the path of the last snapshot written, if any
func (r *Recorder) LatestSnapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSnapshot
}

// Status holds the recorder counters
type Status struct {
	Dir          string `json:"dir"`
	FilesWritten uint64 `json:"files_written"`
	BytesWritten uint64 `json:"bytes_written"`
	LastSnapshot string `json:"last_snapshot,omitempty"`
}

// GetStatus returns the current recorder counters
func (r *Recorder) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Dir:          r.dir,
		FilesWritten: r.filesWritten,
		BytesWritten: r.bytesWritten,
		LastSnapshot: r.lastSnapshot,
	}
}
