package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/protobuf/proto"

	"github.com/dj-oyu/nao-firewatch/internal/evidence"
	"github.com/dj-oyu/nao-firewatch/internal/ledger"
	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

const (
	defaultCycleLimit = 20
	maxCycleLimit     = 500
	keepaliveInterval = 30 * time.Second
)

// CycleSource lists journaled cycles, newest first
type CycleSource interface {
	Cycles(limit int) ([]ledger.Entry, error)
}

// SnapshotSource reports the path of the last monitoring snapshot
type SnapshotSource interface {
	LatestSnapshot() string
}

// recorderStatus is implemented by snapshot sources that keep file counters
type recorderStatus interface {
	GetStatus() evidence.Status
}

// detectionCounter is implemented by cycle sources that can count detections
type detectionCounter interface {
	DetectionCount() (int, error)
}

// Options wires optional data sources into the server. Nil fields disable
// the matching endpoint.
type Options struct {
	Cycles    CycleSource
	Snapshots SnapshotSource
	Metrics   http.Handler
	Info      map[string]any // static fields merged into /api/status
}

// Server serves the loop status endpoints.
type Server struct {
	board       *Board
	broadcaster *Broadcaster
	opts        Options
	listener    net.Listener
	httpServer  *http.Server
}

// NewServer returns a status server reading from board. broadcaster may be nil.
func NewServer(board *Board, broadcaster *Broadcaster, opts Options) *Server {
	return &Server{
		board:       board,
		broadcaster: broadcaster,
		opts:        opts,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/cycles", s.handleCycles)
	r.Get("/api/cycles/stream", s.handleCycleStream)
	r.Get("/api/snapshot/latest", s.handleLatestSnapshot)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	return otelhttp.NewHandler(r, "status")
}

// Listen binds addr. Call it before Serve and Shutdown from the same goroutine.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status server: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("Status", "Listening on %s", ln.Addr())
	return ln.Addr(), nil
}

// Serve handles requests on the bound listener until Shutdown
func (s *Server) Serve() error {
	if s.httpServer == nil {
		return errors.New("status server: Serve before Listen")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown stops the listener and disconnects stream clients
func (s *Server) Shutdown(ctx context.Context) error {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.board.Snapshot()
	writeJSON(w, map[string]any{
		"status": "ok",
		"phase":  snap.Phase,
	})
}

func (s *Server) statusPayload() map[string]any {
	snap := s.board.Snapshot()
	payload := map[string]any{
		"phase":             snap.Phase,
		"iteration":         snap.State.Iteration,
		"fire_detections":   snap.State.FireDetections,
		"latest_cycle":      snap.Latest,
		"detection_history": snap.History,
		"uptime_seconds":    snap.Uptime,
		"timestamp":         snap.Timestamp,
	}
	if rs, ok := s.opts.Snapshots.(recorderStatus); ok {
		payload["evidence"] = rs.GetStatus()
	}
	if dc, ok := s.opts.Cycles.(detectionCounter); ok {
		if n, err := dc.DetectionCount(); err != nil {
			logger.Debug("Status", "Count detections: %v", err)
		} else {
			payload["journaled_detections"] = n
		}
	}
	for k, v := range s.opts.Info {
		payload[k] = v
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := s.statusPayload()
	if !wantsProtobuf(r) {
		writeJSON(w, payload)
		return
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	pb, err := toStruct(jsonData)
	if err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	body, err := proto.Marshal(pb)
	if err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/protobuf")
	_, _ = w.Write(body)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cycles == nil {
		writeJSONWithStatus(w, map[string]string{"error": "ledger disabled"}, http.StatusNotFound)
		return
	}

	limit := defaultCycleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]string{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = min(n, maxCycleLimit)
	}

	entries, err := s.opts.Cycles.Cycles(limit)
	if err != nil {
		logger.Warn("Status", "List cycles failed: %v", err)
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, map[string]any{
		"cycles": entries,
		"count":  len(entries),
	})
}

func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		http.Error(w, "Streaming disabled", http.StatusNotFound)
		return
	}
	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	streamEvents(w, r, eventCh, wantsProtobuf(r))
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Snapshots == nil {
		http.NotFound(w, r)
		return
	}
	path := s.opts.Snapshots.LatestSnapshot()
	if path == "" {
		writeJSONWithStatus(w, map[string]string{"error": "no snapshot yet"}, http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Status", "Read snapshot %s: %v", path, err)
		writeJSONWithStatus(w, map[string]string{"error": "snapshot unavailable"}, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// wantsProtobuf reports whether the client asked for protobuf in Accept
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamEvents writes pre-serialized events to an SSE client until the
// channel closes or the client goes away.
func streamEvents(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
