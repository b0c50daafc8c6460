package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/logic/capture"
)

const (
	heartbeatInterval = 30 * time.Second
	wsWriteWait       = 5 * time.Second
)

// CaptureFunc runs one capture. It is called from the POST /capture handler
// in a goroutine.
type CaptureFunc func(ctx context.Context) (capture.Result, error)

// Settings is the effective capture configuration served by GET /config.
type Settings struct {
	CameraAddress string `json:"camera_address"`
	FocusWaitMs   int    `json:"focus_wait_ms"`
	ObjectWaitMs  int    `json:"object_wait_ms"`
	AwaitObject   bool   `json:"await_object"`
	ShootingMode  string `json:"shooting_mode"`
	OutputDir     string `json:"output_dir"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Capture     CaptureFunc
	Images      *capture.ImageIndex
	Settings    Settings

	// BaseContext bounds captures started over HTTP. Nil means
	// context.Background.
	BaseContext context.Context

	runningMu sync.Mutex
	running   bool
	captures  sync.WaitGroup
	upgrader  websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If run is nil, POST /capture will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, run CaptureFunc, images *capture.ImageIndex, settings Settings) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Capture:     run,
		Images:      images,
		Settings:    settings,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the effective capture settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings)
}

// HandleImages returns the persisted image paths keyed by shooting mode.
func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	images := map[capture.ShootingMode][]string{}
	if h.Images != nil {
		images = h.Images.Snapshot()
	}
	writeJSON(w, http.StatusOK, images)
}

// HandleCapture handles POST /capture to start a capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Capture == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	ctx := h.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}

	// Run in goroutine; clear running when done
	h.captures.Add(1)
	go func() {
		defer h.captures.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		res, err := h.Capture(ctx)
		switch {
		case errors.Is(err, capture.ErrCaptureInProgress):
			h.Broadcaster.Broadcast("warn", "Capture skipped: another capture is running")
		case err != nil:
			h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
			debug.Error(fmt.Errorf("capture failed: %w", err))
		case res.HasObject:
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Capture complete, object 0x%08X", res.ObjectID))
		default:
			h.Broadcaster.Broadcast("info", "Capture complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Wait blocks until captures started over HTTP have returned.
func (h *Handlers) Wait() {
	h.captures.Wait()
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusWS handles GET /status/ws: the same messages as the SSE stream,
// one text frame each.
func (h *Handlers) HandleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// The reader only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
