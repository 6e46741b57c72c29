package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/logger"
	"github.com/dj-oyu/checklist-camera/internal/loop"
	"github.com/dj-oyu/checklist-camera/internal/metrics"
)

// Controller is the loop surface the HTTP API drives.
type Controller interface {
	Toggle() (loop.State, error)
	Stop()
	SetVisible(visible bool)
	ProcessImage(ctx context.Context) (*loop.Result, error)
	ProcessUploadedImage(ctx context.Context) (*loop.Result, error)
	LoadUpload(r io.Reader) error
	ReleaseUpload()
	Reset(ctx context.Context) error
	ChangeModel(ctx context.Context) (string, error)
	SwitchCamera(ctx context.Context) (camera.FacingMode, error)
	Snapshot() loop.Snapshot
}

// Camera reports the device state and accepts overlay resizes.
type Camera interface {
	Facing() camera.FacingMode
	Active() bool
	Resize(w, h int) error
}

// OfferHandler answers WebRTC offers with the DataChannel peer.
type OfferHandler interface {
	HandleOffer(offer []byte) ([]byte, error)
	ClientCount() int
}

// Options wires a Server. Controller, Camera, Checklist and Monitor are required;
// the monitor must have been created with both broadcasters.
type Options struct {
	Controller Controller
	Camera     Camera
	Checklist  *checklist.Store
	Monitor    *Monitor
	WebRTC     OfferHandler
	Metrics    *metrics.Metrics
}

// Server serves the monitor page, the control API and the streams.
type Server struct {
	cfg     Config
	ctrl    Controller
	cam     Camera
	list    *checklist.Store
	monitor *Monitor
	frames  *FrameBroadcaster
	events  *EventBroadcaster
	status  *StatusBroadcaster
	webrtc  OfferHandler
	metrics *metrics.Metrics
}

// NewServer returns a configured monitor server. Call Start to begin broadcasting.
func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Controller == nil || opts.Camera == nil || opts.Checklist == nil || opts.Monitor == nil {
		return nil, fmt.Errorf("webmonitor: missing collaborator")
	}
	if opts.Monitor.frames == nil || opts.Monitor.events == nil {
		return nil, fmt.Errorf("webmonitor: monitor has no broadcasters")
	}
	cfg.applyDefaults()

	s := &Server{
		cfg:     cfg,
		ctrl:    opts.Controller,
		cam:     opts.Camera,
		list:    opts.Checklist,
		monitor: opts.Monitor,
		frames:  opts.Monitor.frames,
		events:  opts.Monitor.events,
		webrtc:  opts.WebRTC,
		metrics: opts.Metrics,
	}
	s.status = NewStatusBroadcaster(s.statusPayload, cfg.StatusInterval)
	return s, nil
}

// Start launches the broadcasters.
func (s *Server) Start() {
	s.frames.Start()
	s.events.Start()
	s.status.Start()
}

// Stop halts the broadcasters and disconnects streaming clients.
func (s *Server) Stop() {
	s.status.Stop()
	s.events.Stop()
	s.frames.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	assetHandler := newAssetHandler(s.cfg.BuildAssetsDir, s.cfg.AssetsDir)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", assetHandler)).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	// API routes sit on the root router so a method mismatch answers 405.
	api := func(path string) string { return "/api" + path }
	r.HandleFunc(api("/status"), s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc(api("/status/stream"), s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc(api("/events/stream"), s.handleEventsStream).Methods(http.MethodGet)

	r.HandleFunc(api("/live/toggle"), s.handleToggle).Methods(http.MethodPost)
	r.HandleFunc(api("/live/stop"), s.handleStop).Methods(http.MethodPost)
	r.HandleFunc(api("/capture"), s.handleCapture).Methods(http.MethodPost)
	r.HandleFunc(api("/upload"), s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc(api("/upload"), s.handleUploadRelease).Methods(http.MethodDelete)
	r.HandleFunc(api("/upload/process"), s.handleUploadProcess).Methods(http.MethodPost)
	r.HandleFunc(api("/reset"), s.handleReset).Methods(http.MethodPost)
	r.HandleFunc(api("/camera/switch"), s.handleCameraSwitch).Methods(http.MethodPost)
	r.HandleFunc(api("/camera/resize"), s.handleCameraResize).Methods(http.MethodPost)
	r.HandleFunc(api("/model/next"), s.handleModelNext).Methods(http.MethodPost)
	r.HandleFunc(api("/visibility"), s.handleVisibility).Methods(http.MethodPost)

	r.HandleFunc(api("/checklist"), s.handleChecklist).Methods(http.MethodGet)
	r.HandleFunc(api("/checklist"), s.handleChecklistAdd).Methods(http.MethodPost)
	r.HandleFunc(api("/checklist/reset"), s.handleChecklistReset).Methods(http.MethodPost)

	r.HandleFunc(api("/webrtc/offer"), s.handleWebRTCOffer).Methods(http.MethodPost)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) statusPayload() StatusPayload {
	stats := s.monitor.Stats()
	stats.SSEClients = s.events.ClientCount() + s.status.ClientCount()
	stats.MJPEGClients = s.frames.ClientCount()
	if s.webrtc != nil {
		stats.WebRTCClients = s.webrtc.ClientCount()
	}
	return StatusPayload{
		Loop: s.ctrl.Snapshot(),
		Camera: CameraStatus{
			Facing: s.cam.Facing(),
			Active: s.cam.Active(),
		},
		Monitor:   stats,
		History:   s.monitor.History(),
		Timestamp: unixSeconds(time.Now()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	initial, err := serialize(s.statusPayload())
	if err != nil {
		writeError(w, err)
		return
	}
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	defer s.trackSSE()()

	streamSSEFromChannel(r.Context(), w, eventCh, initial, wantsProtobuf(r))
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)
	defer s.trackSSE()()

	streamSSEFromChannel(r.Context(), w, eventCh, nil, wantsProtobuf(r))
}

func (s *Server) trackSSE() func() {
	if s.metrics == nil {
		return func() {}
	}
	s.metrics.SSEClients.Add(1)
	return func() { s.metrics.SSEClients.Add(-1) }
}

// wantsProtobuf reports whether the client prefers Protobuf over JSON.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	state, err := s.ctrl.Toggle()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"state": state})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, map[string]any{"state": loop.Idle})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.ProcessImage(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	body, err := uploadBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	defer body.Close()

	if err := s.ctrl.LoadUpload(body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"has_upload": true})
}

// uploadBody returns the multipart "image" field, or the raw body otherwise.
func uploadBody(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("missing image field: %w", err)
	}
	return file, nil
}

func (s *Server) handleUploadRelease(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ReleaseUpload()
	writeJSON(w, map[string]any{"has_upload": false})
}

func (s *Server) handleUploadProcess(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.ProcessUploadedImage(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Reset(r.Context())
	s.monitor.Clear()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "reset"})
}

func (s *Server) handleCameraSwitch(w http.ResponseWriter, r *http.Request) {
	facing, err := s.ctrl.SwitchCamera(r.Context())
	s.monitor.Clear()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"facing": facing})
}

func (s *Server) handleCameraResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid resize request")
		return
	}
	if err := s.cam.Resize(req.Width, req.Height); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, map[string]any{"width": req.Width, "height": req.Height})
}

func (s *Server) handleModelNext(w http.ResponseWriter, r *http.Request) {
	name, err := s.ctrl.ChangeModel(r.Context())
	s.monitor.Clear()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"model": name, "message": "Using " + name})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid visibility request")
		return
	}
	s.ctrl.SetVisible(!req.Hidden)
	writeJSON(w, map[string]any{"hidden": req.Hidden, "state": s.ctrl.Snapshot().State})
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ChecklistPayload{Items: s.ctrl.Snapshot().Checklist})
}

func (s *Server) handleChecklistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid checklist request")
		return
	}
	if _, err := s.list.Add(req.Label); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ChecklistPayload{Items: s.ctrl.Snapshot().Checklist})
}

func (s *Server) handleChecklistReset(w http.ResponseWriter, r *http.Request) {
	s.list.Reset()
	writeJSON(w, ChecklistPayload{Items: s.ctrl.Snapshot().Checklist})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured", "kind": KindResource}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		badRequest(w, "Invalid offer data")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		badRequest(w, "Invalid offer data")
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		badRequest(w, "Invalid offer data")
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		logger.Warn("WebRTC", "Offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error(), "kind": KindResource}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(w, bytes.NewReader(answer))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONWithStatus(w, map[string]any{"error": r.Method + " not allowed on " + r.URL.Path, "kind": KindValidation}, http.StatusMethodNotAllowed)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONWithStatus(w, map[string]any{"error": msg, "kind": KindValidation}, http.StatusBadRequest)
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
