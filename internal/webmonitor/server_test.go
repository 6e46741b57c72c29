package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/camera/cameratest"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/classtable"
	"github.com/dj-oyu/checklist-camera/internal/frame"
	"github.com/dj-oyu/checklist-camera/internal/inference"
	"github.com/dj-oyu/checklist-camera/internal/inference/inferencetest"
	"github.com/dj-oyu/checklist-camera/internal/loop"
	"github.com/dj-oyu/checklist-camera/internal/matcher"
	"github.com/dj-oyu/checklist-camera/internal/metrics"
)

type fakeOffers struct {
	answer []byte
	err    error
	got    []byte
}

func (f *fakeOffers) HandleOffer(offer []byte) ([]byte, error) {
	f.got = offer
	return f.answer, f.err
}

func (f *fakeOffers) ClientCount() int { return 2 }

type harness struct {
	cam     *camera.Manager
	list    *checklist.Store
	ctrl    *loop.Controller
	monitor *Monitor
	server  *Server
	metrics *metrics.Metrics
	handler http.Handler
}

func newHarness(t *testing.T, offers OfferHandler) *harness {
	t.Helper()

	classes := classtable.Default()
	h := &harness{
		list:    checklist.NewStore(classes),
		metrics: metrics.New(),
	}
	h.cam = camera.NewManager(cameratest.NewDevice(32, 24), camera.FacingEnvironment)
	frames := frame.NewSource(h.cam, nil)
	h.cam.OnResize(frames.Resize)
	if err := h.cam.Start(context.Background()); err != nil {
		t.Fatalf("start camera: %v", err)
	}

	session := inferencetest.NewSession(inferencetest.Rows(
		[7]float32{0, 1, 1, 10, 10, 16, 0.9},
		[7]float32{0, 2, 2, 12, 12, 0, 0.8},
	), 5)
	reg, err := inference.NewRegistry(
		inferencetest.Model("yolov7-tiny_256x256", session),
		inferencetest.Model("yolov7-tiny_640x640", inferencetest.NewSession(inferencetest.Rows(), 7)),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	h.monitor = NewMonitor(
		NewFrameBroadcaster(time.Millisecond),
		NewEventBroadcaster(nil, h.metrics),
		0,
	)
	h.ctrl, err = loop.New(loop.Options{
		Camera:        h.cam,
		Frames:        frames,
		Models:        reg,
		Matcher:       matcher.New(classes, h.list),
		Checklist:     h.list,
		Observer:      h.metrics,
		Sink:          h.monitor,
		FrameInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	assets := t.TempDir()
	if err := os.WriteFile(filepath.Join(assets, "monitor.css"), []byte(":root { color: black; }"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	cfg := DefaultConfig()
	cfg.AssetsDir = assets
	cfg.BuildAssetsDir = t.TempDir()
	cfg.StatusInterval = 10 * time.Millisecond

	opts := Options{
		Controller: h.ctrl,
		Camera:     h.cam,
		Checklist:  h.list,
		Monitor:    h.monitor,
		Metrics:    h.metrics,
	}
	if offers != nil {
		opts.WebRTC = offers
	}
	h.server, err = NewServer(cfg, opts)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	h.server.Start()
	h.handler = h.server.Handler()

	t.Cleanup(func() {
		_ = h.ctrl.Close()
		h.server.Stop()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return h.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, want, rec.Body.String())
	}
	return decodeJSONMap(t, rec.Body.Bytes())
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	if _, err := NewServer(DefaultConfig(), Options{}); err == nil {
		t.Fatalf("expected error for empty options")
	}
}

func TestIndexAndAssets(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", rec.Header().Get("Content-Type"))
	}
	for _, needle := range []string{"<title>Checklist Camera</title>", "/api/events/stream", "/stream"} {
		if !strings.Contains(rec.Body.String(), needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}

	rec = h.do(t, http.MethodGet, "/assets/monitor.css", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /assets/monitor.css status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ":root") {
		t.Fatalf("monitor.css missing :root")
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("monitor.css Cache-Control = %q", got)
	}

	rec = h.do(t, http.MethodGet, "/assets/missing.js", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /assets/missing.js status = %d, want 404", rec.Code)
	}
}

func TestAssetHandlerPrefersBuildDir(t *testing.T) {
	build, bundled := t.TempDir(), t.TempDir()
	for dir, body := range map[string]string{build: "build", bundled: "bundled"} {
		if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte(body), 0o644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
	}

	h := newAssetHandler(build, "", bundled)
	if path, ok := h.lookup("app.js"); !ok || path != filepath.Join(build, "app.js") {
		t.Fatalf("lookup(app.js) = %q, %v", path, ok)
	}
	if _, ok := h.lookup("other.js"); ok {
		t.Fatalf("lookup(other.js) found a file")
	}
}

func TestStatusReportsLoopAndCamera(t *testing.T) {
	h := newHarness(t, &fakeOffers{})

	payload := requireStatus(t, h.do(t, http.MethodGet, "/api/status", nil, ""), http.StatusOK)
	lp := requireMap(t, payload["loop"], "loop")
	if lp["state"] != "idle" {
		t.Fatalf("loop.state = %v", lp["state"])
	}
	if lp["model"] != "yolov7-tiny_256x256" {
		t.Fatalf("loop.model = %v", lp["model"])
	}
	if lp["has_upload"] != false {
		t.Fatalf("loop.has_upload = %v", lp["has_upload"])
	}
	cam := requireMap(t, payload["camera"], "camera")
	if cam["facing"] != "environment" || cam["active"] != true {
		t.Fatalf("camera = %v", cam)
	}
	monitor := requireMap(t, payload["monitor"], "monitor")
	if monitor["webrtc_clients"] != float64(2) {
		t.Fatalf("monitor.webrtc_clients = %v", monitor["webrtc_clients"])
	}
	if len(requireSlice(t, payload["detection_history"], "detection_history")) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestChecklistAddAndReject(t *testing.T) {
	h := newHarness(t, nil)

	payload := requireStatus(t, h.postJSON(t, "/api/checklist", map[string]string{"label": " Dog "}), http.StatusOK)
	items := requireSlice(t, payload["items"], "items")
	if len(items) != 1 || requireMap(t, items[0], "items[0]")["label"] != "dog" {
		t.Fatalf("items = %v", items)
	}

	payload = requireStatus(t, h.postJSON(t, "/api/checklist", map[string]string{"label": "dog"}), http.StatusBadRequest)
	if payload["error"] != checklist.ErrDuplicate.Error() || payload["kind"] != KindValidation {
		t.Fatalf("duplicate payload = %v", payload)
	}

	payload = requireStatus(t, h.postJSON(t, "/api/checklist", map[string]string{"label": "unicorn"}), http.StatusBadRequest)
	if payload["error"] != checklist.ErrNotAllowed.Error() {
		t.Fatalf("not allowed payload = %v", payload)
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/checklist", strings.NewReader("{"), "application/json"), http.StatusBadRequest)

	payload = requireStatus(t, h.do(t, http.MethodPost, "/api/checklist/reset", nil, ""), http.StatusOK)
	if len(requireSlice(t, payload["items"], "items")) != 0 {
		t.Fatalf("checklist not cleared: %v", payload)
	}
}

func TestCaptureMarksChecklistAndRecordsHistory(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.list.Add("dog"); err != nil {
		t.Fatalf("add: %v", err)
	}

	payload := requireStatus(t, h.do(t, http.MethodPost, "/api/capture", nil, ""), http.StatusOK)
	if payload["source"] != "captured_still" {
		t.Fatalf("source = %v", payload["source"])
	}
	hits := requireSlice(t, payload["hits"], "hits")
	if len(hits) != 1 || hits[0] != "dog" {
		t.Fatalf("hits = %v", hits)
	}
	if _, ok := payload["Image"]; ok {
		t.Fatalf("surface leaked into JSON")
	}

	payload = requireStatus(t, h.do(t, http.MethodGet, "/api/checklist", nil, ""), http.StatusOK)
	item := requireMap(t, requireSlice(t, payload["items"], "items")[0], "items[0]")
	if item["matched"] != true {
		t.Fatalf("dog not matched: %v", item)
	}

	status := requireStatus(t, h.do(t, http.MethodGet, "/api/status", nil, ""), http.StatusOK)
	if len(requireSlice(t, status["detection_history"], "detection_history")) != 1 {
		t.Fatalf("history = %v", status["detection_history"])
	}
	if h.metrics.Passes.Load() != 1 || h.metrics.ChecklistHits.Load() != 1 {
		t.Fatalf("metrics passes=%d hits=%d", h.metrics.Passes.Load(), h.metrics.ChecklistHits.Load())
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/reset", nil, ""), http.StatusOK)
	status = requireStatus(t, h.do(t, http.MethodGet, "/api/status", nil, ""), http.StatusOK)
	if len(requireSlice(t, status["detection_history"], "detection_history")) != 0 {
		t.Fatalf("history survived reset")
	}
	if len(requireSlice(t, requireMap(t, status["loop"], "loop")["checklist"], "loop.checklist")) != 0 {
		t.Fatalf("checklist survived reset")
	}
}

func TestUploadMultipartAndRaw(t *testing.T) {
	h := newHarness(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "green.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(pngBytes(t))
	_ = mw.Close()

	payload := requireStatus(t, h.do(t, http.MethodPost, "/api/upload", &body, mw.FormDataContentType()), http.StatusOK)
	if payload["has_upload"] != true {
		t.Fatalf("upload payload = %v", payload)
	}
	if h.cam.Active() {
		t.Fatalf("camera still active while upload held")
	}

	payload = requireStatus(t, h.do(t, http.MethodPost, "/api/upload/process", nil, ""), http.StatusOK)
	if payload["source"] != "uploaded_image" {
		t.Fatalf("source = %v", payload["source"])
	}

	requireStatus(t, h.do(t, http.MethodDelete, "/api/upload", nil, ""), http.StatusOK)
	payload = requireStatus(t, h.do(t, http.MethodPost, "/api/upload/process", nil, ""), http.StatusConflict)
	if payload["kind"] != KindCapture {
		t.Fatalf("kind = %v", payload["kind"])
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/upload", bytes.NewReader(pngBytes(t)), "image/png"), http.StatusOK)
	requireStatus(t, h.do(t, http.MethodPost, "/api/upload", strings.NewReader("not an image"), "image/png"), http.StatusConflict)
}

func TestUploadMultipartWithoutImageField(t *testing.T) {
	h := newHarness(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("other", "value")
	_ = mw.Close()

	payload := requireStatus(t, h.do(t, http.MethodPost, "/api/upload", &body, mw.FormDataContentType()), http.StatusBadRequest)
	if payload["kind"] != KindValidation {
		t.Fatalf("kind = %v", payload["kind"])
	}
}

func TestToggleStopAndVisibility(t *testing.T) {
	h := newHarness(t, nil)

	payload := requireStatus(t, h.do(t, http.MethodPost, "/api/live/toggle", nil, ""), http.StatusOK)
	if payload["state"] != "running" {
		t.Fatalf("toggle state = %v", payload["state"])
	}
	payload = requireStatus(t, h.do(t, http.MethodPost, "/api/live/stop", nil, ""), http.StatusOK)
	if payload["state"] != "idle" {
		t.Fatalf("stop state = %v", payload["state"])
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/live/toggle", nil, ""), http.StatusOK)
	payload = requireStatus(t, h.postJSON(t, "/api/visibility", map[string]bool{"hidden": true}), http.StatusOK)
	if payload["state"] != "idle" {
		t.Fatalf("hidden state = %v", payload["state"])
	}
	if h.ctrl.State() != loop.Idle {
		t.Fatalf("loop still running after hide")
	}
}

func TestModelNextAndCameraSwitch(t *testing.T) {
	h := newHarness(t, nil)

	payload := requireStatus(t, h.do(t, http.MethodPost, "/api/model/next", nil, ""), http.StatusOK)
	if payload["model"] != "yolov7-tiny_640x640" || payload["message"] != "Using yolov7-tiny_640x640" {
		t.Fatalf("model payload = %v", payload)
	}

	payload = requireStatus(t, h.do(t, http.MethodPost, "/api/camera/switch", nil, ""), http.StatusOK)
	if payload["facing"] != "user" {
		t.Fatalf("facing = %v", payload["facing"])
	}
}

func TestCameraResize(t *testing.T) {
	h := newHarness(t, nil)

	requireStatus(t, h.postJSON(t, "/api/camera/resize", map[string]int{"width": 320, "height": 240}), http.StatusOK)
	if size := h.cam.OverlaySize(); size.Width != 320 || size.Height != 240 {
		t.Fatalf("overlay size = %+v", size)
	}
	requireStatus(t, h.postJSON(t, "/api/camera/resize", map[string]int{"width": 0, "height": 240}), http.StatusBadRequest)
}

func TestWebRTCOffer(t *testing.T) {
	h := newHarness(t, nil)
	offer := map[string]string{"type": "offer", "sdp": "v=0"}

	requireStatus(t, h.postJSON(t, "/api/webrtc/offer", offer), http.StatusServiceUnavailable)

	offers := &fakeOffers{answer: []byte(`{"type":"answer","sdp":"v=0"}`)}
	h = newHarness(t, offers)
	requireStatus(t, h.postJSON(t, "/api/webrtc/offer", map[string]string{"sdp": "v=0"}), http.StatusBadRequest)

	payload := requireStatus(t, h.postJSON(t, "/api/webrtc/offer", offer), http.StatusOK)
	if payload["type"] != "answer" {
		t.Fatalf("answer = %v", payload)
	}
	if !bytes.Contains(offers.got, []byte(`"offer"`)) {
		t.Fatalf("offer not forwarded: %s", offers.got)
	}

	offers.err = errors.New("too many clients")
	requireStatus(t, h.postJSON(t, "/api/webrtc/offer", offer), http.StatusServiceUnavailable)
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t, nil)
	requireStatus(t, h.do(t, http.MethodPost, "/api/capture", nil, ""), http.StatusOK)

	rec := h.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "checklist_camera_passes_total 1") {
		t.Fatalf("metrics missing pass count:\n%s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/capture"},
		{http.MethodGet, "/api/reset"},
		{http.MethodPut, "/api/checklist"},
		{http.MethodPost, "/api/status"},
	} {
		rec := h.do(t, tc.method, tc.path, nil, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s status = %d, want 405", tc.method, tc.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"kind":"validation"`) {
			t.Fatalf("%s %s body = %s", tc.method, tc.path, rec.Body.String())
		}
	}

	rec := h.do(t, http.MethodGet, "/api/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /api/nope status = %d, want 404", rec.Code)
	}
}

// readSSEData returns the payload of the next data line.
func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func openStream(t *testing.T, url, accept string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestEventsStreamDeliversResultAndNotification(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)
	if _, err := h.list.Add("dog"); err != nil {
		t.Fatalf("add: %v", err)
	}

	resp, r := openStream(t, srv.URL+"/api/events/stream", "")
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Content-Format") != "application/json" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/capture", nil, ""), http.StatusOK)

	event := decodeJSONMap(t, []byte(readSSEData(t, r)))
	if event["type"] != "result" {
		t.Fatalf("first event = %v", event)
	}
	result := requireMap(t, event["result"], "result")
	if len(requireSlice(t, result["detections"], "result.detections")) != 2 {
		t.Fatalf("detections = %v", result["detections"])
	}

	event = decodeJSONMap(t, []byte(readSSEData(t, r)))
	if event["type"] != "notification" || event["message"] != "Detected a checklist item: dog" {
		t.Fatalf("second event = %v", event)
	}
}

func TestEventsStreamProtobuf(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	resp, r := openStream(t, srv.URL+"/api/events/stream", "application/protobuf")
	if resp.Header.Get("X-Content-Format") != "application/protobuf" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}

	requireStatus(t, h.do(t, http.MethodPost, "/api/capture", nil, ""), http.StatusOK)

	raw, err := base64.StdEncoding.DecodeString(readSSEData(t, r))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(raw, st); err != nil {
		t.Fatalf("unmarshal protobuf: %v", err)
	}
	if got := st.GetFields()["type"].GetStringValue(); got != "result" {
		t.Fatalf("type = %q", got)
	}
	result := st.GetFields()["result"].GetStructValue()
	if got := result.GetFields()["model"].GetStringValue(); got != "yolov7-tiny_256x256" {
		t.Fatalf("model = %q", got)
	}
}

func TestStatusStreamSendsSnapshotImmediately(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	_, r := openStream(t, srv.URL+"/api/status/stream", "")
	payload := decodeJSONMap(t, []byte(readSSEData(t, r)))
	requireMap(t, payload["loop"], "loop")
	requireMap(t, payload["camera"], "camera")

	// Periodic updates follow.
	payload = decodeJSONMap(t, []byte(readSSEData(t, r)))
	monitor := requireMap(t, payload["monitor"], "monitor")
	if monitor["sse_clients"] != float64(1) {
		t.Fatalf("sse_clients = %v", monitor["sse_clients"])
	}
}

func TestMJPEGStreamStartsWithIdleFrame(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	resp, r := openStream(t, srv.URL+"/stream", "")
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "multipart/x-mixed-replace") ||
		!strings.Contains(contentType, "boundary=frame") {
		t.Fatalf("content-type = %q", contentType)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Fatalf("first line = %q", line)
	}
}

func TestClassifyErrors(t *testing.T) {
	cases := []struct {
		err    error
		kind   string
		status int
	}{
		{checklist.ErrDuplicate, KindValidation, http.StatusBadRequest},
		{errors.Join(loop.ErrCapture, frame.ErrNoFrame), KindCapture, http.StatusConflict},
		{camera.ErrAcquire, KindResource, http.StatusServiceUnavailable},
		{loop.ErrClosed, KindResource, http.StatusServiceUnavailable},
		{loop.ErrInference, KindInference, http.StatusInternalServerError},
		{errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		kind, status := classify(tc.err)
		if kind != tc.kind || status != tc.status {
			t.Fatalf("classify(%v) = %s/%d, want %s/%d", tc.err, kind, status, tc.kind, tc.status)
		}
	}
}
