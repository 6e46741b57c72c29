package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.viam.com/test"

	"github.com/dj-oyu/checklist-camera/internal/timing"
)

func TestObservePass(t *testing.T) {
	m := New()
	m.ObservePass(timing.Sample{InferenceMs: 20, TotalMs: 33}, 2)
	m.ObservePass(timing.Sample{InferenceMs: 10, TotalMs: 25}, 0)
	m.ObserveCaptureFailure()
	m.ObserveInferenceFailure()
	m.ObserveInferenceFailure()

	test.That(t, m.Passes.Load(), test.ShouldEqual, uint64(2))
	test.That(t, m.ChecklistHits.Load(), test.ShouldEqual, uint64(2))
	test.That(t, m.CaptureFailures.Load(), test.ShouldEqual, uint64(1))
	test.That(t, m.InferenceFailures.Load(), test.ShouldEqual, uint64(2))
	test.That(t, m.InferenceMs(), test.ShouldEqual, 10.0)
	test.That(t, m.TotalMs(), test.ShouldEqual, 25.0)
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.SetLoopRunning(true)
	m.ObservePass(timing.Sample{InferenceMs: 20, TotalMs: 40}, 1)
	m.SSEClients.Add(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)

	text := string(body)
	test.That(t, text, test.ShouldContainSubstring, "checklist_camera_loop_running 1")
	test.That(t, text, test.ShouldContainSubstring, "checklist_camera_passes_total 1")
	test.That(t, text, test.ShouldContainSubstring, "checklist_camera_model_fps 50")
	test.That(t, text, test.ShouldContainSubstring, "checklist_camera_total_fps 25")
	test.That(t, text, test.ShouldContainSubstring, "checklist_camera_sse_clients 3")
}

func TestFPSBeforeFirstPass(t *testing.T) {
	m := New()
	test.That(t, zeroNaN(m.sample().ModelFPS()), test.ShouldEqual, 0.0)
}
