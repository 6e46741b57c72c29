// Package timing records per-iteration durations and derives FPS figures.
package timing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Sample is one completed iteration.
type Sample struct {
	InferenceMs float64 `json:"inference_ms"`
	TotalMs     float64 `json:"total_ms"`
}

func perSecond(ms float64) float64 {
	if ms == 0 {
		return math.NaN()
	}
	return 1000 / ms
}

// ModelFPS is 1000 / inference time. NaN when inference time is zero.
func (s Sample) ModelFPS() float64 {
	return perSecond(s.InferenceMs)
}

// TotalFPS is 1000 / total time. NaN when total time is zero.
func (s Sample) TotalFPS() float64 {
	return perSecond(s.TotalMs)
}

// OverheadFPS is 1000 * (1/total - 1/inference). May be negative.
func (s Sample) OverheadFPS() float64 {
	if s.TotalMs == 0 || s.InferenceMs == 0 {
		return math.NaN()
	}
	return 1000 * (1/s.TotalMs - 1/s.InferenceMs)
}

// OverheadMs is the part of total time not spent in inference.
func (s Sample) OverheadMs() float64 {
	return s.TotalMs - s.InferenceMs
}

// Recorder keeps the latest Sample.
type Recorder struct {
	clk clock.Clock

	mu     sync.Mutex
	latest Sample
	has    bool
}

// NewRecorder returns a recorder using clk, or the wall clock when clk is nil.
func NewRecorder(clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{clk: clk}
}

// Start returns the iteration start timestamp.
func (r *Recorder) Start() time.Time {
	return r.clk.Now()
}

// Record stores a sample whose total time runs from start to now.
func (r *Recorder) Record(start time.Time, inferenceMs float64) Sample {
	s := Sample{
		InferenceMs: inferenceMs,
		TotalMs:     Millis(r.clk.Since(start)),
	}
	r.Store(s)
	return s
}

// Store replaces the latest sample.
func (r *Recorder) Store(s Sample) {
	r.mu.Lock()
	r.latest = s
	r.has = true
	r.mu.Unlock()
}

// Latest returns the most recent sample, if any.
func (r *Recorder) Latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.has
}

// Reset drops the latest sample.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.latest = Sample{}
	r.has = false
	r.mu.Unlock()
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Report is the display form of a Sample.
type Report struct {
	InferenceTime string `json:"inference_time"`
	TotalTime     string `json:"total_time"`
	OverheadTime  string `json:"overhead_time"`
	ModelFPS      string `json:"model_fps"`
	TotalFPS      string `json:"total_fps"`
	OverheadFPS   string `json:"overhead_fps"`
}

// Report renders s. NaN values render as "NaN".
func (s Sample) Report() Report {
	return Report{
		InferenceTime: fmt.Sprintf("Model Inference Time: %.0fms", s.InferenceMs),
		TotalTime:     fmt.Sprintf("Total Time: %.0fms", s.TotalMs),
		OverheadTime:  fmt.Sprintf("Overhead Time: +%.2fms", s.OverheadMs()),
		ModelFPS:      fmt.Sprintf("Model FPS: %sfps", fixed2(s.ModelFPS())),
		TotalFPS:      fmt.Sprintf("Total FPS: %sfps", fixed2(s.TotalFPS())),
		OverheadFPS:   fmt.Sprintf("Overhead FPS: %sfps", fixed2(s.OverheadFPS())),
	}
}

// Lines returns the report in display order.
func (r Report) Lines() []string {
	return []string{r.InferenceTime, r.TotalTime, r.OverheadTime, r.ModelFPS, r.TotalFPS, r.OverheadFPS}
}

func fixed2(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", v)
}
