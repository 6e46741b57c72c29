package loop

import (
	"image"
	"time"

	"github.com/dj-oyu/checklist-camera/internal/matcher"
	"github.com/dj-oyu/checklist-camera/internal/timing"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

// State is the loop state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one completed pass.
type Result struct {
	Source     string            `json:"source"`
	Seq        uint64            `json:"frame_number"`
	Model      string            `json:"model"`
	Detections []types.Detection `json:"detections"`
	Labels     []string          `json:"labels"`
	Hits       []string          `json:"hits"`
	Summary    string            `json:"summary,omitempty"`
	Timing     timing.Report     `json:"timing"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	CapturedAt time.Time         `json:"captured_at"`

	Sample timing.Sample `json:"-"`
	Image  *image.NRGBA  `json:"-"` // Annotated surface
}

// EventKind tags an Event.
type EventKind string

const (
	EventResult       EventKind = "result"
	EventNotification EventKind = "notification"
	EventState        EventKind = "state"
	EventError        EventKind = "error"
)

// Event is published to the Sink.
type Event struct {
	Kind         EventKind
	At           time.Time
	Result       *Result
	Notification *matcher.Notification
	State        State
	Err          error
}

// Sink receives loop events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// Observer receives loop counters. A nil Observer is allowed.
type Observer interface {
	ObservePass(sample timing.Sample, hits int)
	ObserveCaptureFailure()
	ObserveInferenceFailure()
	SetLoopRunning(running bool)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

type nopObserver struct{}

func (nopObserver) ObservePass(timing.Sample, int) {}
func (nopObserver) ObserveCaptureFailure()         {}
func (nopObserver) ObserveInferenceFailure()       {}
func (nopObserver) SetLoopRunning(bool)            {}
