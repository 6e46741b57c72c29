package webmonitor

import (
	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/loop"
)

// MonitorStats summarizes what the monitor has seen.
type MonitorStats struct {
	PassesPublished int     `json:"passes_published"`
	ResultVersion   int     `json:"result_version"`
	DetectionCount  int     `json:"detection_count"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	SSEClients      int     `json:"sse_clients"`
	MJPEGClients    int     `json:"mjpeg_clients"`
	WebRTCClients   int     `json:"webrtc_clients"`
}

// CameraStatus is the camera block of /api/status.
type CameraStatus struct {
	Facing camera.FacingMode `json:"facing"`
	Active bool              `json:"active"`
}

// StatusPayload is the body of /api/status and each status SSE event.
type StatusPayload struct {
	Loop      loop.Snapshot `json:"loop"`
	Camera    CameraStatus  `json:"camera"`
	Monitor   MonitorStats  `json:"monitor"`
	History   []loop.Result `json:"detection_history"`
	Timestamp float64       `json:"timestamp"`
}

// EventPayload is the wire form of a loop event.
type EventPayload struct {
	Type         string       `json:"type"`
	Timestamp    float64      `json:"timestamp"`
	Version      int          `json:"version,omitempty"`
	Result       *loop.Result `json:"result,omitempty"`
	Label        string       `json:"label,omitempty"`
	Message      string       `json:"message,omitempty"`
	State        string       `json:"state,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	ErrorMessage string       `json:"error,omitempty"`
}

// ChecklistPayload is the body of the checklist endpoints.
type ChecklistPayload struct {
	Items []checklist.Item `json:"items"`
}
