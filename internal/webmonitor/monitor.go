package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/checklist-camera/internal/loop"
)

// DefaultHistorySize is the number of results with detections kept for /api/status.
const DefaultHistorySize = 8

// Monitor receives loop events, keeps the latest result and a short history,
// and hands events to the broadcasters. It implements loop.Sink.
type Monitor struct {
	startTime   time.Time
	historySize int

	mu      sync.Mutex
	passes  int
	version int
	latest  *loop.Result
	history []loop.Result

	frames *FrameBroadcaster
	events *EventBroadcaster
}

// NewMonitor creates a Monitor feeding frames and events. Either may be nil.
func NewMonitor(frames *FrameBroadcaster, events *EventBroadcaster, historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Monitor{
		startTime:   time.Now(),
		historySize: historySize,
		frames:      frames,
		events:      events,
	}
}

// Publish implements loop.Sink. It never blocks on clients.
func (m *Monitor) Publish(e loop.Event) {
	version := 0
	if e.Kind == loop.EventResult && e.Result != nil {
		version = m.updateResult(e.Result)
		if m.frames != nil && e.Result.Image != nil {
			m.frames.Offer(e.Result.Image)
		}
	}
	if m.events != nil {
		m.events.Publish(eventPayload(e, version))
	}
}

func (m *Monitor) updateResult(res *loop.Result) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.passes++
	m.version++
	m.latest = res
	if len(res.Detections) > 0 {
		entry := *res
		entry.Image = nil
		m.history = append([]loop.Result{entry}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	return m.version
}

// Stats returns the monitor counters. Client counts are filled by the server.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		PassesPublished: m.passes,
		ResultVersion:   m.version,
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
	}
	if m.latest != nil {
		stats.DetectionCount = len(m.latest.Detections)
	}
	return stats
}

// History returns the most recent results with detections, newest first.
func (m *Monitor) History() []loop.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	historyCopy := make([]loop.Result, len(m.history))
	copy(historyCopy, m.history)
	return historyCopy
}

// Clear drops the latest result and history.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.latest = nil
	m.history = nil
	m.mu.Unlock()
}

func eventPayload(e loop.Event, version int) EventPayload {
	p := EventPayload{
		Type:      string(e.Kind),
		Timestamp: unixSeconds(e.At),
	}
	switch e.Kind {
	case loop.EventResult:
		p.Result = e.Result
		p.Version = version
	case loop.EventNotification:
		if e.Notification != nil {
			p.Label = e.Notification.Label
			p.Message = e.Notification.Message
		}
	case loop.EventState:
		p.State = e.State.String()
	case loop.EventError:
		if e.Err != nil {
			p.ErrorKind, _ = classify(e.Err)
			p.ErrorMessage = e.Err.Error()
		}
	}
	return p
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / 1e9
}
