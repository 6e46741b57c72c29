package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/checklist-camera/internal/logger"
	"github.com/dj-oyu/checklist-camera/internal/metrics"
)

// fanout tracks subscriber channels. Sends never block; slow clients miss items.
type fanout[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
}

// Subscribe adds a new client and returns its channel.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2) // Buffer 2 items to avoid blocking
	f.clients[id] = ch

	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// ClientCount returns the number of subscribers.
func (f *fanout[T]) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) (sent, dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// closeAll disconnects every client so streaming handlers return.
func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
}

type stopper struct {
	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

func (s *stopper) halt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	close(s.stop)
	s.stopped = true
	return true
}

// FrameBroadcaster encodes annotated surfaces to JPEG and fans them out.
// Only the newest surface is kept; encoding is skipped when nobody watches.
type FrameBroadcaster struct {
	fanout[[]byte]
	stopper

	latest      atomic.Pointer[image.NRGBA]
	notify      chan struct{}
	minInterval time.Duration
	quality     int
}

// NewFrameBroadcaster returns a broadcaster emitting at most one frame per minInterval.
func NewFrameBroadcaster(minInterval time.Duration) *FrameBroadcaster {
	return &FrameBroadcaster{
		fanout:      fanout[[]byte]{name: "FrameBroadcaster", clients: make(map[int]chan []byte)},
		stopper:     stopper{stop: make(chan struct{})},
		notify:      make(chan struct{}, 1),
		minInterval: minInterval,
		quality:     80,
	}
}

// Offer replaces the pending surface. The surface must not be modified afterwards.
func (fb *FrameBroadcaster) Offer(img *image.NRGBA) {
	fb.latest.Store(img)
	select {
	case fb.notify <- struct{}{}:
	default:
	}
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects clients.
func (fb *FrameBroadcaster) Stop() {
	if fb.halt() {
		fb.closeAll()
	}
}

func (fb *FrameBroadcaster) run() {
	for {
		select {
		case <-fb.stop:
			return
		case <-fb.notify:
		}

		if fb.ClientCount() == 0 {
			continue
		}
		img := fb.latest.Load()
		if img == nil {
			continue
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(fb.quality)); err != nil {
			logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
			continue
		}
		fb.broadcast(buf.Bytes())

		if fb.minInterval > 0 {
			select {
			case <-fb.stop:
				return
			case <-time.After(fb.minInterval):
			}
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

// serialize encodes v as JSON and as the equivalent protobuf Struct.
func serialize(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster serializes loop events and fans them out to SSE clients
// and an optional relay (the WebRTC data channels).
type EventBroadcaster struct {
	fanout[*SerializedEvent]
	stopper

	in      chan EventPayload
	relay   func([]byte)
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster. relay and m may be nil.
func NewEventBroadcaster(relay func([]byte), m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		fanout:  fanout[*SerializedEvent]{name: "EventBroadcaster", clients: make(map[int]chan *SerializedEvent)},
		stopper: stopper{stop: make(chan struct{})},
		in:      make(chan EventPayload, 64),
		relay:   relay,
		metrics: m,
	}
}

// Publish queues an event. It returns false when the queue is full.
func (eb *EventBroadcaster) Publish(p EventPayload) bool {
	select {
	case eb.in <- p:
		return true
	default:
		if eb.metrics != nil {
			eb.metrics.EventsDropped.Add(1)
		}
		logger.Warn("EventBroadcaster", "Queue full, dropping %s event", p.Type)
		return false
	}
}

// Start begins the serialization loop.
func (eb *EventBroadcaster) Start() {
	go eb.run()
}

// Stop halts the broadcaster and disconnects clients.
func (eb *EventBroadcaster) Stop() {
	if eb.halt() {
		eb.closeAll()
	}
}

func (eb *EventBroadcaster) run() {
	for {
		select {
		case <-eb.stop:
			return
		case p := <-eb.in:
			event, err := serialize(p)
			if err != nil {
				logger.Error("EventBroadcaster", "Serialize %s event: %v", p.Type, err)
				continue
			}
			sent, dropped := eb.broadcast(event)
			if eb.metrics != nil {
				eb.metrics.EventsPublished.Add(uint64(sent))
				eb.metrics.EventsDropped.Add(uint64(dropped))
			}
			if eb.relay != nil {
				eb.relay(event.JSONData)
			}
		}
	}
}

// StatusBroadcaster periodically fans out the status payload.
type StatusBroadcaster struct {
	fanout[*SerializedEvent]
	stopper

	status   func() StatusPayload
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(status func() StatusPayload, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		fanout:   fanout[*SerializedEvent]{name: "StatusBroadcaster", clients: make(map[int]chan *SerializedEvent)},
		stopper:  stopper{stop: make(chan struct{})},
		status:   status,
		interval: interval,
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and disconnects clients.
func (sb *StatusBroadcaster) Stop() {
	if sb.halt() {
		sb.closeAll()
	}
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.ClientCount() == 0 {
				continue
			}
			event, err := serialize(sb.status())
			if err != nil {
				logger.Error("StatusBroadcaster", "Serialize status: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}
