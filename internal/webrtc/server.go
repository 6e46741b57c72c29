// Package webrtc fans detection events out to browsers over a DataChannel.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/dj-oyu/checklist-camera/internal/logger"
)

// The events channel is pre-negotiated: both peers create it with this label and ID.
const (
	EventsChannelLabel = "events"
	EventsChannelID    = uint16(0)
)

const eventQueueSize = 32

// ErrTooManyClients is returned by HandleOffer when the client limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client is one browser peer and its outgoing event queue.
type Client struct {
	id      string
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	opened  chan struct{}
	queue   chan []byte
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Server negotiates peers and relays events to them.
type Server struct {
	api        *webrtc.API
	config     webrtc.Configuration
	maxClients int
	nextID     atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*Client

	onCount func(int)
}

// NewServer creates a Server. With no STUN servers only host candidates are gathered.
func NewServer(stunServers []string, maxClients int) *Server {
	var se webrtc.SettingEngine
	se.SetDTLSRetransmissionInterval(2 * time.Second)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	return &Server{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: webrtc.Configuration{
			ICEServers: lo.Map(stunServers, func(url string, _ int) webrtc.ICEServer {
				return webrtc.ICEServer{URLs: []string{url}}
			}),
		},
		maxClients: maxClients,
		clients:    make(map[string]*Client),
	}
}

// OnClientCountChange registers fn to be called with the client count
// whenever a client joins or leaves. Call before serving offers.
func (s *Server) OnClientCountChange(fn func(int)) {
	s.onCount = fn
}

// HandleOffer answers a browser offer (JSON SessionDescription). The answer
// carries every gathered candidate, so no trickle ICE is needed.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, errors.Wrap(err, "parse offer")
	}
	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	client, err := s.newClient(pc)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	answer, err := negotiate(pc, offer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	s.mu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.mu.Unlock()
	s.notifyCount(count)

	go s.sendLoop(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answer, nil
}

func (s *Server) newClient(pc *webrtc.PeerConnection) (*Client, error) {
	negotiated, ordered := true, true
	id := EventsChannelID
	channel, err := pc.CreateDataChannel(EventsChannelLabel, &webrtc.DataChannelInit{
		ID:         &id,
		Negotiated: &negotiated,
		Ordered:    &ordered,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create data channel")
	}

	c := &Client{
		id:      fmt.Sprintf("client-%d", s.nextID.Add(1)),
		pc:      pc,
		channel: channel,
		opened:  make(chan struct{}),
		queue:   make(chan []byte, eventQueueSize),
		done:    make(chan struct{}),
	}
	channel.OnOpen(func() {
		logger.Debug("WebRTC", "Client %s channel open", c.id)
		close(c.opened)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s state %s", c.id, state)
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			s.RemoveClient(c.id)
		}
	})
	return c, nil
}

// negotiate applies the offer and returns the complete local answer as JSON.
func negotiate(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) ([]byte, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, errors.Wrap(err, "set remote description")
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create answer")
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(err, "set local description")
	}
	<-gathered

	local := pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description after gathering")
	}
	return json.Marshal(local)
}

// Broadcast queues data for every client. A full queue drops the event for
// that client only.
func (s *Server) Broadcast(data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.queue <- data:
		default:
			c.dropped.Add(1)
		}
	}
}

func (s *Server) sendLoop(c *Client) {
	select {
	case <-c.done:
		return
	case <-c.opened:
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if err := c.channel.SendText(string(data)); err != nil {
				logger.Warn("WebRTC", "Send to %s failed: %v", c.id, err)
				s.RemoveClient(c.id)
				return
			}
			c.sent.Add(1)
		}
	}
}

// RemoveClient disconnects a client. Unknown IDs are ignored.
func (s *Server) RemoveClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	count := len(s.clients)
	s.mu.Unlock()

	if !ok {
		return
	}

	// Closing the peer re-enters RemoveClient through the state callback.
	close(c.done)
	_ = c.pc.Close()
	s.notifyCount(count)

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		id, c.sent.Load(), c.dropped.Load())
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ClientStats returns per-client sent and dropped event counts.
func (s *Server) ClientStats() map[string]map[string]uint64 {
	return lo.MapValues(s.snapshot(), func(c *Client, _ string) map[string]uint64 {
		return map[string]uint64{
			"events_sent":    c.sent.Load(),
			"events_dropped": c.dropped.Load(),
		}
	})
}

// Close disconnects every client.
func (s *Server) Close() error {
	for id := range s.snapshot() {
		s.RemoveClient(id)
	}
	return nil
}

func (s *Server) snapshot() map[string]*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Assign(s.clients)
}

func (s *Server) notifyCount(n int) {
	if s.onCount != nil {
		s.onCount(n)
	}
}
