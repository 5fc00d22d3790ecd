package hook

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/model"
)

type EventKind string

const (
	EventRequest EventKind = "request"
	EventForward EventKind = "forward"
)

// Event is pushed to live stream clients and the CLI tail.
type Event struct {
	Kind       EventKind            `json:"type"`
	EndpointID string               `json:"endpoint_id"`
	Request    *model.StoredRequest `json:"request,omitempty"`
	Forward    *model.ForwardRecord `json:"forward,omitempty"`
}

const (
	subscriberBuffer = 64
	streamWriteWait  = 10 * time.Second
	streamPingEvery  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	endpointID string
	ch         chan Event
}

// broadcaster fans events out to stream subscribers. Slow subscribers drop
// events rather than stall ingest.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*subscriber]struct{})}
}

func (b *broadcaster) subscribe(endpointID string) (*subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	sub := &subscriber{endpointID: endpointID, ch: make(chan Event, subscriberBuffer)}
	b.subs[sub] = struct{}{}
	return sub, true
}

func (b *broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.endpointID != e.EndpointID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// handleStream upgrades to a WebSocket and pushes the endpoint's events as JSON
// messages until either side closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.endpoints.GetEndpointConfig(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	sub, ok := s.events.subscribe(id)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer s.events.unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.StreamClients(1)
	defer s.metrics.StreamClients(-1)

	log := s.logger.With(zap.String("endpoint_id", id))
	log.Debug("stream client connected", zap.String("remote_addr", r.RemoteAddr))

	// Drain client frames so close and pong control messages are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-clientGone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case e, ok := <-sub.ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug("stream write failed", zap.Error(err))
				}
				return
			}
		}
	}
}
