package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// Hub fans committed registry events out to subscribers. Publish never
// blocks: a subscriber whose buffer is full is disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan registry.Event]struct{}
	closed bool
	log    *zap.Logger
}

// NewHub returns an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[chan registry.Event]struct{}), log: log}
}

// Publish delivers events to every subscriber. It is the registry service's
// notifier.
func (h *Hub) Publish(events []registry.Event) {
	for _, e := range events {
		eventsPublished.WithLabelValues(e.Type).Inc()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
				h.log.Warn("dropping slow event subscriber")
				h.drop(ch)
			}
			if _, ok := h.subs[ch]; !ok {
				break
			}
		}
	}
}

// Subscribe registers a subscriber. The channel is closed when the
// subscriber falls behind, when cancel is called, or when the hub closes.
func (h *Hub) Subscribe() (<-chan registry.Event, func()) {
	ch := make(chan registry.Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	wsSubscribers.Inc()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(ch)
	}
}

// drop removes and closes ch. Callers hold h.mu.
func (h *Hub) drop(ch chan registry.Event) {
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
	wsSubscribers.Dec()
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		h.drop(ch)
	}
}

// parseAfter reads the ?after= sequence cursor.
func parseAfter(r *http.Request) (uint64, bool) {
	v := r.URL.Query().Get("after")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}

// handleListEvents pages through committed events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	after, ok := parseAfter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "after must be a sequence number")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.svc.Events(r.Context(), after, limit)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if events == nil {
		events = []registry.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// wsMessage is the envelope for websocket frames.
type wsMessage struct {
	Type  string          `json:"type"`
	Event *registry.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleEventsWS streams events over a websocket. With ?after=N it first
// replays stored events after N, then follows live events without gaps or
// duplicates.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	after, ok := parseAfter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "after must be a sequence number")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	// Subscribe before replaying so nothing committed in between is missed.
	live, cancel := s.hub.Subscribe()
	defer cancel()

	// The reader goroutine only detects the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-done
	}()

	send := func(e registry.Event) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(wsMessage{Type: "event", Event: &e})
	}

	// Live events at or below floor were already replayed. Notifications of
	// concurrent commits may arrive out of sequence order, so only the replay
	// floor is used for deduplication.
	floor := after

	if r.URL.Query().Has("after") {
		for {
			backlog, err := s.svc.Events(r.Context(), floor, 500)
			if err != nil {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteJSON(wsMessage{Type: "error", Error: "failed to load events"})
				return
			}
			for _, e := range backlog {
				if err := send(e); err != nil {
					return
				}
				floor = e.Seq
			}
			if len(backlog) < 500 {
				break
			}
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case e, ok := <-live:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			if e.Seq <= floor {
				continue
			}
			if err := send(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
