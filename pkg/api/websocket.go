package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/metrics"
)

const (
	// sendBufferSize bounds each subscriber's queue; a subscriber that falls
	// this far behind is dropped rather than allowed to stall broadcasts.
	sendBufferSize = 256

	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are policed by the CORS layer on the HTTP surface.
		return true
	},
}

// Hub fans coordinator events out to WebSocket subscribers. Subscribers pick
// one chain at connect time and only ever receive that chain's events.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	register   chan *subscriber
	unregister chan *subscriber

	mu          sync.Mutex
	subscribers map[*subscriber]bool
}

// NewHub creates a hub. Call Run in its own goroutine before serving.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:      logger,
		metrics:     m,
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		subscribers: make(map[*subscriber]bool),
	}
}

// Run processes subscriber arrivals and departures.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			total := len(h.subscribers)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.SubscriberConnected(sub.chainID)
			}
			h.logger.Info("subscriber connected",
				zap.String("remote", sub.id),
				zap.Int64("chainId", sub.chainID),
				zap.Int("total", total))

		case sub := <-h.unregister:
			h.mu.Lock()
			_, ok := h.subscribers[sub]
			if ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			total := len(h.subscribers)
			h.mu.Unlock()
			if ok {
				if h.metrics != nil {
					h.metrics.SubscriberDisconnected(sub.chainID)
				}
				h.logger.Info("subscriber disconnected",
					zap.String("remote", sub.id),
					zap.Int64("chainId", sub.chainID),
					zap.Int("total", total))
			}
		}
	}
}

// Publish delivers an event to every subscriber of the chain. Events enqueue
// in call order per subscriber; a subscriber with a full queue is dropped so
// it can never delay the caller.
func (h *Hub) Publish(chainID int64, event coordinator.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if sub.chainID != chainID {
			continue
		}
		select {
		case sub.send <- message:
		default:
			// Queue overflow: drop the subscriber here; its pumps notice the
			// closed channel and tear the connection down.
			delete(h.subscribers, sub)
			close(sub.send)
			if h.metrics != nil {
				h.metrics.SubscriberDisconnected(sub.chainID)
			}
			h.logger.Warn("dropping slow subscriber",
				zap.String("remote", sub.id),
				zap.Int64("chainId", sub.chainID))
		}
	}
}

var _ coordinator.Publisher = (*Hub)(nil)

// subscriber is one WebSocket connection listening to a single chain.
type subscriber struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	chainID int64
}

// readPump discards inbound frames (the stream is listen-only) while keeping
// the pong deadline fresh. It drives unregistration when the peer goes away.
func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("subscriber read error", zap.String("remote", s.id), zap.Error(err))
			}
			return
		}
	}
}

// writePump pushes queued events to the connection and keeps it alive with
// pings.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequests upgrades GET /v2/requests connections and registers the
// subscriber under its chain.
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	chainID, reqErr := parseChainID(r)
	if reqErr == nil && !s.approver.SupportsChain(chainID) {
		reqErr = coordinator.NewUnsupportedChainError(chainID)
	}
	if reqErr != nil {
		respondError(w, reqErr)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		id:      conn.RemoteAddr().String(),
		chainID: chainID,
	}
	s.hub.register <- sub

	go sub.writePump()
	go sub.readPump()
}
