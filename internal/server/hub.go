package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Hub pushes live readings to browser subscribers on /ws.
type Hub struct {
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	allowedOrigins []string
	snapshot       func() (models.Reading, bool)
	state          func() string

	mutex   sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	conn        *websocket.Conn
	send        chan *models.Message
	connectedAt time.Time
	once        sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// NewHub creates a hub. Same-origin requests are always accepted; cross-origin
// ones only when listed in allowedOrigins.
func NewHub(logger zerolog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*subscriber]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetSources supplies the latest reading and node state sent to new subscribers.
func (h *Hub) SetSources(latest func() (models.Reading, bool), state func() string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.snapshot = latest
	h.state = state
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}
	if origin == "http://"+r.Host {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the connection and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sub := &subscriber{
		conn:        conn,
		send:        make(chan *models.Message, sendBuffer),
		connectedAt: time.Now(),
	}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[sub] = struct{}{}
	latest, state := h.snapshot, h.state
	h.mutex.Unlock()

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Stream subscriber connected")

	if state != nil {
		h.enqueue(sub, models.MessageTypeState, models.StateMessage{State: state()})
	}
	if latest != nil {
		if r, ok := latest(); ok {
			h.enqueue(sub, models.MessageTypeReading, r)
		}
	}

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// readLoop only services control frames; subscribers never send data.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)

	conn := sub.conn
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("Stream write failed")
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mutex.Lock()
	_, ok := h.clients[sub]
	delete(h.clients, sub)
	h.mutex.Unlock()

	if ok {
		sub.close()
		h.logger.Info().
			Str("remote", sub.conn.RemoteAddr().String()).
			Dur("connected_for", time.Since(sub.connectedAt)).
			Msg("Stream subscriber disconnected")
	}
}

// enqueue is a no-op once sub has been removed or the hub closed.
func (h *Hub) enqueue(sub *subscriber, t models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create stream message")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.clients[sub]; !ok {
		return
	}
	select {
	case sub.send <- msg:
	default:
	}
}

// broadcast drops the message for subscribers whose buffer is full.
func (h *Hub) broadcast(t models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create stream message")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for sub := range h.clients {
		select {
		case sub.send <- msg:
		default:
			h.logger.Debug().Str("remote", sub.conn.RemoteAddr().String()).Msg("Subscriber too slow, message dropped")
		}
	}
}

// BroadcastReading implements node.Broadcaster.
func (h *Hub) BroadcastReading(r models.Reading) {
	h.broadcast(models.MessageTypeReading, r)
}

// BroadcastSettings notifies subscribers of new thresholds.
func (h *Hub) BroadcastSettings(th models.Thresholds) {
	h.broadcast(models.MessageTypeSettings, th)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.closed = true
	for sub := range h.clients {
		sub.close()
		delete(h.clients, sub)
	}
}
