package websocket

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

const (
	// maxPayload bounds a published message.
	maxPayload = 64 << 10

	peerBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub relays published messages to websocket subscribers.
type Hub struct {
	mu       sync.Mutex
	topics   map[string]map[*peer]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes returns the hub's HTTP routes.
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/topics/{topic}", h.handlePublish)
	r.Get("/topics/{topic}/subscribe", h.handleSubscribe)
	return r
}

// Broadcast relays payload to every subscriber of topic and returns how
// many peers it was queued for. Peers with a full buffer miss it.
func (h *Hub) Broadcast(topic string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for p := range h.topics[topic] {
		select {
		case p.send <- payload:
			n++
		default:
			logger.Warn("bus hub: subscriber %s on %s is slow, dropping message", p.addr, topic)
		}
	}
	return n
}

// Subscribers returns the number of connected subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayload {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	n := h.Broadcast(topic, payload)
	logger.Debug("bus hub: relayed %d bytes on %s to %d subscribers", len(payload), topic, n)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("bus hub: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	p := &peer{conn: conn, send: make(chan []byte, peerBuffer), addr: r.RemoteAddr}
	h.add(topic, p)
	logger.Debug("bus hub: %s subscribed to %s", p.addr, topic)

	go p.writeLoop()
	p.readLoop()

	h.remove(topic, p)
	logger.Debug("bus hub: %s left %s", p.addr, topic)
}

func (h *Hub) add(topic string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*peer]struct{})
	}
	h.topics[topic][p] = struct{}{}
}

func (h *Hub) remove(topic string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[topic][p]; !ok {
		return
	}
	delete(h.topics[topic], p)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
	close(p.send)
}

// peer is one subscriber connection.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// readLoop discards client frames and returns when the connection ends.
func (p *peer) readLoop() {
	p.conn.SetReadLimit(512)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends queued messages and keepalive pings until send is closed.
func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
