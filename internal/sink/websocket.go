package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSendBuffer = 64
	wsWriteTimeout    = 5 * time.Second
)

// WebSocketSink broadcasts each batch as a JSON text message to every
// connected client. A client whose send buffer is full misses the batch.
type WebSocketSink struct {
	sendBuf  int
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewWebSocketSink(sendBuf int) *WebSocketSink {
	if sendBuf <= 0 {
		sendBuf = DefaultSendBuffer
	}
	return &WebSocketSink{
		sendBuf: sendBuf,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger:  log.With().Str("sink", "websocket").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams batches until the client goes
// away or the sink is closed.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, s.sendBuf)}
	if !s.addClient(c) {
		c.close()
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("stream client connected")

	go c.writeLoop()
	c.readLoop()

	c.close()
	s.removeClient(c)
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("stream client disconnected")
}

func (s *WebSocketSink) Push(d tracebuf.DecodedSamples) {
	clients := s.snapshotClients()
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		observability.RecordSinkDelivery("websocket", "error")
		s.logger.Error().Err(err).Str("station", d.StationID).Msg("encode batch")
		return
	}
	for _, c := range clients {
		if c.trySend(data) {
			observability.RecordSinkDelivery("websocket", "ok")
			continue
		}
		observability.RecordSinkDelivery("websocket", "dropped")
	}
}

// Clients returns the number of connected stream clients.
func (s *WebSocketSink) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	observability.SetWebSocketClients(0)
	return nil
}

func (s *WebSocketSink) addClient(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	observability.SetWebSocketClients(len(s.clients))
	return true
}

func (s *WebSocketSink) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	observability.SetWebSocketClients(len(s.clients))
	s.mu.Unlock()
}

func (s *WebSocketSink) snapshotClients() []*wsClient {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

// readLoop discards client messages; it returns when the connection fails.
func (c *wsClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writeLoop() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

func (c *wsClient) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}
