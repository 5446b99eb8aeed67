package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin allows all origins outside production; in production only
// origins listed in AEGIS_ALLOWED_ORIGINS are accepted.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("AEGIS_ENV")
	allowedRaw := os.Getenv("AEGIS_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	return func(*http.Request) bool { return true }
}

// StreamMessage is one event pushed to connected advocates.
type StreamMessage struct {
	Type    string      `json:"type"` // security_event, break_glass, decision
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Stream fans security events out to connected advocate dashboards. All
// writes to a connection go through its send channel and writePump, so there
// is exactly one writer per socket.
type Stream struct {
	mu      sync.RWMutex
	clients map[string]*streamClient
}

type streamClient struct {
	id     string
	stream *Stream
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewStream creates an empty stream hub.
func NewStream() *Stream {
	return &Stream{clients: make(map[string]*streamClient)}
}

// Broadcast pushes a message to every connected client. Slow clients have
// the message dropped rather than blocking the caller.
func (s *Stream) Broadcast(msgType string, payload interface{}) {
	raw, err := json.Marshal(StreamMessage{Type: msgType, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		slog.Error("stream encode failed", "type", msgType, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- raw:
		default:
			slog.Warn("stream client lagging, dropping message", "client", c.id)
		}
	}
}

// ClientCount reports connected dashboards.
func (s *Stream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP lets a Stream be mounted directly on a router.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the connection and registers the client.
func (s *Stream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		id:     uuid.NewString(),
		stream: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("advocate stream connected", "client", c.id)

	go c.writePump()
	go c.readPump()
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.stream.mu.Lock()
		delete(c.stream.clients, c.id)
		c.stream.mu.Unlock()
		c.conn.Close()
		slog.Info("advocate stream disconnected", "client", c.id)
	})
}

// writePump owns all writes to the connection, including pings.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains the connection; the feed is one-way, so inbound frames are
// discarded, but reading keeps pong handling alive.
func (c *streamClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("advocate stream read error", "client", c.id, "error", err)
			}
			return
		}
	}
}
