package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrNoSubscribers is returned when nobody is connected for a target
var ErrNoSubscribers = errors.New("no subscribers for target")

// Message is the JSON frame written to console clients
type Message struct {
	ID            string    `json:"id"`
	Target        string    `json:"target"`
	Message       string    `json:"message"`
	DocumentType  string    `json:"document_type,omitempty"`
	DocumentID    string    `json:"document_id,omitempty"`
	DocumentState string    `json:"document_state,omitempty"`
	Attachment    string    `json:"attachment,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Config holds hub settings
type Config struct {
	BufferSize     int
	AllowedOrigins []string
}

// Hub fans push notifications out to websocket connections grouped by target
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	buffer   int
	logger   *zap.Logger
}

type client struct {
	id     string
	target string
	conn   *websocket.Conn
	send   chan Message
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a push hub
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		buffer:  cfg.BufferSize,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Channel implements port.Sender
func (h *Hub) Channel() entity.Channel {
	return entity.ChannelPush
}

// Send implements port.Sender. A slow client whose buffer is full is dropped.
func (h *Hub) Send(ctx context.Context, n *entity.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{
		ID:            n.ID,
		Target:        n.Target,
		Message:       n.Message,
		DocumentType:  string(n.DocumentType),
		DocumentID:    n.DocumentID,
		DocumentState: string(n.DocumentState),
		Timestamp:     n.CreatedAt,
	}
	if n.Attachment != nil {
		msg.Attachment = n.Attachment.FileName
	}

	h.mu.RLock()
	subs := h.clients[n.Target]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return &port.PermanentError{Err: fmt.Errorf("%w: %s", ErrNoSubscribers, n.Target)}
	}

	var slow []*client
	for c := range subs {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Push client too slow, dropping", zap.String("client_id", c.id), zap.String("target", c.target))
		h.unregister(c)
	}
	return nil
}

// ServeWS upgrades the request and subscribes the connection to target
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, target string) error {
	if target == "" {
		http.Error(w, "target is required", http.StatusBadRequest)
		return errors.New("push subscription without target")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &client{
		id:     uuid.NewString(),
		target: target,
		conn:   conn,
		send:   make(chan Message, h.buffer),
	}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return errors.New("push hub closed")
	}

	h.logger.Info("Push client connected", zap.String("client_id", c.id), zap.String("target", target))

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// Subscribers returns the number of connections for target
func (h *Hub) Subscribers(target string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[target])
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for target, subs := range h.clients {
		for c := range subs {
			c.close()
		}
		delete(h.clients, target)
	}
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.target] == nil {
		h.clients[c.target] = make(map[*client]struct{})
	}
	h.clients[c.target][c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[c.target]; ok {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			c.close()
		}
		if len(subs) == 0 {
			delete(h.clients, c.target)
		}
	}
}

// readPump only services control frames; console clients never send data
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("Push client disconnected", zap.String("client_id", c.id), zap.String("target", c.target))
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Push client read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
