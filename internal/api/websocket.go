// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/progress"
	"github.com/Corphon/StoryReel/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The review UI may be served from another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketMessage is every frame the progress stream writes.
type WebSocketMessage struct {
	Type      string                `json:"type"`
	Chapter   int                   `json:"chapter,omitempty"`
	Event     *models.ProgressEvent `json:"event,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// progressClient is one websocket subscriber. chapter 0 follows every chapter.
type progressClient struct {
	conn      *websocket.Conn
	chapter   int
	send      chan WebSocketMessage
	closed    int32
	lastPing  atomic.Int64
	createdAt time.Time
}

func (client *progressClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

func (client *progressClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

func (client *progressClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// queue hands msg to the writer without blocking; a full queue drops it.
func (client *progressClient) queue(msg WebSocketMessage) {
	if client.IsClosed() {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

// ProgressHub streams pipeline progress events to websocket clients.
type ProgressHub struct {
	events       *progress.Broadcaster
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	logger       *utils.Logger

	mu      sync.RWMutex
	clients map[*progressClient]bool
}

func NewProgressHub(events *progress.Broadcaster) *ProgressHub {
	return &ProgressHub{
		events:       events,
		pingInterval: 54 * time.Second,
		pongWait:     60 * time.Second,
		writeWait:    10 * time.Second,
		logger:       utils.GetLogger().With(map[string]interface{}{"component": "websocket"}),
		clients:      make(map[*progressClient]bool),
	}
}

// Serve upgrades the request and streams events until the client leaves.
// The optional chapter query parameter narrows the stream to one chapter.
func (h *ProgressHub) Serve(c *gin.Context) {
	chapter := 0
	if v := c.Query("chapter"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			NewResponseHelper().BadRequest(c, "chapter must be a positive integer")
			return
		}
		chapter = n
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &progressClient{
		conn:      conn,
		chapter:   chapter,
		send:      make(chan WebSocketMessage, 16),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	h.register(client)
	defer h.unregister(client)

	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go h.readLoop(client, done)

	client.queue(WebSocketMessage{Type: "connected", Chapter: chapter, Timestamp: time.Now()})
	h.writeLoop(client, events, done)
}

func (h *ProgressHub) register(client *progressClient) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("progress subscriber connected", map[string]interface{}{"chapter": client.chapter, "clients": total})
}

func (h *ProgressHub) unregister(client *progressClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.Close()
}

// readLoop keeps the read deadline alive and answers client pings. It closes
// done when the connection ends.
func (h *ProgressHub) readLoop(client *progressClient, done chan<- struct{}) {
	defer close(done)

	client.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			client.queue(WebSocketMessage{Type: "error", Error: "invalid message", Timestamp: time.Now()})
			continue
		}
		switch msg.Type {
		case "ping":
			client.queue(WebSocketMessage{Type: "pong", Timestamp: time.Now()})
		default:
			client.queue(WebSocketMessage{Type: "error", Error: "unknown message type " + msg.Type, Timestamp: time.Now()})
		}
	}
}

// writeLoop is the only writer of the connection.
func (h *ProgressHub) writeLoop(client *progressClient, events <-chan models.ProgressEvent, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	write := func(msg WebSocketMessage) bool {
		client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		return client.conn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-done:
			return
		case msg := <-client.send:
			if !write(msg) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if client.chapter != 0 && ev.ChapterIndex != client.chapter {
				continue
			}
			if !write(WebSocketMessage{Type: "progress", Chapter: ev.ChapterIndex, Event: &ev, Timestamp: time.Now()}) {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Status reports the connected subscribers.
func (h *ProgressHub) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]map[string]interface{}, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, map[string]interface{}{
			"chapter":      client.chapter,
			"connected_at": client.createdAt.Format(time.RFC3339),
			"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
		})
	}
	return map[string]interface{}{
		"total_connections": len(h.clients),
		"clients":           clients,
	}
}
