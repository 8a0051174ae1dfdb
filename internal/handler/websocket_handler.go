package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Baaaki/heartscan/internal/broker"
	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxSessionLifetime = 15 * time.Minute
	writeWait          = 10 * time.Second // Time allowed to write a message to the peer
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4 * 1024 // clients only send control frames
	sendBuffer         = 16
)

// WSEvent is what a feed subscriber receives.
type WSEvent struct {
	Type         string    `json:"type"` // "prediction.created", "session_expired"
	PredictionID string    `json:"prediction_id,omitempty"`
	Result       string    `json:"result,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type Client struct {
	conn        *websocket.Conn
	userID      uuid.UUID
	send        chan WSEvent
	connectedAt time.Time
}

// WebSocketHandler pushes prediction events to the users they belong to.
// One broker subscription is shared by all connections on this node.
type WebSocketHandler struct {
	events   broker.EventBroker
	upgrader websocket.Upgrader
	clients  map[*Client]struct{}
	mu       sync.RWMutex
}

func NewWebSocketHandler(events broker.EventBroker, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		events:  events,
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(allowedOrigins),
	}
	return h
}

// Start subscribes to the broker and dispatches events in the background
// until ctx is cancelled.
func (h *WebSocketHandler) Start(ctx context.Context) error {
	events, err := h.events.Subscribe(ctx)
	if err != nil {
		return err
	}

	go func() {
		logger.Log.Info("Prediction feed listener started")
		for event := range events {
			h.dispatch(event)
		}
		logger.Log.Info("Prediction feed listener stopped")
	}()
	return nil
}

func (h *WebSocketHandler) dispatch(event broker.PredictionEvent) {
	msg := WSEvent{
		Type:         event.Type,
		PredictionID: event.PredictionID,
		Result:       event.Result,
		Confidence:   event.Confidence,
		CreatedAt:    event.CreatedAt,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.userID.String() != event.UserID {
			continue
		}
		select {
		case client.send <- msg:
		default:
			logger.Log.Warn("Dropping prediction event for slow client",
				zap.String("user_id", event.UserID),
				zap.String("prediction_id", event.PredictionID),
			)
		}
	}
}

// ClientCount reports the number of open feed connections.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an authenticated request to a prediction feed.
// GET /predictions/ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("Failed to upgrade connection",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return
	}

	client := &Client{
		conn:        conn,
		userID:      user.ID,
		send:        make(chan WSEvent, sendBuffer),
		connectedAt: time.Now(),
	}
	h.addClient(client)
	defer h.removeClient(client)

	done := make(chan struct{})
	go h.writePump(client, done)
	h.readPump(client)
	close(done)
}

// readPump only keeps the read deadline alive; the feed is one-way.
func (h *WebSocketHandler) readPump(client *Client) {
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("WebSocket read error",
					zap.String("user_id", client.userID.String()),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (h *WebSocketHandler) writePump(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sessionTimer := time.NewTimer(maxSessionLifetime)
	defer sessionTimer.Stop()

	for {
		select {
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				client.conn.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.conn.Close()
				return
			}

		case <-sessionTimer.C:
			h.closeClientGracefully(client, "session expired after 15 minutes")
			return

		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) closeClientGracefully(client *Client, reason string) {
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = client.conn.WriteJSON(WSEvent{Type: "session_expired", Error: reason})

	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = client.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
	)
	client.conn.Close()
}

func (h *WebSocketHandler) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	logger.Log.Info("Feed client connected",
		zap.String("user_id", client.userID.String()),
		zap.Int("total", count),
	)
}

func (h *WebSocketHandler) removeClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	client.conn.Close()
	logger.Log.Info("Feed client disconnected",
		zap.String("user_id", client.userID.String()),
		zap.Duration("session", time.Since(client.connectedAt).Round(time.Second)),
		zap.Int("remaining", count),
	)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
