package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"mobile-chat/backend/conversation/models"
	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/shared/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// HubConfig configures the relay hub
type HubConfig struct {
	// RateLimit is the sustained events per second accepted from one client
	RateLimit      float64
	RateLimitBurst int
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
}

// Client is one participant connection registered with the relay
type Client struct {
	ID             string
	ConversationID string
	ParticipantID  string
	Conn           *websocket.Conn
	Send           chan []byte
	Hub            *Hub

	limiter *rate.Limiter
	log     *logger.Logger
	// removed is set under Hub.mu once Send has been closed
	removed bool
}

type routedMessage struct {
	conversationID string
	receiverID     string
	data           []byte
}

// Hub relays message events between the participants of a conversation.
// It stores nothing: a message reaches whoever is connected when it arrives.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
	metrics  *observability.Metrics

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	route      chan routedMessage
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a relay hub. Call Run to start routing.
func NewHub(cfg HubConfig, log *logger.Logger, metrics *observability.Metrics) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = maxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = float64(rate.Inf)
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	h := &Hub{
		cfg:        cfg,
		log:        log.WithComponent("relay"),
		metrics:    metrics,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		route:      make(chan routedMessage),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Run routes events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			h.remove(client)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RelayClientConnected(ctx, 1)
			client.log.Info("Client registered", "client_id", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.metrics.RelayClientConnected(ctx, -1)
				client.log.Info("Client unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()

		case msg := <-h.route:
			h.mu.Lock()
			for client := range h.clients {
				if client.ConversationID != msg.conversationID && client.ParticipantID != msg.receiverID {
					continue
				}
				select {
				case client.Send <- msg.data:
				default:
					h.remove(client)
					h.metrics.RelayClientConnected(ctx, -1)
					client.log.Warn("Client removed due to blocked channel", "client_id", client.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	client.removed = true
}

// ActiveConnections returns the number of registered clients
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades GET /ws?conversationId=&participantId= to a relay connection
func (h *Hub) ServeWs(c *gin.Context) {
	conversationID := c.Query("conversationId")
	participantID := c.Query("participantId")
	if conversationID == "" || participantID == "" {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidArgument,
			"conversationId and participantId are required"))
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		h.log.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := &Client{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		ParticipantID:  participantID,
		Conn:           conn,
		Send:           make(chan []byte, h.cfg.SendBuffer),
		Hub:            h,
		limiter:        rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateLimitBurst),
		log:            h.log.WithConversationID(conversationID).WithParticipantID(participantID),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump pumps events from the websocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("Read failed", "error", err.Error())
			}
			return
		}

		if !c.limiter.Allow() {
			c.reject("rate_limited", "too many events")
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reject("undecodable", "event is not valid JSON")
			continue
		}

		if stop := c.handleEvent(env); stop {
			return
		}
	}
}

// handleEvent processes one client event. It reports whether the connection should end.
func (c *Client) handleEvent(env models.Envelope) bool {
	switch env.Type {
	case models.EventInit:
		var p models.PresencePayload
		if err := json.Unmarshal(env.Content, &p); err != nil || p.SenderID != c.ParticipantID {
			c.reject("bad_init", "init senderId does not match the connection")
			return false
		}
		c.log.Debug("Participant joined")

	case models.EventMessage:
		var msg models.OutboundMessage
		if err := json.Unmarshal(env.Content, &msg); err != nil {
			c.reject("undecodable", "message content is not valid JSON")
			return false
		}
		if msg.ConversationID != c.ConversationID || msg.SenderID != c.ParticipantID {
			c.reject("foreign_message", "message does not belong to this connection")
			return false
		}
		out, err := models.NewEnvelope(models.EventMessage, msg.Inbound())
		if err != nil {
			c.log.LogError(err, "Failed to build relay envelope")
			return false
		}
		data, err := json.Marshal(out)
		if err != nil {
			c.log.LogError(err, "Failed to encode relay envelope")
			return false
		}
		select {
		case c.Hub.route <- routedMessage{conversationID: msg.ConversationID, receiverID: msg.ReceiverID, data: data}:
		case <-c.Hub.done:
			return true
		}

	case models.EventDisconnect:
		c.log.Debug("Participant left")
		return true

	default:
		c.reject("unknown_event", "unknown event type "+env.Type)
	}
	return false
}

func (c *Client) reject(reason, message string) {
	c.Hub.metrics.RelayEventRejected(context.Background(), reason)
	c.log.Warn("Rejected client event", "reason", reason)

	env, err := models.NewEnvelope(models.EventError, models.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if c.removed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// WritePump pumps messages from the hub to the websocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
