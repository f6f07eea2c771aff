package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/transport"
	"mobile-chat/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 256
)

var (
	// ErrClosed is returned when emitting on a closed connection
	ErrClosed = errors.New("ws: connection closed")
	// ErrSendBufferFull is returned when the outbound queue is saturated
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// DialerConfig configures the websocket client transport
type DialerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	SendBuffer       int
}

// Dialer opens websocket connections to the relay
type Dialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
	log    *logger.Logger
}

// NewDialer creates a websocket Dialer
func NewDialer(cfg DialerConfig, log *logger.Logger) *Dialer {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
		},
		log: log.WithComponent("ws-client"),
	}
}

// Dial implements transport.Dialer
func (d *Dialer) Dial(ctx context.Context, conversationID, participantID string) (transport.Conn, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("conversationId", conversationID)
	q.Set("participantId", participantID)
	u.RawQuery = q.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	c := &clientConn{
		conn:   conn,
		send:   make(chan []byte, d.cfg.SendBuffer),
		events: make(chan models.Envelope, d.cfg.SendBuffer),
		closed: make(chan struct{}),
		log:    d.log.WithConversationID(conversationID).WithParticipantID(participantID),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

type clientConn struct {
	conn      *websocket.Conn
	send      chan []byte
	events    chan models.Envelope
	closed    chan struct{}
	closeOnce sync.Once
	log       *logger.Logger
}

// Emit implements transport.Conn
func (c *clientConn) Emit(_ context.Context, event string, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Events implements transport.Conn
func (c *clientConn) Events() <-chan models.Envelope {
	return c.events
}

// Close implements transport.Conn. Events already queued are flushed first.
func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *clientConn) readPump() {
	defer func() {
		close(c.events)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Relay connection lost", "error", err.Error())
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("Discarding undecodable frame", "error", err.Error())
			continue
		}

		select {
		case c.events <- env:
		case <-c.closed:
			return
		}
	}
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Warn("Write to relay failed", "error", err.Error())
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.closed:
			// Flush whatever was queued before Close, e.g. the disconnect event.
			for n := len(c.send); n > 0; n-- {
				if err := c.write(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *clientConn) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
