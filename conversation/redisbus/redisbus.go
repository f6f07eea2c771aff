// Package redisbus carries conversation events over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/transport"
	"mobile-chat/backend/pkg/logger"
	sharedredis "mobile-chat/backend/shared/redis"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "chat"

// ErrClosed is returned when emitting on a closed connection
var ErrClosed = errors.New("redisbus: connection closed")

// ConversationChannel names the channel carrying message events of a conversation
func ConversationChannel(prefix, conversationID string) string {
	return prefix + ":conversation:" + conversationID
}

// PresenceChannel names the channel carrying init and disconnect events
func PresenceChannel(prefix string) string {
	return prefix + ":presence"
}

// Dialer opens pub/sub connections for a conversation
type Dialer struct {
	client *sharedredis.RedisClient
	prefix string
	buffer int
	log    *logger.Logger
}

// NewDialer creates a Dialer publishing under prefix
func NewDialer(client *sharedredis.RedisClient, prefix string, log *logger.Logger) *Dialer {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Dialer{
		client: client,
		prefix: prefix,
		buffer: 256,
		log:    log.WithComponent("redisbus"),
	}
}

// Dial implements transport.Dialer
func (d *Dialer) Dial(ctx context.Context, conversationID, participantID string) (transport.Conn, error) {
	channel := ConversationChannel(d.prefix, conversationID)
	sub, err := d.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	c := &conn{
		client:   d.client,
		sub:      sub,
		channel:  channel,
		presence: PresenceChannel(d.prefix),
		events:   make(chan models.Envelope, d.buffer),
		closed:   make(chan struct{}),
		log:      d.log.WithConversationID(conversationID).WithParticipantID(participantID),
	}
	go c.pump(sub.Channel())
	return c, nil
}

type conn struct {
	client   *sharedredis.RedisClient
	sub      *redis.PubSub
	channel  string
	presence string
	events   chan models.Envelope

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	log       *logger.Logger
}

// Emit publishes message events on the conversation channel and presence
// events on the presence channel.
func (c *conn) Emit(ctx context.Context, event string, payload any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	channel := c.channel
	if event != models.EventMessage {
		channel = c.presence
	}
	return c.client.Publish(ctx, channel, data)
}

// Events implements transport.Conn
func (c *conn) Events() <-chan models.Envelope {
	return c.events
}

// Close unsubscribes. It is safe to call more than once.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.sub.Close()
	})
	return c.closeErr
}

func (c *conn) pump(msgs <-chan *redis.Message) {
	defer close(c.events)
	for {
		select {
		case <-c.closed:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				c.log.Warn("Discarding undecodable publish", "channel", m.Channel, "error", err.Error())
				continue
			}
			select {
			case c.events <- env:
			case <-c.closed:
				return
			}
		}
	}
}
