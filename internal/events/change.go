package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangeType is the row operation behind a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Tables that produce change notifications.
const (
	TableTickets        = "tickets"
	TableTicketMessages = "ticket_messages"
)

// ChangeEvent says a row changed. It is a reason to reload, never the
// data itself.
type ChangeEvent struct {
	Table    string     `json:"table"`
	Type     ChangeType `json:"type"`
	RowID    string     `json:"id"`
	TicketID string     `json:"ticket_id,omitempty"`
	// AuthorType is set for ticket_messages rows.
	AuthorType string `json:"author_type,omitempty"`
}

// Validate checks the event is actionable.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return fmt.Errorf("unknown change type %q", e.Type)
	}
	switch e.Table {
	case TableTickets, TableTicketMessages:
	default:
		return fmt.Errorf("unknown table %q", e.Table)
	}
	if e.RowID == "" {
		return errors.New("row id required")
	}
	return nil
}

// ParseChangeEvent decodes a JSON change notification. The type is
// upper-cased so producers may send "update".
func ParseChangeEvent(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	ev.Type = ChangeType(strings.ToUpper(string(ev.Type)))
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

// ChangeHandler reacts to a change notification.
type ChangeHandler func(context.Context, ChangeEvent)

// Channel states reported on the heartbeat.
const (
	ChannelConnecting = "connecting"
	ChannelSubscribed = "subscribed"
	ChannelClosed     = "closed"
)

// RedisChangeSource consumes change notifications from a Redis pub/sub
// channel and resubscribes after connection loss.
type RedisChangeSource struct {
	client     *redis.Client
	channel    string
	logger     *zap.Logger
	backoff    time.Duration
	reconnects atomic.Int64

	mu     sync.RWMutex
	status string
}

// NewRedisChangeSource creates a source for channel.
func NewRedisChangeSource(client *redis.Client, channel string, logger *zap.Logger) *RedisChangeSource {
	return &RedisChangeSource{
		client:  client,
		channel: channel,
		logger:  logger.Named("change_source"),
		backoff: 2 * time.Second,
		status:  ChannelClosed,
	}
}

// Status returns the current channel state.
func (s *RedisChangeSource) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reconnects returns how often the subscription was re-established.
func (s *RedisChangeSource) Reconnects() int64 {
	return s.reconnects.Load()
}

func (s *RedisChangeSource) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Run delivers events to handle until ctx is cancelled.
func (s *RedisChangeSource) Run(ctx context.Context, handle ChangeHandler) error {
	defer s.setStatus(ChannelClosed)
	first := true
	for {
		if !first {
			s.reconnects.Add(1)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
		}
		first = false

		err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("change subscription lost; resubscribing",
			zap.String("channel", s.channel),
			zap.Int64("reconnects", s.reconnects.Load()+1),
			zap.Error(err))
	}
}

func (s *RedisChangeSource) consume(ctx context.Context, handle ChangeHandler) error {
	s.setStatus(ChannelConnecting)
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.setStatus(ChannelSubscribed)
	s.logger.Info("subscribed to change notifications", zap.String("channel", s.channel))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		ev, err := ParseChangeEvent([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn("ignoring malformed change notification", zap.Error(err))
			continue
		}
		handle(ctx, ev)
	}
}
