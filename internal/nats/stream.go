package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const (
	// StreamName is the name of the inbox events stream.
	StreamName = "INBOX"

	// SubjectPrefix is the prefix for all inbox subjects.
	SubjectPrefix = "inbox"
)

// StreamManager publishes inbox events to JetStream and follows them for
// live views.
type StreamManager struct {
	js     jetstream.JetStream
	logger *logger.Logger
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream(), logger: client.logger}
}

// EnsureStream creates the inbox stream if it does not exist. Events are
// transient notifications; the database stays the record of truth.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  10 * time.Minute,
		Description: "Inbox message and delivery events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// token makes an id safe to use as a single subject token.
func token(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

// EventSubject returns the subject of an event.
func EventSubject(event *model.InboxEvent) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, token(event.TenantID), token(event.ConversationID), event.Type)
}

// ConversationFilter returns the filter subject for all events of a
// conversation.
func ConversationFilter(tenantID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(tenantID), token(conversationID))
}

// TenantFilter returns the filter subject for all events of a tenant.
func TenantFilter(tenantID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, token(tenantID))
}

// PublishEvent publishes an event. The event id is sent as the JetStream
// message id so a retried publish is stored once.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.InboxEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.js.Publish(ctx, EventSubject(event), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscription delivers live events until Stop is called.
type Subscription struct {
	Events <-chan *model.InboxEvent
	stop   func()
}

// Stop ends the subscription.
func (s *Subscription) Stop() { s.stop() }

// Subscribe follows new events matching filter with an ordered consumer.
// Events are dropped when the receiver falls behind.
func (m *StreamManager) Subscribe(ctx context.Context, filter string) (*Subscription, error) {
	consumer, err := m.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	events := make(chan *model.InboxEvent, 64)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := decodeEvent(msg)
		if err != nil {
			m.logger.Warn("skipping malformed event", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		select {
		case events <- event:
		default:
			m.logger.Warn("subscriber behind, dropping event", zap.String("subject", msg.Subject()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return &Subscription{Events: events, stop: cc.Stop}, nil
}

// SubscribeConversation follows the live events of one conversation.
func (m *StreamManager) SubscribeConversation(ctx context.Context, tenantID, conversationID string) (<-chan *model.InboxEvent, func(), error) {
	sub, err := m.Subscribe(ctx, ConversationFilter(tenantID, conversationID))
	if err != nil {
		return nil, nil, err
	}
	return sub.Events, sub.Stop, nil
}

func decodeEvent(msg jetstream.Msg) (*model.InboxEvent, error) {
	var event model.InboxEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return nil, err
	}
	if meta, err := msg.Metadata(); err == nil {
		event.Sequence = meta.Sequence.Stream
	}
	return &event, nil
}
