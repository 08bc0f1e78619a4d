package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

// MessageDispatcher delivers outbound messages through the platform of their
// conversation and records the outcome.
type MessageDispatcher struct {
	conversations ConversationStore
	messages      MessageStore
	credentials   CredentialStore
	tokens        *TokenManager
	providers     *platform.Registry
	events        EventPublisher
	clock         Clock
	logger        *logger.Logger
}

// NewMessageDispatcher creates a dispatcher.
func NewMessageDispatcher(
	conversations ConversationStore,
	messages MessageStore,
	credentials CredentialStore,
	tokens *TokenManager,
	providers *platform.Registry,
	events EventPublisher,
	clock Clock,
	log *logger.Logger,
) *MessageDispatcher {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MessageDispatcher{
		conversations: conversations,
		messages:      messages,
		credentials:   credentials,
		tokens:        tokens,
		providers:     providers,
		events:        publisherOrNop(events),
		clock:         clock,
		logger:        log.Named("dispatch"),
	}
}

// Send delivers a message that is waiting in the sending state. The message
// is returned with its final delivery state even when delivery fails.
func (d *MessageDispatcher) Send(ctx context.Context, tenantID, messageID string) (*model.Message, error) {
	ctx = context.WithoutCancel(ctx)
	msg, err := d.messages.GetMessage(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Outbound() {
		return msg, invalidInput("message %s is not outbound", messageID)
	}
	if msg.DeliveryStatus != model.DeliverySending {
		return msg, fmt.Errorf("%w: message %s is %s", ErrConflict, messageID, msg.DeliveryStatus)
	}
	return d.deliver(ctx, msg)
}

// Retry moves a failed message back to sending and delivers it again. Only
// the latest failure is kept on the message.
func (d *MessageDispatcher) Retry(ctx context.Context, tenantID, messageID string) (*model.Message, error) {
	ctx = context.WithoutCancel(ctx)
	msg, err := d.messages.GetMessage(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Outbound() || msg.DeliveryStatus != model.DeliveryFailed {
		return msg, ErrNotRetryable
	}
	if err := d.messages.MarkMessageSending(ctx, msg.ID); err != nil {
		if errors.Is(err, ErrConflict) {
			return msg, ErrNotRetryable
		}
		return msg, err
	}
	msg.DeliveryStatus = model.DeliverySending

	d.logger.Info("retrying message",
		zap.String("tenant_id", tenantID),
		zap.String("message_id", msg.ID),
		zap.String("previous_error", msg.Error),
	)
	return d.deliver(ctx, msg)
}

func (d *MessageDispatcher) deliver(ctx context.Context, msg *model.Message) (*model.Message, error) {
	ctx, span := tracer.Start(ctx, "inbox.dispatch", trace.WithAttributes(
		attribute.String("tenant_id", msg.TenantID),
		attribute.String("message_id", msg.ID),
		attribute.String("channel", string(msg.Channel)),
	))
	defer span.End()

	conv, err := d.conversations.GetConversation(ctx, msg.TenantID, msg.ConversationID)
	if err != nil {
		return msg, fmt.Errorf("load conversation: %w", err)
	}

	cred, err := d.credentials.GetActiveCredential(ctx, msg.TenantID, conv.Channel)
	if errors.Is(err, ErrNotFound) {
		return d.fail(ctx, span, msg, &ReconnectRequiredError{Platform: conv.Channel, Cause: ErrNotConnected})
	}
	if err != nil {
		return msg, fmt.Errorf("load credential: %w", err)
	}

	token, err := d.tokens.EnsureValid(ctx, cred)
	if err != nil {
		return d.fail(ctx, span, msg, err)
	}

	provider, err := d.providers.Provider(conv.Channel)
	if err != nil {
		return d.fail(ctx, span, msg, err)
	}
	res, err := provider.Send(ctx, platform.SendRequest{
		AccessToken: token,
		AccountID:   cred.ExternalAccountID,
		Recipient:   conv.CustomerIdentity,
		Text:        msg.Content,
		Subject:     replySubject(conv),
	})
	if err != nil {
		return d.fail(ctx, span, msg, err)
	}

	now := d.clock.Now()
	if err := d.messages.MarkMessageSent(ctx, msg.ID, now, res.ExternalID); err != nil {
		return msg, fmt.Errorf("mark sent: %w", err)
	}
	msg.DeliveryStatus = model.DeliverySent
	msg.SentAt = &now
	msg.FailedAt = nil
	msg.Error = ""
	msg.ExternalID = res.ExternalID

	metrics.RecordOutbound(string(conv.Channel), string(model.DeliverySent))
	d.publish(ctx, msg)
	return msg, nil
}

// fail records a delivery failure. Reconnect errors are returned as is and
// everything else is reported as a *SendFailedError.
func (d *MessageDispatcher) fail(ctx context.Context, span trace.Span, msg *model.Message, cause error) (*model.Message, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "delivery failed")

	reason := cause.Error()
	now := d.clock.Now()
	if err := d.messages.MarkMessageFailed(ctx, msg.ID, reason, now); err != nil {
		d.logger.Error("failed to record delivery failure", zap.String("message_id", msg.ID), zap.Error(err))
	}
	msg.DeliveryStatus = model.DeliveryFailed
	msg.Error = reason
	msg.FailedAt = &now

	d.logger.Warn("message delivery failed",
		zap.String("tenant_id", msg.TenantID),
		zap.String("message_id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.Error(cause),
	)
	metrics.RecordOutbound(string(msg.Channel), string(model.DeliveryFailed))
	d.publish(ctx, msg)

	var sendErr *SendFailedError
	if errors.Is(cause, ErrReconnectRequired) || errors.As(cause, &sendErr) {
		return msg, cause
	}
	return msg, &SendFailedError{MessageID: msg.ID, Reason: reason, Cause: cause}
}

func (d *MessageDispatcher) publish(ctx context.Context, msg *model.Message) {
	event := newEvent(model.EventMessageDelivery, msg.TenantID, msg.ConversationID, msg, d.clock.Now())
	if err := d.events.PublishEvent(ctx, event); err != nil {
		d.logger.Warn("failed to publish delivery event", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func replySubject(conv *model.Conversation) string {
	if conv.Channel != model.ChannelEmail || conv.Subject == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(conv.Subject), "re:") {
		return conv.Subject
	}
	return "Re: " + conv.Subject
}
