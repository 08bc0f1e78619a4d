package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

const (
	emailPlaceholder   = "(no subject)"
	unsupportedContent = "[unsupported message]"
)

// IngestionRouter routes inbound customer messages into conversations.
type IngestionRouter struct {
	conversations ConversationStore
	messages      MessageStore
	usage         *UsageMeter
	events        EventPublisher
	clock         Clock
	logger        *logger.Logger
}

// NewIngestionRouter creates an ingestion router.
func NewIngestionRouter(
	conversations ConversationStore,
	messages MessageStore,
	usage *UsageMeter,
	events EventPublisher,
	clock Clock,
	log *logger.Logger,
) *IngestionRouter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &IngestionRouter{
		conversations: conversations,
		messages:      messages,
		usage:         usage,
		events:        publisherOrNop(events),
		clock:         clock,
		logger:        log.Named("ingest"),
	}
}

// NormalizeIdentity canonicalizes a customer identity so that the same
// customer always maps to the same conversation key.
func NormalizeIdentity(ch model.Channel, identity string) string {
	identity = strings.TrimSpace(identity)
	if ch == model.ChannelEmail {
		return strings.ToLower(identity)
	}
	return identity
}

// Ingest stores an inbound message in the active conversation of the
// customer, opening a new conversation when none exists. Opening consumes
// one unit of the tenant's conversation quota.
func (r *IngestionRouter) Ingest(ctx context.Context, in model.InboundMessage) (*model.IngestResult, error) {
	in.CustomerIdentity = NormalizeIdentity(in.Channel, in.CustomerIdentity)
	switch {
	case in.TenantID == "":
		return nil, invalidInput("tenant is required")
	case !in.Channel.Valid():
		return nil, invalidInput("unsupported channel %q", in.Channel)
	case in.CustomerIdentity == "":
		return nil, invalidInput("customer identity is required")
	}

	ctx, span := tracer.Start(ctx, "inbox.ingest", trace.WithAttributes(
		attribute.String("tenant_id", in.TenantID),
		attribute.String("channel", string(in.Channel)),
	))
	defer span.End()

	if in.ExternalMessageID != "" {
		prior, err := r.messages.FindMessageByExternalID(ctx, in.TenantID, in.Channel, in.ExternalMessageID)
		if err == nil {
			return r.duplicate(prior), nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
	}

	conv, err := r.conversations.FindActiveConversation(ctx, in.TenantID, in.Channel, in.CustomerIdentity)
	switch {
	case err == nil:
		return r.append(ctx, conv, in, false)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return r.open(ctx, in)
}

func (r *IngestionRouter) open(ctx context.Context, in model.InboundMessage) (*model.IngestResult, error) {
	if _, err := r.usage.Reserve(ctx, in.TenantID, model.ResourceConversation); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.RecordInbound(string(in.Channel), "quota_exceeded")
		}
		return nil, err
	}

	now := r.clock.Now()
	conv := &model.Conversation{
		ID:               uuid.Must(uuid.NewV7()).String(),
		TenantID:         in.TenantID,
		Channel:          in.Channel,
		CustomerIdentity: in.CustomerIdentity,
		CustomerName:     strings.TrimSpace(in.CustomerName),
		Status:           model.ConversationOpen,
		UnreadCount:      1,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Channel == model.ChannelEmail {
		conv.Subject = strings.TrimSpace(in.Subject)
	}

	created, err := r.conversations.CreateConversation(ctx, conv)
	if err != nil || !created {
		r.release(ctx, in.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if !created {
		// A concurrent delivery opened the conversation first.
		existing, err := r.conversations.FindActiveConversation(ctx, in.TenantID, in.Channel, in.CustomerIdentity)
		if err != nil {
			return nil, fmt.Errorf("find conversation: %w", err)
		}
		return r.append(ctx, existing, in, false)
	}

	r.logger.Info("conversation opened",
		zap.String("tenant_id", conv.TenantID),
		zap.String("conversation_id", conv.ID),
		zap.String("channel", string(conv.Channel)),
	)
	r.publish(ctx, model.EventConversationOpen, conv, nil)
	return r.append(ctx, conv, in, true)
}

// append stores the message first so that a redelivered message never
// touches the conversation twice.
func (r *IngestionRouter) append(ctx context.Context, conv *model.Conversation, in model.InboundMessage, created bool) (*model.IngestResult, error) {
	now := r.clock.Now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Channel:        conv.Channel,
		SenderType:     model.SenderCustomer,
		Content:        inboundContent(in),
		ExternalID:     in.ExternalMessageID,
		Metadata:       inboundMetadata(in),
		CreatedAt:      now,
	}

	inserted, err := r.messages.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		prior, err := r.messages.FindMessageByExternalID(ctx, in.TenantID, in.Channel, in.ExternalMessageID)
		if err != nil {
			return nil, fmt.Errorf("find duplicate: %w", err)
		}
		return r.duplicate(prior), nil
	}

	if !created {
		name := strings.TrimSpace(in.CustomerName)
		if name == conv.CustomerName {
			name = ""
		}
		if err := r.conversations.TouchInbound(ctx, conv.ID, now, name); err != nil {
			return nil, fmt.Errorf("touch conversation: %w", err)
		}
	}

	result := "appended"
	if created {
		result = "created"
	}
	metrics.RecordInbound(string(conv.Channel), result)
	r.publish(ctx, model.EventMessageReceived, conv, msg)

	return &model.IngestResult{
		ConversationID:      conv.ID,
		MessageID:           msg.ID,
		ConversationCreated: created,
	}, nil
}

// inboundMetadata keeps the provider's send time as metadata. Stored
// timestamps follow processing order so replies and inbound messages
// interleave correctly.
func inboundMetadata(in model.InboundMessage) map[string]any {
	if in.ReceivedAt.IsZero() {
		return in.Metadata
	}
	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["sent_at"] = in.ReceivedAt.UTC().Format(time.RFC3339Nano)
	return meta
}

func (r *IngestionRouter) duplicate(prior *model.Message) *model.IngestResult {
	metrics.RecordInbound(string(prior.Channel), "duplicate")
	return &model.IngestResult{
		ConversationID: prior.ConversationID,
		MessageID:      prior.ID,
		Duplicate:      true,
	}
}

func (r *IngestionRouter) release(ctx context.Context, tenantID string) {
	if err := r.usage.Release(context.WithoutCancel(ctx), tenantID, model.ResourceConversation); err != nil {
		r.logger.Error("failed to release conversation quota", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (r *IngestionRouter) publish(ctx context.Context, typ model.EventType, conv *model.Conversation, msg *model.Message) {
	event := newEvent(typ, conv.TenantID, conv.ID, msg, r.clock.Now())
	if err := r.events.PublishEvent(ctx, event); err != nil {
		r.logger.Warn("failed to publish event",
			zap.String("type", string(typ)),
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

func inboundContent(in model.InboundMessage) string {
	if content := strings.TrimSpace(in.Content); content != "" {
		return content
	}
	if in.Channel == model.ChannelEmail {
		if subject := strings.TrimSpace(in.Subject); subject != "" {
			return subject
		}
		return emailPlaceholder
	}
	return unsupportedContent
}
