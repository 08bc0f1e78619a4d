package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxContentLength    = 4000
)

// MessageService handles message operations.
type MessageService struct {
	conversations ConversationStore
	messages      MessageStore
	dispatcher    *MessageDispatcher
	clock         Clock
	logger        *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	conversations ConversationStore,
	messages MessageStore,
	dispatcher *MessageDispatcher,
	clock Clock,
	log *logger.Logger,
) *MessageService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
		clock:         clock,
		logger:        log.Named("messages"),
	}
}

// List returns the most recent messages of a conversation in chronological
// order.
func (s *MessageService) List(ctx context.Context, tenantID, conversationID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	if _, err := s.conversations.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListMessages(ctx, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return &model.ListMessagesResponse{Messages: messages}, nil
}

// Reply stores an outbound message, marks the conversation read and
// delivers the message. The stored message is returned even when delivery
// fails.
func (s *MessageService) Reply(ctx context.Context, tenantID, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalidInput("content is required")
	}
	if len(content) > maxContentLength {
		return nil, invalidInput("content exceeds %d characters", maxContentLength)
	}
	sender := req.SenderType
	if sender == "" {
		sender = model.SenderBusiness
	}
	if sender != model.SenderBusiness && sender != model.SenderAI {
		return nil, invalidInput("sender type %q cannot reply", sender)
	}

	conv, err := s.conversations.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Active() {
		return nil, fmt.Errorf("%w: conversation is archived", ErrConflict)
	}

	// Delivery completes even if the client goes away.
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       tenantID,
		Channel:        conv.Channel,
		SenderType:     sender,
		Content:        content,
		DeliveryStatus: model.DeliverySending,
		CreatedAt:      now,
	}
	if _, err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}

	sent, sendErr := s.dispatcher.Send(ctx, tenantID, msg.ID)
	// The message is delivered or failed (and retryable) by now, so a failed
	// touch only leaves the conversation unread.
	if err := s.conversations.TouchOutbound(ctx, conv.ID, now); err != nil {
		s.logger.Error("failed to mark conversation read after reply",
			zap.String("tenant_id", tenantID),
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	if sent == nil {
		sent = msg
	}
	return sent, sendErr
}

// Retry redelivers a failed message.
func (s *MessageService) Retry(ctx context.Context, tenantID, messageID string) (*model.Message, error) {
	return s.dispatcher.Retry(ctx, tenantID, messageID)
}
