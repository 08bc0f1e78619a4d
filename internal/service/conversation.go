package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const maxTags = 20

// ConversationService handles conversation operations.
type ConversationService struct {
	store  ConversationStore
	clock  Clock
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store ConversationStore, clock Clock, log *logger.Logger) *ConversationService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ConversationService{store: store, clock: clock, logger: log.Named("conversations")}
}

// ListOpen lists active conversations, most recent first.
func (s *ConversationService) ListOpen(ctx context.Context, tenantID string) (*model.ListConversationsResponse, error) {
	return s.list(ctx, tenantID, model.ConversationOpen)
}

// ListArchived lists archived and resolved conversations, most recent first.
func (s *ConversationService) ListArchived(ctx context.Context, tenantID string) (*model.ListConversationsResponse, error) {
	return s.list(ctx, tenantID, model.ConversationArchived)
}

func (s *ConversationService) list(ctx context.Context, tenantID string, status model.ConversationStatus) (*model.ListConversationsResponse, error) {
	convs, err := s.store.ListConversations(ctx, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return &model.ListConversationsResponse{Conversations: convs, Total: len(convs)}, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// Archive closes a conversation. The next inbound message from the customer
// opens a new one.
func (s *ConversationService) Archive(ctx context.Context, tenantID, conversationID string, kind model.ArchiveType) (*model.Conversation, error) {
	if kind == "" {
		kind = model.ArchiveTypeArchived
	}
	if !kind.Valid() {
		return nil, invalidInput("unknown archive type %q", kind)
	}
	if err := s.store.ArchiveConversation(ctx, tenantID, conversationID, kind, s.clock.Now()); err != nil {
		return nil, err
	}
	s.logger.Info("conversation archived",
		zap.String("tenant_id", tenantID),
		zap.String("conversation_id", conversationID),
		zap.String("type", string(kind)),
	)
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// Reopen returns an archived conversation to the inbox. It fails with
// ErrConflict when the customer already has another active conversation.
func (s *ConversationService) Reopen(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	if err := s.store.ReopenConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// MarkRead clears the unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, tenantID, conversationID string) error {
	return s.store.MarkRead(ctx, tenantID, conversationID)
}

// UpdateNotes replaces the internal notes of a conversation.
func (s *ConversationService) UpdateNotes(ctx context.Context, tenantID, conversationID, notes string) error {
	return s.store.UpdateNotes(ctx, tenantID, conversationID, notes)
}

// UpdateTags replaces the tags of a conversation. Tags are trimmed,
// lowercased and deduplicated.
func (s *ConversationService) UpdateTags(ctx context.Context, tenantID, conversationID string, tags []string) error {
	clean := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		clean = append(clean, tag)
	}
	if len(clean) > maxTags {
		return invalidInput("at most %d tags allowed", maxTags)
	}
	return s.store.UpdateTags(ctx, tenantID, conversationID, clean)
}

// Update applies the fields set in req.
func (s *ConversationService) Update(ctx context.Context, tenantID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	if req.Notes != nil {
		if err := s.UpdateNotes(ctx, tenantID, conversationID, *req.Notes); err != nil {
			return nil, err
		}
	}
	if req.Tags != nil {
		if err := s.UpdateTags(ctx, tenantID, conversationID, req.Tags); err != nil {
			return nil, err
		}
	}
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, tenantID, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, tenantID, conversationID); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", zap.String("tenant_id", tenantID), zap.String("conversation_id", conversationID))
	return nil
}
