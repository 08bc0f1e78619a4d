package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/llm"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

const (
	suggestionHistory   = 20
	suggestionMaxTokens = 400
	suggestionPrompt    = "You draft replies for a business answering customer messages. " +
		"Reply to the customer's latest message in the same language, politely and concisely. " +
		"Return only the reply text."
)

// SuggestionService drafts replies with an LLM. Each suggestion consumes
// one unit of the tenant's daily AI quota.
type SuggestionService struct {
	conversations ConversationStore
	messages      MessageStore
	usage         *UsageMeter
	client        llm.Client
	logger        *logger.Logger
}

// NewSuggestionService creates a suggestion service. A nil client disables
// suggestions.
func NewSuggestionService(
	conversations ConversationStore,
	messages MessageStore,
	usage *UsageMeter,
	client llm.Client,
	log *logger.Logger,
) *SuggestionService {
	return &SuggestionService{
		conversations: conversations,
		messages:      messages,
		usage:         usage,
		client:        client,
		logger:        log.Named("suggestions"),
	}
}

// Suggest drafts a reply for a conversation.
func (s *SuggestionService) Suggest(ctx context.Context, tenantID, conversationID string) (resp *model.SuggestionResponse, err error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: no llm provider configured", ErrUnavailable)
	}
	if _, err := s.conversations.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}

	status, err := s.usage.Reserve(ctx, tenantID, model.ResourceAISuggestion)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := s.usage.Release(context.WithoutCancel(ctx), tenantID, model.ResourceAISuggestion); rerr != nil {
			s.logger.Error("failed to release suggestion quota", zap.String("tenant_id", tenantID), zap.Error(rerr))
		}
	}()

	history, err := s.messages.ListMessages(ctx, tenantID, conversationID, suggestionHistory)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return nil, invalidInput("conversation has no messages")
	}

	start := time.Now()
	out, err := s.client.Complete(ctx, &llm.CompletionRequest{
		System:      suggestionPrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: transcript(history)}},
		MaxTokens:   suggestionMaxTokens,
		Temperature: 0.4,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordSuggestion(s.client.Name(), "error", elapsed)
		return nil, fmt.Errorf("generate suggestion: %w", err)
	}
	metrics.RecordSuggestion(s.client.Name(), "success", elapsed)

	return &model.SuggestionResponse{
		Suggestion: strings.TrimSpace(out.Content),
		Provider:   s.client.Name(),
		Usage:      status,
	}, nil
}

func transcript(history []model.Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.SenderType {
		case model.SenderCustomer:
			b.WriteString("Customer: ")
		default:
			b.WriteString("Business: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
