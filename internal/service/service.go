// Package service provides the business logic of the unified inbox.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/capitalize-ai/unified-inbox/internal/service")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// CredentialStore persists platform credentials.
type CredentialStore interface {
	GetActiveCredential(ctx context.Context, tenantID string, platform model.Channel) (*model.Credential, error)
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt *time.Time, meta model.CredentialMetadata) error
	MoveCredentialAccount(ctx context.Context, id, accountID string) error
}

// TenantStore persists tenant usage counters.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	CreateTenant(ctx context.Context, t *model.Tenant) error
	ResetUsage(ctx context.Context, tenantID string, r model.Resource, next time.Time) (bool, error)
	IncrementUsage(ctx context.Context, tenantID string, r model.Resource, limit int64) (bool, error)
	DecrementUsage(ctx context.Context, tenantID string, r model.Resource) error
}

// ConversationStore persists conversations.
type ConversationStore interface {
	FindActiveConversation(ctx context.Context, tenantID string, channel model.Channel, identity string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, c *model.Conversation) (bool, error)
	GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, tenantID string, status model.ConversationStatus) ([]model.Conversation, error)
	TouchInbound(ctx context.Context, id string, at time.Time, customerName string) error
	TouchOutbound(ctx context.Context, id string, at time.Time) error
	ArchiveConversation(ctx context.Context, tenantID, id string, kind model.ArchiveType, at time.Time) error
	ReopenConversation(ctx context.Context, tenantID, id string) error
	MarkRead(ctx context.Context, tenantID, id string) error
	UpdateNotes(ctx context.Context, tenantID, id, notes string) error
	UpdateTags(ctx context.Context, tenantID, id string, tags []string) error
	DeleteConversation(ctx context.Context, tenantID, id string) error
}

// MessageStore persists messages and their delivery state.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.Message) (bool, error)
	FindMessageByExternalID(ctx context.Context, tenantID string, channel model.Channel, externalID string) (*model.Message, error)
	GetMessage(ctx context.Context, tenantID, id string) (*model.Message, error)
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]model.Message, error)
	MarkMessageSent(ctx context.Context, id string, at time.Time, externalID string) error
	MarkMessageFailed(ctx context.Context, id, reason string, at time.Time) error
	MarkMessageSending(ctx context.Context, id string) error
}

// EventPublisher broadcasts inbox events. Publishing is best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.InboxEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, *model.InboxEvent) error { return nil }

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func newEvent(typ model.EventType, tenantID, conversationID string, msg *model.Message, at time.Time) *model.InboxEvent {
	return &model.InboxEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           typ,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Message:        msg,
		CreatedAt:      at,
	}
}
