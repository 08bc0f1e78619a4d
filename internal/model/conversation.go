package model

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationArchived ConversationStatus = "archived"
)

// ArchiveType distinguishes archived from resolved conversations.
type ArchiveType string

const (
	ArchiveTypeArchived ArchiveType = "archived"
	ArchiveTypeResolved ArchiveType = "resolved"
)

// Valid reports whether a is a known archive type.
func (a ArchiveType) Valid() bool {
	return a == ArchiveTypeArchived || a == ArchiveTypeResolved
}

// Conversation is a thread with one customer on one channel.
type Conversation struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenant_id"`
	Channel          Channel            `json:"channel"`
	CustomerIdentity string             `json:"customer_identity"`
	CustomerName     string             `json:"customer_name,omitempty"`
	Subject          string             `json:"subject,omitempty"`
	Status           ConversationStatus `json:"status"`
	ArchiveType      ArchiveType        `json:"archive_type,omitempty"`
	ArchivedAt       *time.Time         `json:"archived_at,omitempty"`
	UnreadCount      int                `json:"unread_count"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	Notes            string             `json:"notes,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Active reports whether the conversation still receives inbound messages.
func (c *Conversation) Active() bool {
	return c.Status != ConversationArchived
}

// ArchiveConversationRequest archives or resolves a conversation.
type ArchiveConversationRequest struct {
	Type ArchiveType `json:"type"`
}

// UpdateConversationRequest edits the free-form fields of a conversation.
type UpdateConversationRequest struct {
	Notes *string  `json:"notes,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
