package model

import (
	"time"
)

// EventType represents the type of an inbox event.
type EventType string

const (
	EventMessageReceived  EventType = "message.received"
	EventMessageDelivery  EventType = "message.delivery"
	EventConversationOpen EventType = "conversation.opened"
)

// InboxEvent is published whenever a conversation changes.
type InboxEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Message        *Message  `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Sequence       uint64    `json:"sequence,omitempty"`
}
