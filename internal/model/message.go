package model

import (
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBusiness SenderType = "business"
	SenderAI       SenderType = "ai"
)

// DeliveryStatus tracks an outbound message through delivery.
type DeliveryStatus string

const (
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Message is a single message inside a conversation.
type Message struct {
	// Identity
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	TenantID       string  `json:"tenant_id"`
	Channel        Channel `json:"channel"`

	// Content
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`

	// ExternalID is the upstream platform message id.
	ExternalID string         `json:"external_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Outbound delivery (empty for inbound messages)
	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	Error          string         `json:"error,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Outbound reports whether the message was authored by the business side.
func (m *Message) Outbound() bool {
	return m.SenderType != SenderCustomer
}

// InboundMessage is a normalized inbound event from any channel.
type InboundMessage struct {
	TenantID          string         `json:"tenant_id"`
	Channel           Channel        `json:"channel"`
	CustomerIdentity  string         `json:"customer_identity"`
	CustomerName      string         `json:"customer_name,omitempty"`
	Content           string         `json:"content"`
	Subject           string         `json:"subject,omitempty"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ReceivedAt        time.Time      `json:"received_at"`
}

// IngestResult reports where an inbound message landed.
type IngestResult struct {
	ConversationID      string `json:"conversation_id"`
	MessageID           string `json:"message_id"`
	ConversationCreated bool   `json:"conversation_created"`
	Duplicate           bool   `json:"duplicate"`
}

// SendMessageRequest is a reply composed by the business.
type SendMessageRequest struct {
	Content    string     `json:"content"`
	SenderType SenderType `json:"sender_type,omitempty"`
}

// SendMessageResponse is the response after dispatching a reply.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SuggestionResponse carries a generated reply suggestion.
type SuggestionResponse struct {
	Suggestion string      `json:"suggestion"`
	Provider   string      `json:"provider"`
	Usage      UsageStatus `json:"usage"`
}

// HeartbeatEvent represents a stream heartbeat.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
