package store

import (
	"time"

	"gorm.io/datatypes"
)

type TenantModel struct {
	ID                   string    `gorm:"primaryKey"`
	Plan                 string    `gorm:"not null"`
	AISuggestionsUsed    int64     `gorm:"column:ai_suggestions_used;not null"`
	AISuggestionsResetAt time.Time `gorm:"column:ai_suggestions_reset_at;not null"`
	ConversationsUsed    int64     `gorm:"column:conversations_used;not null"`
	ConversationsResetAt time.Time `gorm:"column:conversations_reset_at;not null"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time
}

func (TenantModel) TableName() string { return "tenants" }

type credentialMetadata struct {
	UserToken    string `json:"user_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	PageID       string `json:"page_id,omitempty"`
	AccountName  string `json:"account_name,omitempty"`
}

type CredentialModel struct {
	ID                string     `gorm:"primaryKey"`
	TenantID          string     `gorm:"not null;uniqueIndex:idx_credentials_account,priority:1"`
	Platform          string     `gorm:"not null;uniqueIndex:idx_credentials_account,priority:2;index:idx_credentials_lookup,priority:1"`
	ExternalAccountID string     `gorm:"not null;uniqueIndex:idx_credentials_account,priority:3;index:idx_credentials_lookup,priority:2"`
	AccessToken       string     `gorm:"type:text;not null"`
	TokenExpiresAt    *time.Time
	Metadata          datatypes.JSONType[credentialMetadata]
	Active            bool      `gorm:"not null;index"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

// ConversationModel keeps at most one non-archived row per customer key.
type ConversationModel struct {
	ID               string `gorm:"primaryKey"`
	TenantID         string `gorm:"not null;uniqueIndex:idx_conversations_active,priority:1,where:status <> 'archived';index:idx_conversations_tenant_status,priority:1"`
	Channel          string `gorm:"not null;uniqueIndex:idx_conversations_active,priority:2,where:status <> 'archived'"`
	CustomerIdentity string `gorm:"not null;uniqueIndex:idx_conversations_active,priority:3,where:status <> 'archived'"`
	CustomerName     string
	Subject          string
	Status           string `gorm:"not null;index:idx_conversations_tenant_status,priority:2"`
	ArchiveType      string
	ArchivedAt       *time.Time
	UnreadCount      int       `gorm:"not null"`
	LastMessageAt    time.Time `gorm:"not null;index"`
	Notes            string    `gorm:"type:text"`
	Tags             datatypes.JSONSlice[string]
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel dedups inbound messages by upstream id per tenant channel.
type MessageModel struct {
	ID             string            `gorm:"primaryKey"`
	ConversationID string            `gorm:"not null;index:idx_messages_conversation,priority:1"`
	TenantID       string            `gorm:"not null;uniqueIndex:idx_messages_external,priority:1,where:external_id <> ''"`
	Channel        string            `gorm:"not null;uniqueIndex:idx_messages_external,priority:2,where:external_id <> ''"`
	ExternalID     string            `gorm:"not null;uniqueIndex:idx_messages_external,priority:3,where:external_id <> ''"`
	SenderType     string            `gorm:"not null"`
	Content        string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap
	DeliveryStatus string
	Error          string `gorm:"type:text"`
	SentAt         *time.Time
	FailedAt       *time.Time
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }
