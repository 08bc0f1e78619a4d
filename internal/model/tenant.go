package model

import (
	"time"
)

// Resource is a metered tenant resource.
type Resource string

const (
	ResourceAISuggestion Resource = "ai_suggestion"
	ResourceConversation Resource = "conversation"
)

// Unlimited marks an unbounded limit or remaining count.
const Unlimited int64 = -1

// Tenant holds the usage counters of a business account.
type Tenant struct {
	ID                   string    `json:"id"`
	Plan                 string    `json:"plan"`
	AISuggestionsUsed    int64     `json:"ai_suggestions_used"`
	AISuggestionsResetAt time.Time `json:"ai_suggestions_reset_at"`
	ConversationsUsed    int64     `json:"conversations_used"`
	ConversationsResetAt time.Time `json:"conversations_reset_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Counter returns the used count and reset time of a resource.
func (t *Tenant) Counter(r Resource) (used int64, resetAt time.Time) {
	if r == ResourceAISuggestion {
		return t.AISuggestionsUsed, t.AISuggestionsResetAt
	}
	return t.ConversationsUsed, t.ConversationsResetAt
}

// UsageStatus is the quota state of one resource.
type UsageStatus struct {
	Resource  Resource  `json:"resource"`
	Plan      string    `json:"plan"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	CanUse    bool      `json:"can_use"`
}

// UsageSnapshot is the quota state of every resource of a tenant.
type UsageSnapshot struct {
	TenantID      string      `json:"tenant_id"`
	AISuggestions UsageStatus `json:"ai_suggestions"`
	Conversations UsageStatus `json:"conversations"`
}
