package model

import (
	"time"
)

// Credential is a connected platform account for a tenant.
type Credential struct {
	ID                string             `json:"id"`
	TenantID          string             `json:"tenant_id"`
	Platform          Channel            `json:"platform"`
	ExternalAccountID string             `json:"external_account_id"`
	AccessToken       string             `json:"-"`
	TokenExpiresAt    *time.Time         `json:"token_expires_at,omitempty"`
	Metadata          CredentialMetadata `json:"metadata"`
	Active            bool               `json:"active"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// CredentialMetadata carries platform specific connection details.
type CredentialMetadata struct {
	// UserToken is the long-lived user token a page token is derived from.
	UserToken string `json:"user_token,omitempty"`
	// RefreshToken is issued by platforms that refresh with a separate
	// token instead of the access token.
	RefreshToken string `json:"refresh_token,omitempty"`
	PageID       string `json:"page_id,omitempty"`
	AccountName  string `json:"account_name,omitempty"`
}

// Key identifies the credential for refresh coordination.
func (c *Credential) Key() string {
	return c.TenantID + ":" + string(c.Platform) + ":" + c.ExternalAccountID
}

// ConnectionView is the public projection of a credential. Tokens never leave
// the service.
type ConnectionView struct {
	Platform          Channel    `json:"platform"`
	ExternalAccountID string     `json:"external_account_id"`
	AccountName       string     `json:"account_name,omitempty"`
	Active            bool       `json:"active"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	ConnectedAt       time.Time  `json:"connected_at"`
}

// View converts the credential to its public projection.
func (c *Credential) View() ConnectionView {
	return ConnectionView{
		Platform:          c.Platform,
		ExternalAccountID: c.ExternalAccountID,
		AccountName:       c.Metadata.AccountName,
		Active:            c.Active,
		TokenExpiresAt:    c.TokenExpiresAt,
		ConnectedAt:       c.CreatedAt,
	}
}

// ConnectTokenRequest connects a channel with a non-expiring token, such as
// an email API key or a WhatsApp system user token.
type ConnectTokenRequest struct {
	AccountID   string `json:"account_id"`
	AccessToken string `json:"access_token"`
	AccountName string `json:"account_name,omitempty"`
}

// AuthorizeResponse carries the provider consent URL.
type AuthorizeResponse struct {
	URL string `json:"url"`
}
