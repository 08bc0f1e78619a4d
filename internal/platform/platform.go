// Package platform talks to the upstream messaging platforms: token exchange,
// account listing and message sending.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

var (
	// ErrUnsupported is returned for channels without a registered provider.
	ErrUnsupported = errors.New("platform: unsupported channel")
	// ErrRefreshUnsupported is returned by providers whose tokens never expire.
	ErrRefreshUnsupported = errors.New("platform: token refresh not supported")
	// ErrNoAccounts is returned when a user token can derive no channel account.
	ErrNoAccounts = errors.New("platform: no accounts available for user token")
)

// APIError is an error response from an upstream platform.
type APIError struct {
	Platform model.Channel
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %d (%s): %s", e.Platform, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Platform, e.Status, e.Message)
}

// TokenGrant is the result of a token exchange.
type TokenGrant struct {
	AccessToken string
	// ExpiresIn is zero for tokens without an expiry.
	ExpiresIn time.Duration
	// AccountID is set by platforms that identify the authorizing account
	// in the token response.
	AccountID string
	// RefreshToken is set by platforms whose refresh grant takes a separate
	// refresh token. Refreshes may rotate it.
	RefreshToken string
}

// ExpiresAt converts the grant lifetime to an absolute time, or nil.
func (g TokenGrant) ExpiresAt(now time.Time) *time.Time {
	if g.ExpiresIn <= 0 {
		return nil
	}
	t := now.Add(g.ExpiresIn).UTC()
	return &t
}

// Account is a channel account derivable from a user token, such as a
// Facebook page with its linked Instagram business account.
type Account struct {
	ID          string
	Name        string
	AccessToken string
	// ChannelAccountID is the id the channel uses for this account in
	// webhooks and sends.
	ChannelAccountID string
}

// SendRequest is an outbound text message.
type SendRequest struct {
	AccessToken string
	AccountID   string
	Recipient   string
	Text        string
	Subject     string
}

// SendResult identifies the delivered message upstream.
type SendResult struct {
	ExternalID string
}

// Provider refreshes tokens and sends messages for one channel.
type Provider interface {
	Channel() model.Channel
	RefreshToken(ctx context.Context, token string) (TokenGrant, error)
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// AccountLister is implemented by providers whose access token is derived
// from a longer lived user token.
type AccountLister interface {
	ListAccounts(ctx context.Context, userToken string) ([]Account, error)
}

// Authorizer is implemented by providers connected through an OAuth consent
// screen.
type Authorizer interface {
	AuthorizeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (TokenGrant, error)
}

// SelectAccount returns the account with id, falling back to the first one.
func SelectAccount(accounts []Account, id string) (Account, error) {
	if len(accounts) == 0 {
		return Account{}, ErrNoAccounts
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return accounts[0], nil
}

// Registry resolves providers by channel.
type Registry struct {
	providers map[model.Channel]Provider
}

// NewRegistry creates a registry of providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.Channel]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Channel()] = p
	}
	return r
}

// Provider returns the provider of a channel.
func (r *Registry) Provider(ch model.Channel) (Provider, error) {
	p, ok := r.providers[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ch)
	}
	return p, nil
}
