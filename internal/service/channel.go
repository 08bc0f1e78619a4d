package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const oauthStateTTL = 10 * time.Minute

// ErrInvalidState is returned for a missing, forged or expired OAuth state.
var ErrInvalidState = errors.New("invalid oauth state")

// ConnectionStore persists channel connections.
type ConnectionStore interface {
	UpsertCredential(ctx context.Context, c *model.Credential) error
	DeactivateCredentials(ctx context.Context, tenantID string, platform model.Channel) (int64, error)
	ListCredentials(ctx context.Context, tenantID string) ([]model.Credential, error)
}

// oauthState is the signed state parameter of the consent round trip.
type oauthState struct {
	TenantID string        `json:"tid"`
	Channel  model.Channel `json:"ch"`
	jwt.RegisteredClaims
}

// ChannelService connects and disconnects tenant channels.
type ChannelService struct {
	store       ConnectionStore
	providers   *platform.Registry
	stateSecret []byte
	baseURL     string
	clock       Clock
	logger      *logger.Logger
}

// NewChannelService creates a channel service. baseURL is the public URL
// the OAuth callback is served under.
func NewChannelService(store ConnectionStore, providers *platform.Registry, stateSecret, baseURL string, clock Clock, log *logger.Logger) *ChannelService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ChannelService{
		store:       store,
		providers:   providers,
		stateSecret: []byte(stateSecret),
		baseURL:     strings.TrimRight(baseURL, "/"),
		clock:       clock,
		logger:      log.Named("channels"),
	}
}

// RedirectURI is the OAuth callback URL of a channel.
func (s *ChannelService) RedirectURI(ch model.Channel) string {
	return s.baseURL + "/oauth/" + string(ch) + "/callback"
}

func (s *ChannelService) authorizer(ch model.Channel) (platform.Provider, platform.Authorizer, error) {
	if !ch.Valid() {
		return nil, nil, invalidInput("unsupported channel %q", ch)
	}
	provider, err := s.providers.Provider(ch)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	auth, ok := provider.(platform.Authorizer)
	if !ok {
		return nil, nil, invalidInput("%s is connected with an access token, not oauth", ch.DisplayName())
	}
	return provider, auth, nil
}

// AuthorizeURL returns the provider consent URL for a tenant.
func (s *ChannelService) AuthorizeURL(ctx context.Context, tenantID string, ch model.Channel) (string, error) {
	_, auth, err := s.authorizer(ch)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, oauthState{
		TenantID: tenantID,
		Channel:  ch,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
		},
	}).SignedString(s.stateSecret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return auth.AuthorizeURL(state, s.RedirectURI(ch)), nil
}

func (s *ChannelService) parseState(raw string, ch model.Channel) (*oauthState, error) {
	claims := &oauthState{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.stateSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Channel != ch || claims.TenantID == "" {
		return nil, ErrInvalidState
	}
	return claims, nil
}

// Complete finishes the consent round trip: it exchanges the code, upgrades
// the token to a long lived one and stores the connection.
func (s *ChannelService) Complete(ctx context.Context, ch model.Channel, state, code string) (*model.ConnectionView, error) {
	provider, auth, err := s.authorizer(ch)
	if err != nil {
		return nil, err
	}
	claims, err := s.parseState(state, ch)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, invalidInput("authorization code is required")
	}

	grant, err := auth.ExchangeCode(ctx, code, s.RedirectURI(ch))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	now := s.clock.Now()
	cred := &model.Credential{
		TenantID: claims.TenantID,
		Platform: ch,
		Active:   true,
	}
	if lister, ok := provider.(platform.AccountLister); ok {
		long, err := provider.RefreshToken(ctx, grant.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("long lived token: %w", err)
		}
		accounts, err := lister.ListAccounts(ctx, long.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		account, err := platform.SelectAccount(accounts, "")
		if err != nil {
			return nil, invalidInput("no %s account is linked to this login", ch.DisplayName())
		}
		cred.ExternalAccountID = account.ChannelAccountID
		cred.AccessToken = account.AccessToken
		cred.TokenExpiresAt = long.ExpiresAt(now)
		cred.Metadata = model.CredentialMetadata{UserToken: long.AccessToken, PageID: account.ID, AccountName: account.Name}
	} else {
		if grant.AccountID == "" {
			return nil, fmt.Errorf("exchange code: %s did not identify the account", ch.DisplayName())
		}
		cred.ExternalAccountID = grant.AccountID
		cred.AccessToken = grant.AccessToken
		cred.TokenExpiresAt = grant.ExpiresAt(now)
		cred.Metadata.RefreshToken = grant.RefreshToken
	}

	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	s.logger.Info("channel connected",
		zap.String("tenant_id", cred.TenantID),
		zap.String("platform", string(ch)),
		zap.String("account_id", cred.ExternalAccountID),
	)
	view := cred.View()
	return &view, nil
}

// ConnectStatic connects a channel with a token that does not expire, such
// as an email provider API key or a WhatsApp system user token.
func (s *ChannelService) ConnectStatic(ctx context.Context, tenantID string, ch model.Channel, req *model.ConnectTokenRequest) (*model.ConnectionView, error) {
	if !ch.Valid() {
		return nil, invalidInput("unsupported channel %q", ch)
	}
	if _, err := s.providers.Provider(ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	account := strings.TrimSpace(req.AccountID)
	if ch == model.ChannelEmail {
		account = NormalizeIdentity(ch, account)
	}
	if account == "" || strings.TrimSpace(req.AccessToken) == "" {
		return nil, invalidInput("account_id and access_token are required")
	}

	cred := &model.Credential{
		TenantID:          tenantID,
		Platform:          ch,
		ExternalAccountID: account,
		AccessToken:       strings.TrimSpace(req.AccessToken),
		Metadata:          model.CredentialMetadata{AccountName: req.AccountName},
		Active:            true,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	s.logger.Info("channel connected with static token",
		zap.String("tenant_id", tenantID),
		zap.String("platform", string(ch)),
	)
	view := cred.View()
	return &view, nil
}

// Disconnect deactivates every connection of a channel.
func (s *ChannelService) Disconnect(ctx context.Context, tenantID string, ch model.Channel) error {
	n, err := s.store.DeactivateCredentials(ctx, tenantID, ch)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ErrNotConnected)
	}
	s.logger.Info("channel disconnected", zap.String("tenant_id", tenantID), zap.String("platform", string(ch)))
	return nil
}

// List returns the connections of a tenant without their tokens.
func (s *ChannelService) List(ctx context.Context, tenantID string) ([]model.ConnectionView, error) {
	creds, err := s.store.ListCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	views := make([]model.ConnectionView, 0, len(creds))
	for i := range creds {
		views = append(views, creds[i].View())
	}
	return views, nil
}
