package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

// DefaultRefreshWindow is how long before expiry a token is refreshed.
const DefaultRefreshWindow = 7 * 24 * time.Hour

// maxPeerWait bounds how long a sender waits on another instance's refresh.
const maxPeerWait = 5 * time.Second

var errPeerRefreshTimeout = errors.New("timed out waiting for another instance to refresh the token")

// Locker is a lock shared between service instances.
type Locker interface {
	// Acquire tries to take key for ttl. ok is false when another holder
	// owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// TokenManager keeps platform access tokens usable. Refreshes of the same
// credential are collapsed into one upstream exchange per process, and per
// deployment when a Locker is configured.
type TokenManager struct {
	credentials CredentialStore
	providers   *platform.Registry
	locker      Locker
	window      time.Duration
	lockTTL     time.Duration
	peerWait    time.Duration
	pollEvery   time.Duration
	clock       Clock
	logger      *logger.Logger
	group       singleflight.Group
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithLocker coordinates refreshes across instances.
func WithLocker(l Locker) TokenOption {
	return func(m *TokenManager) { m.locker = l }
}

// WithRefreshWindow overrides DefaultRefreshWindow.
func WithRefreshWindow(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) TokenOption {
	return func(m *TokenManager) { m.clock = c }
}

// WithPeerPolling sets how long a refresh lock is held and how often a
// waiting instance re-reads the credential and retries the lock. Waiting
// never exceeds the lock TTL or maxPeerWait.
func WithPeerPolling(lockTTL, every time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.lockTTL = lockTTL
		m.peerWait = min(lockTTL, maxPeerWait)
		m.pollEvery = every
	}
}

// NewTokenManager creates a token manager.
func NewTokenManager(credentials CredentialStore, providers *platform.Registry, log *logger.Logger, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		credentials: credentials,
		providers:   providers,
		window:      DefaultRefreshWindow,
		lockTTL:     30 * time.Second,
		peerWait:    maxPeerWait,
		pollEvery:   250 * time.Millisecond,
		clock:       SystemClock{},
		logger:      log.Named("tokens"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid returns an access token for cred, refreshing it when it expires
// within the refresh window. A failed refresh of a token that has not expired
// yet returns the current token.
func (m *TokenManager) EnsureValid(ctx context.Context, cred *model.Credential) (string, error) {
	if !m.needsRefresh(cred) {
		return cred.AccessToken, nil
	}

	// Once started a refresh runs to completion for every waiting caller.
	ctx = context.WithoutCancel(ctx)
	v, err, shared := m.group.Do(cred.Key(), func() (any, error) {
		return m.refresh(ctx, cred)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("joined in-flight token refresh", zap.String("credential", cred.Key()))
	}
	return v.(string), nil
}

func (m *TokenManager) needsRefresh(cred *model.Credential) bool {
	if cred.TokenExpiresAt == nil {
		return false
	}
	return !cred.TokenExpiresAt.After(m.clock.Now().Add(m.window))
}

func (m *TokenManager) expired(cred *model.Credential) bool {
	return cred.TokenExpiresAt != nil && !cred.TokenExpiresAt.After(m.clock.Now())
}

func (m *TokenManager) refresh(ctx context.Context, cred *model.Credential) (string, error) {
	ctx, span := tracer.Start(ctx, "token.refresh", trace.WithAttributes(
		attribute.String("platform", string(cred.Platform)),
		attribute.String("tenant_id", cred.TenantID),
	))
	defer span.End()

	if m.locker != nil {
		release, token, done, err := m.lock(ctx, span, cred)
		if done {
			return token, err
		}
		if release != nil {
			defer release()
		}
	}

	// Another instance may have finished a refresh since cred was read.
	if latest, err := m.credentials.GetCredential(ctx, cred.ID); err == nil && latest.Active && !m.needsRefresh(latest) {
		return latest.AccessToken, nil
	}

	provider, err := m.providers.Provider(cred.Platform)
	if err != nil {
		return m.fail(ctx, span, cred, err)
	}
	grant, err := m.exchange(ctx, provider, cred)
	if err != nil {
		return m.fail(ctx, span, cred, err)
	}
	token, expiresAt := grant.token, grant.expiresAt

	if err := m.credentials.UpdateCredentialToken(ctx, cred.ID, token, expiresAt, grant.meta); err != nil {
		m.logger.Error("failed to persist refreshed token",
			zap.String("credential", cred.Key()), zap.Error(err))
		metrics.RecordTokenRefresh(string(cred.Platform), "persist_failed")
		return token, nil
	}
	if grant.accountID != "" && grant.accountID != cred.ExternalAccountID {
		// Webhooks resolve tenants by this id, so it must follow the page.
		if err := m.credentials.MoveCredentialAccount(ctx, cred.ID, grant.accountID); err != nil {
			m.logger.Error("failed to record new channel account",
				zap.String("credential", cred.Key()),
				zap.String("account_id", grant.accountID),
				zap.Error(err),
			)
		} else {
			m.logger.Info("channel account changed on refresh",
				zap.String("tenant_id", cred.TenantID),
				zap.String("platform", string(cred.Platform)),
				zap.String("from", cred.ExternalAccountID),
				zap.String("to", grant.accountID),
			)
		}
	}

	m.logger.Info("token refreshed",
		zap.String("tenant_id", cred.TenantID),
		zap.String("platform", string(cred.Platform)),
		zap.Timep("expires_at", expiresAt),
	)
	metrics.RecordTokenRefresh(string(cred.Platform), "refreshed")
	return token, nil
}

// refreshed is the outcome of a token exchange. accountID is set when a
// derived token now belongs to a different channel account.
type refreshed struct {
	token     string
	expiresAt *time.Time
	meta      model.CredentialMetadata
	accountID string
}

// exchange obtains a new token. Derived platforms re-derive the page token
// from a refreshed user token.
func (m *TokenManager) exchange(ctx context.Context, provider platform.Provider, cred *model.Credential) (refreshed, error) {
	now := m.clock.Now()
	meta := cred.Metadata

	lister, derived := provider.(platform.AccountLister)
	if !derived || meta.UserToken == "" {
		grant, err := provider.RefreshToken(ctx, refreshSecret(cred))
		if err != nil {
			return refreshed{}, err
		}
		if grant.RefreshToken != "" {
			meta.RefreshToken = grant.RefreshToken
		}
		return refreshed{token: grant.AccessToken, expiresAt: grant.ExpiresAt(now), meta: meta}, nil
	}

	grant, err := provider.RefreshToken(ctx, meta.UserToken)
	if err != nil {
		return refreshed{}, err
	}
	accounts, err := lister.ListAccounts(ctx, grant.AccessToken)
	if err != nil {
		return refreshed{}, err
	}
	account, err := platform.SelectAccount(accounts, meta.PageID)
	if err != nil {
		return refreshed{}, err
	}
	meta.UserToken = grant.AccessToken
	meta.PageID = account.ID
	if account.Name != "" {
		meta.AccountName = account.Name
	}
	return refreshed{
		token:     account.AccessToken,
		expiresAt: grant.ExpiresAt(now),
		meta:      meta,
		accountID: account.ChannelAccountID,
	}, nil
}

// refreshSecret is what a direct platform exchanges for a new token: its
// refresh token when it issued one, else the access token itself.
func refreshSecret(cred *model.Credential) string {
	if cred.Metadata.RefreshToken != "" {
		return cred.Metadata.RefreshToken
	}
	return cred.AccessToken
}

func (m *TokenManager) fail(ctx context.Context, span trace.Span, cred *model.Credential, cause error) (string, error) {
	span.RecordError(cause)
	if m.expired(cred) {
		span.SetStatus(codes.Error, "reconnect required")
		metrics.RecordTokenRefresh(string(cred.Platform), "reconnect_required")
		m.logger.Warn("token expired and refresh failed",
			zap.String("tenant_id", cred.TenantID),
			zap.String("platform", string(cred.Platform)),
			zap.Error(cause),
		)
		return "", &ReconnectRequiredError{Platform: cred.Platform, Cause: cause}
	}

	metrics.RecordTokenRefresh(string(cred.Platform), "degraded")
	m.logger.Warn("using current token",
		zap.String("tenant_id", cred.TenantID),
		zap.Error(&UpstreamTransientError{Platform: cred.Platform, Cause: cause}),
	)
	return cred.AccessToken, nil
}

// lock takes the refresh lock for cred. While another instance holds it the
// caller polls for that instance's token and retries the lock, so a peer whose
// refresh failed hands over to the next caller. done reports that token is
// the final result and no refresh should run.
func (m *TokenManager) lock(ctx context.Context, span trace.Span, cred *model.Credential) (release func(), token string, done bool, err error) {
	key := "token-refresh:" + cred.Key()
	wait, cancel := context.WithTimeout(ctx, m.peerWait)
	defer cancel()

	var ticker *time.Ticker
	for {
		release, ok, err := m.locker.Acquire(ctx, key, m.lockTTL)
		if err != nil {
			m.logger.Warn("refresh lock unavailable, refreshing without it",
				zap.String("credential", cred.Key()), zap.Error(err))
			return nil, "", false, nil
		}
		if ok {
			return release, "", false, nil
		}

		if ticker == nil {
			span.AddEvent("waiting for peer refresh")
			ticker = time.NewTicker(m.pollEvery)
			defer ticker.Stop()
		}
		select {
		case <-wait.Done():
			if m.expired(cred) {
				m.logger.Warn("refresh lock still held, refreshing expired token without it",
					zap.String("credential", cred.Key()))
				return nil, "", false, nil
			}
			token, err := m.fail(ctx, span, cred, errPeerRefreshTimeout)
			return nil, token, true, err
		case <-ticker.C:
			latest, err := m.credentials.GetCredential(ctx, cred.ID)
			if err == nil && latest.Active && !m.needsRefresh(latest) {
				metrics.RecordTokenRefresh(string(cred.Platform), "peer")
				return nil, latest.AccessToken, true, nil
			}
		}
	}
}
