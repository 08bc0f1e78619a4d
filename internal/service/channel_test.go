package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
)

func stateFrom(t *testing.T, authorizeURL string) string {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestOAuthConnectDerivedChannel(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.instagram.accounts = []platform.Account{{ID: "page-1", Name: "Shop", AccessToken: "page-token", ChannelAccountID: "ig-1"}}
	ctx := context.Background()

	authURL, err := e.channels.AuthorizeURL(ctx, tenantID, model.ChannelInstagram)
	require.NoError(t, err)
	assert.Contains(t, authURL, "redirect_uri=https://inbox.example/oauth/instagram/callback")

	view, err := e.channels.Complete(ctx, model.ChannelInstagram, stateFrom(t, authURL), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "ig-1", view.ExternalAccountID)
	assert.Equal(t, "Shop", view.AccountName)
	assert.Equal(t, "the-code", e.instagram.code)
	assert.Equal(t, []string{"short-user-token"}, e.instagram.refreshed)

	cred, err := e.store.GetActiveCredential(ctx, tenantID, model.ChannelInstagram)
	require.NoError(t, err)
	assert.Equal(t, "page-token", cred.AccessToken)
	assert.Equal(t, "short-user-token-refreshed-1", cred.Metadata.UserToken)
	assert.Equal(t, "page-1", cred.Metadata.PageID)
	require.NotNil(t, cred.TokenExpiresAt)
	assert.True(t, cred.TokenExpiresAt.Equal(base.Add(60*24*time.Hour)))
}

func TestOAuthRejectsBadState(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.instagram.accounts = []platform.Account{{ID: "page-1", AccessToken: "page-token", ChannelAccountID: "ig-1"}}
	ctx := context.Background()

	authURL, err := e.channels.AuthorizeURL(ctx, tenantID, model.ChannelInstagram)
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	_, err = e.channels.Complete(ctx, model.ChannelInstagram, state+"x", "code")
	assert.ErrorIs(t, err, ErrInvalidState)

	e.clock.Advance(11 * time.Minute)
	_, err = e.channels.Complete(ctx, model.ChannelInstagram, state, "code")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = e.channels.AuthorizeURL(ctx, tenantID, model.ChannelEmail)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStaticConnectListDisconnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	ctx := context.Background()

	view, err := e.channels.ConnectStatic(ctx, tenantID, model.ChannelEmail, &model.ConnectTokenRequest{
		AccountID:   " Support@Shop.example ",
		AccessToken: "api-key",
		AccountName: "Support",
	})
	require.NoError(t, err)
	assert.Equal(t, "support@shop.example", view.ExternalAccountID)
	assert.Nil(t, view.TokenExpiresAt)

	_, err = e.channels.ConnectStatic(ctx, tenantID, model.ChannelEmail, &model.ConnectTokenRequest{AccountID: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	views, err := e.channels.List(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Active)

	require.NoError(t, e.channels.Disconnect(ctx, tenantID, model.ChannelEmail))
	assert.ErrorIs(t, e.channels.Disconnect(ctx, tenantID, model.ChannelEmail), ErrNotFound)

	_, err = e.store.GetActiveCredential(ctx, tenantID, model.ChannelEmail)
	assert.ErrorIs(t, err, ErrNotFound)
}
