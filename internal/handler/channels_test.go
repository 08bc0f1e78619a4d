package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestChannelConnectListDisconnect(t *testing.T) {
	api := newTestAPI(t, tiers(10, 10), nil)

	rec := api.do(t, http.MethodPost, "/api/v1/channels/email/connect", model.ConnectTokenRequest{
		AccountID:   "Support@Shop.example",
		AccessToken: "api-key",
		AccountName: "Shop support",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[model.ConnectionView](t, rec)
	assert.Equal(t, supportInbox, view.ExternalAccountID)
	assert.NotContains(t, rec.Body.String(), "api-key")

	rec = api.do(t, http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Channels []model.ConnectionView `json:"channels"`
	}](t, rec)
	require.Len(t, listed.Channels, 1)
	assert.Equal(t, "Shop support", listed.Channels[0].AccountName)

	rec = api.do(t, http.MethodDelete, "/api/v1/channels/email", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodDelete, "/api/v1/channels/email", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannelRequestValidation(t *testing.T) {
	api := newTestAPI(t, tiers(10, 10), nil)

	rec := api.do(t, http.MethodPost, "/api/v1/channels/fax/connect", model.ConnectTokenRequest{AccountID: "x", AccessToken: "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/channels/email/connect", model.ConnectTokenRequest{AccountID: supportInbox})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Email has no consent screen.
	rec = api.do(t, http.MethodPost, "/api/v1/channels/email/authorize", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallback(t *testing.T) {
	api := newTestAPI(t, tiers(10, 10), nil)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"declined", "?error=access_denied", http.StatusBadRequest},
		{"missing code", "?state=abc", http.StatusBadRequest},
		{"forged state", "?state=abc&code=xyz", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/tiktok/callback"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestOAuthRoundTrip(t *testing.T) {
	api := newTestAPI(t, tiers(10, 10), nil)

	rec := api.do(t, http.MethodPost, "/api/v1/channels/tiktok/authorize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	consent, err := url.Parse(decode[model.AuthorizeResponse](t, rec).URL)
	require.NoError(t, err)
	assert.Equal(t, "https://inbox.example/oauth/tiktok/callback", consent.Query().Get("redirect_uri"))
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	// A state minted for one channel cannot complete another.
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/email/callback?state="+state+"&code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/tiktok/callback?state="+url.QueryEscape(state)+"&code=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[model.ConnectionView](t, rec)
	assert.Equal(t, "tt-business-1", view.ExternalAccountID)
	assert.True(t, view.Active)

	cred, err := api.store.GetActiveCredential(context.Background(), tenantID, model.ChannelTikTok)
	require.NoError(t, err)
	assert.Equal(t, "tt-abc", cred.AccessToken)
	assert.Equal(t, "tt-refresh-abc", cred.Metadata.RefreshToken)
}
