package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestSuggestAndQuota(t *testing.T) {
	api := newTestAPI(t, tiers(10, 1), &stubLLM{reply: "  Your order ships today.  "})
	conv := api.openConversation(t)
	path := "/api/v1/conversations/" + conv.ID + "/suggestions"

	rec := api.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.SuggestionResponse](t, rec)
	assert.Equal(t, "Your order ships today.", resp.Suggestion)
	assert.Equal(t, "stub", resp.Provider)
	assert.EqualValues(t, 0, resp.Usage.Remaining)

	rec = api.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "quota_exceeded", body.Code)
	require.NotNil(t, body.Usage)
	assert.Equal(t, model.ResourceAISuggestion, body.Usage.Resource)
	assert.EqualValues(t, 1, body.Usage.Used)
	assert.EqualValues(t, 1, body.Usage.Limit)
	assert.False(t, body.Usage.ResetAt.IsZero())

	rec = api.do(t, http.MethodGet, "/api/v1/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ai_suggestion"`)
}

func TestSuggestWithoutProvider(t *testing.T) {
	api := newTestAPI(t, tiers(10, 5), nil)
	conv := api.openConversation(t)

	rec := api.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/suggestions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[ErrorResponse](t, rec).Code)
}
