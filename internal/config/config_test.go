package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_REFRESH_WINDOW", "72h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 72*time.Hour, cfg.TokenRefreshWindow)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.RateLimitRequests)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Load()
	cfg.DatabaseURL = ""
	cfg.TokenRefreshWindow = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "TOKEN_REFRESH_WINDOW")
}

func TestDefaultTiers(t *testing.T) {
	t.Parallel()

	tiers := DefaultTiers()
	name, free := tiers.Resolve("FREE")
	assert.Equal(t, "free", name)
	assert.EqualValues(t, 50, free.Limit(model.ResourceConversation))
	assert.EqualValues(t, 20, free.Limit(model.ResourceAISuggestion))

	_, business := tiers.Resolve("business")
	assert.Equal(t, model.Unlimited, business.Limit(model.ResourceConversation))

	name, _ = tiers.Resolve("enterprise-legacy")
	assert.Equal(t, "free", name)
}

func TestLoadTiersFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: starter
tiers:
  starter:
    ai_suggestions_per_day: 5
    conversations_per_month: 10
  scale:
    unlimited: true
`), 0o600))

	tiers, err := LoadTiers(path)
	require.NoError(t, err)
	name, tier := tiers.Resolve("")
	assert.Equal(t, "starter", name)
	assert.EqualValues(t, 5, tier.Limit(model.ResourceAISuggestion))
	_, scale := tiers.Resolve("scale")
	assert.True(t, scale.Unlimited)
}

func TestLoadTiersRejectsMissingDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: gold\ntiers:\n  free:\n    conversations_per_month: 1\n"), 0o600))
	_, err := LoadTiers(path)
	assert.Error(t, err)
}
