// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	PublicBaseURL      string
	AllowedOrigins     []string

	// Storage
	DatabaseURL        string
	TokenEncryptionKey string
	RedisAddr          string
	RedisPassword      string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret        string
	OAuthStateSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Platform apps
	MetaAppID         string
	MetaAppSecret     string
	MetaVerifyToken   string
	MetaGraphURL      string
	MetaDialogURL     string
	TikTokClientKey   string
	TikTokSecret      string
	TikTokAPIURL      string
	TikTokAuthURL     string
	EmailAPIURL       string
	EmailWebhookToken string

	// Token lifecycle
	TokenRefreshWindow time.Duration

	// Quotas
	QuotaTiersFile string

	// Rate limiting
	RateLimitRequests     int
	RateLimitWindow       time.Duration
	WebhookRateLimit      int
	SuggestionRateLimit   int
	SharedRateLimitWindow time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Storage
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite://inbox.db"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:        getEnv("JWT_SECRET", "development-secret-change-in-production"),
		OAuthStateSecret: getEnv("OAUTH_STATE_SECRET", "development-state-secret"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Platforms
		MetaAppID:         getEnv("META_APP_ID", ""),
		MetaAppSecret:     getEnv("META_APP_SECRET", ""),
		MetaVerifyToken:   getEnv("META_VERIFY_TOKEN", ""),
		MetaGraphURL:      getEnv("META_GRAPH_URL", "https://graph.facebook.com/v19.0"),
		MetaDialogURL:     getEnv("META_DIALOG_URL", "https://www.facebook.com/v19.0/dialog/oauth"),
		TikTokClientKey:   getEnv("TIKTOK_CLIENT_KEY", ""),
		TikTokSecret:      getEnv("TIKTOK_CLIENT_SECRET", ""),
		TikTokAPIURL:      getEnv("TIKTOK_API_URL", "https://business-api.tiktok.com/open_api/v1.3"),
		TikTokAuthURL:     getEnv("TIKTOK_AUTH_URL", "https://www.tiktok.com/v2/auth/authorize/"),
		EmailAPIURL:       getEnv("EMAIL_API_URL", "https://api.resend.com"),
		EmailWebhookToken: getEnv("EMAIL_WEBHOOK_SECRET", ""),

		TokenRefreshWindow: getDurationEnv("TOKEN_REFRESH_WINDOW", 7*24*time.Hour),

		QuotaTiersFile: getEnv("QUOTA_TIERS_FILE", ""),

		// Rate limiting
		RateLimitRequests:     getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:       getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WebhookRateLimit:      getIntEnv("WEBHOOK_RATE_LIMIT", 600),
		SuggestionRateLimit:   getIntEnv("SUGGESTION_RATE_LIMIT", 10),
		SharedRateLimitWindow: getDurationEnv("SHARED_RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if strings.TrimSpace(c.OAuthStateSecret) == "" {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET is required"))
	}
	if c.TokenRefreshWindow <= 0 {
		errs = append(errs, errors.New("TOKEN_REFRESH_WINDOW must be positive"))
	}
	if c.RateLimitRequests <= 0 || c.WebhookRateLimit <= 0 || c.SuggestionRateLimit <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
