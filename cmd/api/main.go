// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/config"
	"github.com/capitalize-ai/unified-inbox/internal/handler"
	"github.com/capitalize-ai/unified-inbox/internal/llm"
	"github.com/capitalize-ai/unified-inbox/internal/lock"
	natsclient "github.com/capitalize-ai/unified-inbox/internal/nats"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/internal/ratelimit"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/internal/store"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/sealer"
	"github.com/capitalize-ai/unified-inbox/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	tiers, err := config.LoadTiers(cfg.QuotaTiersFile)
	if err != nil {
		log.Fatal("failed to load quota tiers", zap.Error(err))
	}

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "unified-inbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	// Storage
	tokenSealer, err := sealer.FromHex(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatal("invalid token encryption key", zap.Error(err))
	}
	if tokenSealer == nil {
		log.Warn("TOKEN_ENCRYPTION_KEY not set, credentials are stored unsealed")
	}
	db, err := store.Open(cfg.DatabaseURL, tokenSealer)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	suggestionLimiter, err := ratelimit.NewFixedWindowLimiter(rdb, "inbox:ratelimit", cfg.SuggestionRateLimit, cfg.SharedRateLimitWindow)
	if err != nil {
		log.Fatal("failed to create suggestion limiter", zap.Error(err))
	}
	webhookLimiter, err := ratelimit.NewFixedWindowLimiter(rdb, "inbox:ratelimit", cfg.WebhookRateLimit, cfg.SharedRateLimitWindow)
	if err != nil {
		log.Fatal("failed to create webhook limiter", zap.Error(err))
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Fatal("failed to ensure stream", zap.Error(err))
	}

	// Platforms
	meta := platform.NewMeta(platform.MetaConfig{
		AppID:     cfg.MetaAppID,
		AppSecret: cfg.MetaAppSecret,
		GraphURL:  cfg.MetaGraphURL,
		DialogURL: cfg.MetaDialogURL,
	})
	registry := platform.NewRegistry(
		platform.NewEmail(cfg.EmailAPIURL),
		platform.NewInstagram(meta),
		platform.NewWhatsApp(meta),
		platform.NewTikTok(platform.TikTokConfig{
			ClientKey:    cfg.TikTokClientKey,
			ClientSecret: cfg.TikTokSecret,
			APIURL:       cfg.TikTokAPIURL,
			AuthURL:      cfg.TikTokAuthURL,
		}),
	)

	llmClient := newLLMClient(cfg, log)

	// Initialize services
	clock := service.SystemClock{}
	usage := service.NewUsageMeter(db, tiers, clock, log)
	tokens := service.NewTokenManager(db, registry, log,
		service.WithLocker(lock.NewRedisLocker(rdb, "inbox:lock")),
		service.WithRefreshWindow(cfg.TokenRefreshWindow),
	)
	dispatcher := service.NewMessageDispatcher(db, db, db, tokens, registry, streamManager, clock, log)
	ingestion := service.NewIngestionRouter(db, db, usage, streamManager, clock, log)
	conversationSvc := service.NewConversationService(db, clock, log)
	messageSvc := service.NewMessageService(db, db, dispatcher, clock, log)
	suggestionSvc := service.NewSuggestionService(db, db, usage, llmClient, log)
	channelSvc := service.NewChannelService(db, registry, cfg.OAuthStateSecret, cfg.PublicBaseURL, clock, log)

	// Initialize handlers
	r := newRouter(routerDeps{
		cfg: cfg,
		log: log,
		health: handler.NewHealthHandler(map[string]handler.Check{
			"database": db.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"nats":     natsClient.Check,
		}),
		conversations: handler.NewConversationHandler(conversationSvc, log),
		messages:      handler.NewMessageHandler(messageSvc, log),
		stream:        handler.NewStreamHandler(messageSvc, streamManager, log),
		suggestions:   handler.NewSuggestionHandler(suggestionSvc, log),
		usage:         handler.NewUsageHandler(usage, log),
		channels:      handler.NewChannelHandler(channelSvc, log),
		webhooks: handler.NewWebhookHandler(db, ingestion, webhookLimiter, handler.WebhookSecrets{
			MetaAppSecret:   cfg.MetaAppSecret,
			MetaVerifyToken: cfg.MetaVerifyToken,
			TikTokSecret:    cfg.TikTokSecret,
			EmailSecret:     cfg.EmailWebhookToken,
		}, log),
		suggestionLimiter: suggestionLimiter,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newLLMClient builds the configured suggestion provider, falling back to the
// other provider when only its key is set. Suggestions are disabled without
// any key.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}
	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderAnthropic, llm.ProviderOpenAI}
	for _, p := range order {
		key := keys[p]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(p, key)
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(p)), zap.Error(err))
			continue
		}
		log.Info("AI suggestions enabled", zap.String("provider", client.Name()))
		return client
	}
	log.Warn("no LLM API key configured, AI suggestions disabled")
	return nil
}
