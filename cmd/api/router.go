package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/unified-inbox/internal/config"
	"github.com/capitalize-ai/unified-inbox/internal/handler"
	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

type routerDeps struct {
	cfg *config.Config
	log *logger.Logger

	health        *handler.HealthHandler
	conversations *handler.ConversationHandler
	messages      *handler.MessageHandler
	stream        *handler.StreamHandler
	suggestions   *handler.SuggestionHandler
	usage         *handler.UsageHandler
	channels      *handler.ChannelHandler
	webhooks      *handler.WebhookHandler

	suggestionLimiter middleware.Limiter
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(d.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", d.health.Health)
	r.Get("/ready", d.health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks are verified by signature or OAuth state and
	// limited per receiving account by the webhook handler.
	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/meta", d.webhooks.MetaVerify)
		r.Post("/meta", d.webhooks.Meta)
		r.Post("/tiktok", d.webhooks.TikTok)
		r.Post("/email", d.webhooks.Email)
	})
	r.Get("/oauth/{channel}/callback", d.channels.Callback)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(d.cfg.JWTSecret))
		r.Use(middleware.RateLimit(d.cfg.RateLimitRequests, d.cfg.RateLimitWindow))

		r.Get("/usage", d.usage.Get)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", d.channels.List)
			r.Route("/{channel}", func(r chi.Router) {
				r.Post("/authorize", d.channels.Authorize)
				r.Post("/connect", d.channels.Connect)
				r.Delete("/", d.channels.Disconnect)
			})
		})

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", d.conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", d.conversations.Get)
				r.Patch("/", d.conversations.Update)
				r.Delete("/", d.conversations.Delete)
				r.Post("/archive", d.conversations.Archive)
				r.Post("/reopen", d.conversations.Reopen)
				r.Post("/read", d.conversations.MarkRead)

				// Messages
				r.Get("/messages", d.messages.List)
				r.Post("/messages", d.messages.Send)

				r.With(middleware.SharedLimit(d.suggestionLimiter, "suggestion")).
					Post("/suggestions", d.suggestions.Suggest)

				// Streaming
				r.Get("/stream", d.stream.Stream)
			})
		})

		r.Post("/messages/{messageID}/retry", d.messages.Retry)
	})

	return r
}
