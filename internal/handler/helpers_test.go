package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/config"
	"github.com/capitalize-ai/unified-inbox/internal/llm"
	"github.com/capitalize-ai/unified-inbox/internal/middleware"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/internal/store"
	"github.com/capitalize-ai/unified-inbox/internal/webhook"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const (
	tenantID     = "tenant-1"
	jwtSecret    = "jwt-secret"
	emailSecret  = "email-secret"
	metaSecret   = "meta-secret"
	verifyToken  = "verify-me"
	supportInbox = "support@shop.example"
)

type emailProvider struct {
	mu      sync.Mutex
	sendErr error
	sent    []platform.SendRequest
}

func (p *emailProvider) Channel() model.Channel { return model.ChannelEmail }

func (p *emailProvider) RefreshToken(context.Context, string) (platform.TokenGrant, error) {
	return platform.TokenGrant{}, platform.ErrUnsupported
}

func (p *emailProvider) Send(_ context.Context, req platform.SendRequest) (platform.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	if p.sendErr != nil {
		return platform.SendResult{}, p.sendErr
	}
	return platform.SendResult{ExternalID: fmt.Sprintf("ext-%d", len(p.sent))}, nil
}

// oauthProvider is a consent-screen channel.
type oauthProvider struct{}

func (oauthProvider) Channel() model.Channel { return model.ChannelTikTok }

func (oauthProvider) RefreshToken(context.Context, string) (platform.TokenGrant, error) {
	return platform.TokenGrant{AccessToken: "tt-refreshed", ExpiresIn: 24 * time.Hour}, nil
}

func (oauthProvider) Send(context.Context, platform.SendRequest) (platform.SendResult, error) {
	return platform.SendResult{ExternalID: "tt-msg"}, nil
}

func (oauthProvider) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}}
	return "https://consent.example/authorize?" + q.Encode()
}

func (oauthProvider) ExchangeCode(_ context.Context, code, _ string) (platform.TokenGrant, error) {
	return platform.TokenGrant{AccessToken: "tt-" + code, ExpiresIn: 24 * time.Hour, AccountID: "tt-business-1", RefreshToken: "tt-refresh-" + code}, nil
}

type stubLLM struct{ reply string }

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: s.reply}, nil
}

// liveEvents hands a prepared channel to stream subscribers.
type liveEvents struct {
	events chan *model.InboxEvent
	filter string
}

func (l *liveEvents) SubscribeConversation(_ context.Context, tenantID, conversationID string) (<-chan *model.InboxEvent, func(), error) {
	l.filter = tenantID + "/" + conversationID
	return l.events, func() {}, nil
}

// testAPI serves the API routes over real services on a SQLite store.
type testAPI struct {
	store  *store.GormStore
	email  *emailProvider
	live   *liveEvents
	ingest *service.IngestionRouter
	router chi.Router
}

func newTestAPI(t *testing.T, tiers config.Tiers, client llm.Client) *testAPI {
	t.Helper()
	log := logger.NewNop()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "inbox.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	api := &testAPI{
		store: st,
		email: &emailProvider{},
		live:  &liveEvents{events: make(chan *model.InboxEvent, 4)},
	}
	clock := service.SystemClock{}
	registry := platform.NewRegistry(api.email, oauthProvider{})
	usage := service.NewUsageMeter(st, tiers, clock, log)
	tokens := service.NewTokenManager(st, registry, log)
	dispatcher := service.NewMessageDispatcher(st, st, st, tokens, registry, nil, clock, log)
	api.ingest = service.NewIngestionRouter(st, st, usage, nil, clock, log)
	messages := service.NewMessageService(st, st, dispatcher, clock, log)

	conversations := NewConversationHandler(service.NewConversationService(st, clock, log), log)
	msgs := NewMessageHandler(messages, log)
	stream := NewStreamHandler(messages, api.live, log)
	suggestions := NewSuggestionHandler(service.NewSuggestionService(st, st, usage, client, log), log)
	usageHandler := NewUsageHandler(usage, log)
	channels := NewChannelHandler(service.NewChannelService(st, registry, "state-secret", "https://inbox.example", clock, log), log)
	webhooks := NewWebhookHandler(st, api.ingest, nil, WebhookSecrets{
		MetaAppSecret:   metaSecret,
		MetaVerifyToken: verifyToken,
		EmailSecret:     emailSecret,
	}, log)

	r := chi.NewRouter()
	r.Get("/webhooks/meta", webhooks.MetaVerify)
	r.Post("/webhooks/meta", webhooks.Meta)
	r.Post("/webhooks/email", webhooks.Email)
	r.Get("/oauth/{channel}/callback", channels.Callback)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret))
		r.Get("/usage", usageHandler.Get)
		r.Get("/channels", channels.List)
		r.Post("/channels/{channel}/authorize", channels.Authorize)
		r.Post("/channels/{channel}/connect", channels.Connect)
		r.Delete("/channels/{channel}", channels.Disconnect)
		r.Get("/conversations", conversations.List)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", conversations.Get)
			r.Patch("/", conversations.Update)
			r.Delete("/", conversations.Delete)
			r.Post("/archive", conversations.Archive)
			r.Post("/reopen", conversations.Reopen)
			r.Post("/read", conversations.MarkRead)
			r.Get("/messages", msgs.List)
			r.Post("/messages", msgs.Send)
			r.Post("/suggestions", suggestions.Suggest)
			r.Get("/stream", stream.Stream)
		})
		r.Post("/messages/{messageID}/retry", msgs.Retry)
	})
	api.router = r
	return api
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

// do sends an authenticated request with an optional JSON body.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) connectEmail(t *testing.T) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/channels/email/connect", model.ConnectTokenRequest{
		AccountID:   supportInbox,
		AccessToken: "api-key",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// receiveEmail posts a signed inbound email and returns the response.
func (a *testAPI) receiveEmail(t *testing.T, from, text, messageID string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"from":       from,
		"to":         supportInbox,
		"subject":    "Order status",
		"text":       text,
		"message_id": messageID,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", webhook.SignatureFor(emailSecret, body))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// openConversation ingests one email and returns its conversation.
func (a *testAPI) openConversation(t *testing.T) model.Conversation {
	t.Helper()
	res, err := a.ingest.Ingest(context.Background(), model.InboundMessage{
		TenantID:          tenantID,
		Channel:           model.ChannelEmail,
		CustomerIdentity:  "ada@example.com",
		CustomerName:      "Ada",
		Subject:           "Order status",
		Content:           "Where is my order?",
		ExternalMessageID: "m-1",
	})
	require.NoError(t, err)
	conv, err := a.store.GetConversation(context.Background(), tenantID, res.ConversationID)
	require.NoError(t, err)
	return *conv
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func tiers(conversations, suggestions int64) config.Tiers {
	return config.Tiers{
		Default: "free",
		Plans: map[string]config.Tier{
			"free": {ConversationsPerMonth: conversations, AISuggestionsPerDay: suggestions},
		},
	}
}
