package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/config"
	"github.com/capitalize-ai/unified-inbox/internal/llm"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/platform"
	"github.com/capitalize-ai/unified-inbox/internal/store"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

const tenantID = "tenant-1"

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fixedClock { return &fixedClock{now: base} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeProvider records calls and returns scripted results.
type fakeProvider struct {
	channel model.Channel

	mu         sync.Mutex
	refreshErr error
	refreshTTL time.Duration
	rotate     bool
	sendErr    error
	sent       []platform.SendRequest
	refreshed  []string
	gate       chan struct{}

	refreshCalls atomic.Int32
}

func (p *fakeProvider) Channel() model.Channel { return p.channel }

func (p *fakeProvider) RefreshToken(_ context.Context, token string) (platform.TokenGrant, error) {
	n := p.refreshCalls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, token)
	if p.refreshErr != nil {
		return platform.TokenGrant{}, p.refreshErr
	}
	ttl := p.refreshTTL
	if ttl == 0 {
		ttl = 60 * 24 * time.Hour
	}
	grant := platform.TokenGrant{AccessToken: fmt.Sprintf("%s-refreshed-%d", token, n), ExpiresIn: ttl}
	if p.rotate {
		grant.RefreshToken = fmt.Sprintf("refresh-%d", n+1)
	}
	return grant, nil
}

func (p *fakeProvider) Send(_ context.Context, req platform.SendRequest) (platform.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	if p.sendErr != nil {
		return platform.SendResult{}, p.sendErr
	}
	return platform.SendResult{ExternalID: fmt.Sprintf("ext-%d", len(p.sent))}, nil
}

func (p *fakeProvider) setSendErr(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

func (p *fakeProvider) sends() []platform.SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.SendRequest(nil), p.sent...)
}

// derivedProvider derives page tokens from a user token and supports the
// OAuth consent flow.
type derivedProvider struct {
	*fakeProvider
	accounts  []platform.Account
	listToken string
	code      string
}

func (p *derivedProvider) ListAccounts(_ context.Context, userToken string) ([]platform.Account, error) {
	p.mu.Lock()
	p.listToken = userToken
	p.mu.Unlock()
	return p.accounts, nil
}

func (p *derivedProvider) AuthorizeURL(state, redirectURI string) string {
	return "https://consent.example/dialog?state=" + state + "&redirect_uri=" + redirectURI
}

func (p *derivedProvider) ExchangeCode(_ context.Context, code, _ string) (platform.TokenGrant, error) {
	p.code = code
	return platform.TokenGrant{AccessToken: "short-user-token", ExpiresIn: time.Hour}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.InboxEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e *model.InboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeLLM struct {
	reply string
	err   error
	last  *llm.CompletionRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

func newStore(t *testing.T) *store.GormStore {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "inbox.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// env wires every service against one store.
type env struct {
	store         *store.GormStore
	clock         *fixedClock
	events        *recordingPublisher
	email         *fakeProvider
	instagram     *derivedProvider
	tokens        *TokenManager
	usage         *UsageMeter
	ingest        *IngestionRouter
	dispatcher    *MessageDispatcher
	conversations *ConversationService
	messages      *MessageService
	channels      *ChannelService
}

func newEnv(t *testing.T, tiers config.Tiers) *env {
	t.Helper()
	log := logger.NewNop()
	e := &env{
		store:     newStore(t),
		clock:     newClock(),
		events:    &recordingPublisher{},
		email:     &fakeProvider{channel: model.ChannelEmail},
		instagram: &derivedProvider{fakeProvider: &fakeProvider{channel: model.ChannelInstagram}},
	}
	registry := platform.NewRegistry(e.email, e.instagram)
	e.tokens = NewTokenManager(e.store, registry, log, WithClock(e.clock))
	e.usage = NewUsageMeter(e.store, tiers, e.clock, log)
	e.ingest = NewIngestionRouter(e.store, e.store, e.usage, e.events, e.clock, log)
	e.dispatcher = NewMessageDispatcher(e.store, e.store, e.store, e.tokens, registry, e.events, e.clock, log)
	e.conversations = NewConversationService(e.store, e.clock, log)
	e.messages = NewMessageService(e.store, e.store, e.dispatcher, e.clock, log)
	e.channels = NewChannelService(e.store, registry, "state-secret", "https://inbox.example/", e.clock, log)
	return e
}

func (e *env) connectEmail(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.UpsertCredential(context.Background(), &model.Credential{
		TenantID:          tenantID,
		Platform:          model.ChannelEmail,
		ExternalAccountID: "support@shop.example",
		AccessToken:       "api-key",
		Active:            true,
	}))
}

func inbound(identity, content, externalID string) model.InboundMessage {
	return model.InboundMessage{
		TenantID:          tenantID,
		Channel:           model.ChannelEmail,
		CustomerIdentity:  identity,
		CustomerName:      "Ada",
		Content:           content,
		Subject:           "Order status",
		ExternalMessageID: externalID,
	}
}

func smallTiers(conversations, suggestions int64) config.Tiers {
	return config.Tiers{
		Default: "free",
		Plans: map[string]config.Tier{
			"free": {AISuggestionsPerDay: suggestions, ConversationsPerMonth: conversations},
		},
	}
}
