package handler

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/service"
	"github.com/capitalize-ai/unified-inbox/internal/webhook"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

const tiktokSignatureTolerance = 5 * time.Minute

// AccountResolver finds the credential that owns an upstream account.
type AccountResolver interface {
	FindCredentialByAccount(ctx context.Context, platform model.Channel, accountID string) (*model.Credential, error)
}

// Ingester stores inbound messages.
type Ingester interface {
	Ingest(ctx context.Context, in model.InboundMessage) (*model.IngestResult, error)
}

// AccountLimiter caps deliveries per receiving account across instances.
type AccountLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// WebhookSecrets holds the shared secrets used to verify deliveries.
type WebhookSecrets struct {
	MetaAppSecret   string
	MetaVerifyToken string
	TikTokSecret    string
	EmailSecret     string
}

// WebhookHandler receives provider webhooks.
type WebhookHandler struct {
	accounts AccountResolver
	ingester Ingester
	limiter  AccountLimiter
	secrets  WebhookSecrets
	now      func() time.Time
	logger   *logger.Logger
}

// NewWebhookHandler creates a new webhook handler. A nil limiter disables
// per account limiting.
func NewWebhookHandler(accounts AccountResolver, ingester Ingester, limiter AccountLimiter, secrets WebhookSecrets, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		accounts: accounts,
		ingester: ingester,
		limiter:  limiter,
		secrets:  secrets,
		now:      time.Now,
		logger:   log.Named("webhook"),
	}
}

// MetaVerify handles GET /webhooks/meta, the subscription handshake.
func (h *WebhookHandler) MetaVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.secrets.MetaVerifyToken == "" ||
		q.Get("hub.verify_token") != h.secrets.MetaVerifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Meta handles POST /webhooks/meta for Instagram and WhatsApp.
func (h *WebhookHandler) Meta(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "meta", func(body []byte) ([]webhook.Inbound, error) {
		if err := webhook.VerifyMeta(h.secrets.MetaAppSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			return nil, err
		}
		return webhook.ParseMeta(body)
	})
}

// TikTok handles POST /webhooks/tiktok.
func (h *WebhookHandler) TikTok(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "tiktok", func(body []byte) ([]webhook.Inbound, error) {
		err := webhook.VerifyTikTok(h.secrets.TikTokSecret, body, r.Header.Get("TikTok-Signature"), h.now(), tiktokSignatureTolerance)
		if err != nil {
			return nil, err
		}
		return webhook.ParseTikTok(body)
	})
}

// Email handles POST /webhooks/email, the inbound parse callback.
func (h *WebhookHandler) Email(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "email", func(body []byte) ([]webhook.Inbound, error) {
		if err := webhook.VerifyEmail(h.secrets.EmailSecret, body, r.Header.Get("X-Webhook-Signature")); err != nil {
			return nil, err
		}
		return webhook.ParseEmail(body)
	})
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request, provider string, parse func([]byte) ([]webhook.Inbound, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	items, err := parse(body)
	switch {
	case errors.Is(err, webhook.ErrBadSignature):
		h.logger.Warn("rejected webhook", zap.String("provider", provider), zap.Error(err))
		metrics.RecordWebhook(provider, "bad_signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		h.logger.Warn("malformed webhook", zap.String("provider", provider), zap.Error(err))
		metrics.RecordWebhook(provider, "malformed")
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if !h.allow(r.Context(), items) {
		metrics.RecordWebhook(provider, "rate_limited")
		retry := strconv.Itoa(int(math.Ceil(h.limiter.Window().Seconds())))
		w.Header().Set("Retry-After", retry)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	for _, item := range items {
		if err := h.deliver(r.Context(), provider, item); err != nil {
			logger.FromContext(r.Context(), h.logger).Error("webhook ingestion failed",
				zap.String("provider", provider),
				zap.String("account_id", item.AccountID),
				zap.Error(err),
			)
			metrics.RecordWebhook(provider, "error")
			writeError(w, http.StatusInternalServerError, "ingestion failed")
			return
		}
	}

	metrics.RecordWebhook(provider, "accepted")
	writeJSON(w, http.StatusOK, map[string]int{"received": len(items)})
}

// allow counts the delivery against every receiving account in it. Limits
// only apply to verified deliveries, so a shared egress IP never throttles
// other tenants. The limiter fails open.
func (h *WebhookHandler) allow(ctx context.Context, items []webhook.Inbound) bool {
	if h.limiter == nil {
		return true
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		key := "webhook:" + string(item.Channel) + ":" + item.AccountID
		if seen[key] {
			continue
		}
		seen[key] = true

		ok, err := h.limiter.Allow(ctx, key)
		if err != nil {
			logger.FromContext(ctx, h.logger).Warn("webhook limiter unavailable", zap.Error(err))
			return true
		}
		if !ok {
			logger.FromContext(ctx, h.logger).Warn("webhook account over rate limit",
				zap.String("channel", string(item.Channel)),
				zap.String("account_id", item.AccountID),
			)
			return false
		}
	}
	return true
}

// deliver ingests one message. Only errors worth a provider redelivery are
// returned.
func (h *WebhookHandler) deliver(ctx context.Context, provider string, item webhook.Inbound) error {
	cred, err := h.accounts.FindCredentialByAccount(ctx, item.Channel, item.AccountID)
	if errors.Is(err, service.ErrNotFound) {
		h.logger.Info("dropping message for unknown account",
			zap.String("channel", string(item.Channel)),
			zap.String("account_id", item.AccountID),
		)
		metrics.RecordWebhook(provider, "unknown_account")
		return nil
	}
	if err != nil {
		return err
	}

	in := item.Message
	in.TenantID = cred.TenantID
	in.Channel = item.Channel

	_, err = h.ingester.Ingest(ctx, in)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrQuotaExceeded):
		h.logger.Warn("inbound message over quota",
			zap.String("tenant_id", cred.TenantID),
			zap.String("channel", string(item.Channel)),
			zap.Error(err),
		)
		metrics.RecordWebhook(provider, "quota_exceeded")
		return nil
	case errors.Is(err, service.ErrInvalidInput):
		h.logger.Warn("skipping invalid inbound message",
			zap.String("tenant_id", cred.TenantID),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}
