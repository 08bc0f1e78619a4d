package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/internal/config"
	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
	"github.com/capitalize-ai/unified-inbox/pkg/metrics"
)

// UsageMeter enforces per tenant quotas. Counters reset lazily when read
// after their window ends.
type UsageMeter struct {
	tenants TenantStore
	tiers   config.Tiers
	clock   Clock
	logger  *logger.Logger
}

// NewUsageMeter creates a usage meter.
func NewUsageMeter(tenants TenantStore, tiers config.Tiers, clock Clock, log *logger.Logger) *UsageMeter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &UsageMeter{tenants: tenants, tiers: tiers, clock: clock, logger: log.Named("usage")}
}

// NextReset returns the end of the window containing now: the next UTC
// midnight for AI suggestions and the first of the next month for
// conversations.
func NextReset(r model.Resource, now time.Time) time.Time {
	now = now.UTC()
	if r == model.ResourceAISuggestion {
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Status returns the quota state of r, resetting an elapsed window first.
func (u *UsageMeter) Status(ctx context.Context, tenantID string, r model.Resource) (model.UsageStatus, error) {
	t, err := u.tenant(ctx, tenantID)
	if err != nil {
		return model.UsageStatus{}, err
	}

	now := u.clock.Now()
	if _, resetAt := t.Counter(r); !now.Before(resetAt) {
		applied, err := u.tenants.ResetUsage(ctx, tenantID, r, NextReset(r, now))
		if err != nil {
			return model.UsageStatus{}, err
		}
		if applied {
			metrics.UsageResetsTotal.WithLabelValues(string(r)).Inc()
			u.logger.Debug("usage window reset", zap.String("tenant_id", tenantID), zap.String("resource", string(r)))
		}
		if t, err = u.tenants.GetTenant(ctx, tenantID); err != nil {
			return model.UsageStatus{}, err
		}
	}
	return u.status(t, r), nil
}

// Snapshot returns the state of every metered resource.
func (u *UsageMeter) Snapshot(ctx context.Context, tenantID string) (*model.UsageSnapshot, error) {
	ai, err := u.Status(ctx, tenantID, model.ResourceAISuggestion)
	if err != nil {
		return nil, err
	}
	conv, err := u.Status(ctx, tenantID, model.ResourceConversation)
	if err != nil {
		return nil, err
	}
	return &model.UsageSnapshot{TenantID: tenantID, AISuggestions: ai, Conversations: conv}, nil
}

// TryIncrement consumes one unit of r if the quota allows it.
func (u *UsageMeter) TryIncrement(ctx context.Context, tenantID string, r model.Resource) (bool, error) {
	_, err := u.Reserve(ctx, tenantID, r)
	if errors.Is(err, ErrQuotaExceeded) {
		return false, nil
	}
	return err == nil, err
}

// Reserve consumes one unit of r and returns the resulting status, or a
// *QuotaExceededError. The increment is conditional on the stored count, so
// concurrent callers never push a bounded counter past its limit.
func (u *UsageMeter) Reserve(ctx context.Context, tenantID string, r model.Resource) (model.UsageStatus, error) {
	st, err := u.Status(ctx, tenantID, r)
	if err != nil {
		return st, err
	}
	if !st.CanUse {
		return st, u.denied(tenantID, st)
	}

	ok, err := u.tenants.IncrementUsage(ctx, tenantID, r, st.Limit)
	if err != nil {
		return st, err
	}
	if !ok {
		// Lost the race for the last unit.
		st.Used, st.Remaining, st.CanUse = st.Limit, 0, false
		return st, u.denied(tenantID, st)
	}

	st.Used++
	if st.Limit != model.Unlimited {
		st.Remaining = max(st.Limit-st.Used, 0)
		st.CanUse = st.Used < st.Limit
	}
	return st, nil
}

// Release returns a reserved unit that was not consumed.
func (u *UsageMeter) Release(ctx context.Context, tenantID string, r model.Resource) error {
	if err := u.tenants.DecrementUsage(ctx, tenantID, r); err != nil {
		return fmt.Errorf("release %s: %w", r, err)
	}
	return nil
}

func (u *UsageMeter) denied(tenantID string, st model.UsageStatus) error {
	metrics.QuotaDenialsTotal.WithLabelValues(string(st.Resource)).Inc()
	u.logger.Info("quota exceeded",
		zap.String("tenant_id", tenantID),
		zap.String("resource", string(st.Resource)),
		zap.Int64("used", st.Used),
		zap.Int64("limit", st.Limit),
	)
	return &QuotaExceededError{Status: st}
}

func (u *UsageMeter) status(t *model.Tenant, r model.Resource) model.UsageStatus {
	plan, tier := u.tiers.Resolve(t.Plan)
	used, resetAt := t.Counter(r)
	st := model.UsageStatus{Resource: r, Plan: plan, Used: used, ResetAt: resetAt}

	limit := tier.Limit(r)
	if limit == model.Unlimited {
		st.Limit, st.Remaining, st.CanUse = model.Unlimited, model.Unlimited, true
		return st
	}
	st.Limit = limit
	st.Remaining = max(limit-used, 0)
	st.CanUse = used < limit
	return st
}

// tenant loads a tenant, provisioning it on the default plan on first use.
func (u *UsageMeter) tenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := u.tenants.GetTenant(ctx, id)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := u.clock.Now()
	err = u.tenants.CreateTenant(ctx, &model.Tenant{
		ID:                   id,
		Plan:                 u.tiers.Default,
		AISuggestionsResetAt: NextReset(model.ResourceAISuggestion, now),
		ConversationsResetAt: NextReset(model.ResourceConversation, now),
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("provision tenant: %w", err)
	}
	u.logger.Info("tenant provisioned", zap.String("tenant_id", id), zap.String("plan", u.tiers.Default))
	return u.tenants.GetTenant(ctx, id)
}
