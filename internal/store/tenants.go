package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func usageColumns(r model.Resource) (used, resetAt string) {
	if r == model.ResourceAISuggestion {
		return "ai_suggestions_used", "ai_suggestions_reset_at"
	}
	return "conversations_used", "conversations_reset_at"
}

// GetTenant returns the usage record of a tenant.
func (s *GormStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var m TenantModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	t := tenantFromModel(m)
	return &t, nil
}

// CreateTenant inserts a tenant record. An existing record is left untouched.
func (s *GormStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	m := tenantToModel(*t)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// ResetUsage zeroes a counter and moves its window to next. The write only
// applies while the stored reset time is still before next, so concurrent
// readers reset a window once.
func (s *GormStore) ResetUsage(ctx context.Context, tenantID string, r model.Resource, next time.Time) (bool, error) {
	used, resetAt := usageColumns(r)
	res := s.db.WithContext(ctx).Model(&TenantModel{}).
		Where("id = ? AND "+resetAt+" < ?", tenantID, next.UTC()).
		Updates(map[string]any{used: 0, resetAt: next.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("reset usage: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IncrementUsage adds one to a counter if it is below limit. A negative limit
// means unbounded. It reports whether the increment was applied.
func (s *GormStore) IncrementUsage(ctx context.Context, tenantID string, r model.Resource, limit int64) (bool, error) {
	used, _ := usageColumns(r)
	q := s.db.WithContext(ctx).Model(&TenantModel{}).Where("id = ?", tenantID)
	if limit >= 0 {
		q = q.Where(used+" < ?", limit)
	}
	res := q.Update(used, gorm.Expr(used+" + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("increment usage: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DecrementUsage gives back one unit, never going below zero.
func (s *GormStore) DecrementUsage(ctx context.Context, tenantID string, r model.Resource) error {
	used, _ := usageColumns(r)
	err := s.db.WithContext(ctx).Model(&TenantModel{}).
		Where("id = ? AND "+used+" > 0", tenantID).
		Update(used, gorm.Expr(used+" - 1")).Error
	if err != nil {
		return fmt.Errorf("decrement usage: %w", err)
	}
	return nil
}

func tenantToModel(t model.Tenant) TenantModel {
	return TenantModel{
		ID:                   t.ID,
		Plan:                 t.Plan,
		AISuggestionsUsed:    t.AISuggestionsUsed,
		AISuggestionsResetAt: t.AISuggestionsResetAt.UTC(),
		ConversationsUsed:    t.ConversationsUsed,
		ConversationsResetAt: t.ConversationsResetAt.UTC(),
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func tenantFromModel(m TenantModel) model.Tenant {
	return model.Tenant{
		ID:                   m.ID,
		Plan:                 m.Plan,
		AISuggestionsUsed:    m.AISuggestionsUsed,
		AISuggestionsResetAt: m.AISuggestionsResetAt.UTC(),
		ConversationsUsed:    m.ConversationsUsed,
		ConversationsResetAt: m.ConversationsResetAt.UTC(),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
