package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// GetActiveCredential returns the active credential of a tenant for a platform.
func (s *GormStore) GetActiveCredential(ctx context.Context, tenantID string, platform model.Channel) (*model.Credential, error) {
	var m CredentialModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND platform = ? AND active = ?", tenantID, string(platform), true).
		Order("updated_at desc").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return s.credentialFromModel(m)
}

// GetCredential returns a credential by id regardless of its state.
func (s *GormStore) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var m CredentialModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return s.credentialFromModel(m)
}

// FindCredentialByAccount resolves the active credential that owns an upstream
// account id.
func (s *GormStore) FindCredentialByAccount(ctx context.Context, platform model.Channel, accountID string) (*model.Credential, error) {
	var m CredentialModel
	err := s.db.WithContext(ctx).
		Where("platform = ? AND external_account_id = ? AND active = ?", string(platform), accountID, true).
		Order("updated_at desc").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return s.credentialFromModel(m)
}

// UpsertCredential stores a connection keyed by tenant, platform and external
// account, and deactivates other accounts of the same platform for the tenant.
// The credential id is filled in from the stored row.
func (s *GormStore) UpsertCredential(ctx context.Context, c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	m, err := s.credentialToModel(c)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&CredentialModel{}).
			Where("tenant_id = ? AND platform = ? AND external_account_id <> ?", m.TenantID, m.Platform, m.ExternalAccountID).
			Update("active", false).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "platform"}, {Name: "external_account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token", "token_expires_at", "metadata", "active", "updated_at",
			}),
		}).Create(&m).Error; err != nil {
			return err
		}
		var stored CredentialModel
		if err := tx.Where("tenant_id = ? AND platform = ? AND external_account_id = ?", m.TenantID, m.Platform, m.ExternalAccountID).
			First(&stored).Error; err != nil {
			return err
		}
		c.ID = stored.ID
		c.CreatedAt = stored.CreatedAt
		c.UpdatedAt = stored.UpdatedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// UpdateCredentialToken replaces the token fields of a credential after a refresh.
func (s *GormStore) UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt *time.Time, meta model.CredentialMetadata) error {
	sealedToken, err := s.sealer.Seal(accessToken)
	if err != nil {
		return err
	}
	sealedMeta, err := s.sealMetadata(meta)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", id).Updates(map[string]any{
		"access_token":     sealedToken,
		"token_expires_at": utcPtr(expiresAt),
		"metadata":         sealedMeta,
	})
	if res.Error != nil {
		return fmt.Errorf("update credential token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveCredentialAccount points a credential at another upstream account, as
// when the connected page is replaced. It fails with ErrConflict when the
// tenant already has a credential for that account.
func (s *GormStore) MoveCredentialAccount(ctx context.Context, id, accountID string) error {
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", id).
		Update("external_account_id", accountID)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	if res.Error != nil {
		return fmt.Errorf("move credential account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateCredentials disconnects every account of a platform for a tenant.
// Rows are kept for audit.
func (s *GormStore) DeactivateCredentials(ctx context.Context, tenantID string, platform model.Channel) (int64, error) {
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("tenant_id = ? AND platform = ? AND active = ?", tenantID, string(platform), true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// ListCredentials returns all credentials of a tenant.
func (s *GormStore) ListCredentials(ctx context.Context, tenantID string) ([]model.Credential, error) {
	var rows []CredentialModel
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("platform, created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Credential, 0, len(rows))
	for _, row := range rows {
		c, err := s.credentialFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *GormStore) sealMetadata(meta model.CredentialMetadata) (datatypes.JSONType[credentialMetadata], error) {
	userToken, err := s.sealer.Seal(meta.UserToken)
	if err != nil {
		return datatypes.JSONType[credentialMetadata]{}, err
	}
	refreshToken, err := s.sealer.Seal(meta.RefreshToken)
	if err != nil {
		return datatypes.JSONType[credentialMetadata]{}, err
	}
	return datatypes.NewJSONType(credentialMetadata{
		UserToken:    userToken,
		RefreshToken: refreshToken,
		PageID:       meta.PageID,
		AccountName:  meta.AccountName,
	}), nil
}

func (s *GormStore) credentialToModel(c *model.Credential) (CredentialModel, error) {
	token, err := s.sealer.Seal(c.AccessToken)
	if err != nil {
		return CredentialModel{}, err
	}
	meta, err := s.sealMetadata(c.Metadata)
	if err != nil {
		return CredentialModel{}, err
	}
	return CredentialModel{
		ID:                c.ID,
		TenantID:          c.TenantID,
		Platform:          string(c.Platform),
		ExternalAccountID: c.ExternalAccountID,
		AccessToken:       token,
		TokenExpiresAt:    utcPtr(c.TokenExpiresAt),
		Metadata:          meta,
		Active:            c.Active,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}, nil
}

func (s *GormStore) credentialFromModel(m CredentialModel) (*model.Credential, error) {
	token, err := s.sealer.Open(m.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	meta := m.Metadata.Data()
	userToken, err := s.sealer.Open(meta.UserToken)
	if err != nil {
		return nil, fmt.Errorf("open user token: %w", err)
	}
	refreshToken, err := s.sealer.Open(meta.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return &model.Credential{
		ID:                m.ID,
		TenantID:          m.TenantID,
		Platform:          model.Channel(m.Platform),
		ExternalAccountID: m.ExternalAccountID,
		AccessToken:       token,
		TokenExpiresAt:    utcPtr(m.TokenExpiresAt),
		Metadata: model.CredentialMetadata{
			UserToken:    userToken,
			RefreshToken: refreshToken,
			PageID:       meta.PageID,
			AccountName:  meta.AccountName,
		},
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
