package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// FindActiveConversation returns the non-archived conversation for a customer
// on a channel.
func (s *GormStore) FindActiveConversation(ctx context.Context, tenantID string, channel model.Channel, identity string) (*model.Conversation, error) {
	var m ConversationModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND customer_identity = ? AND status <> ?",
			tenantID, string(channel), identity, string(model.ConversationArchived)).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	c := conversationFromModel(m)
	return &c, nil
}

// CreateConversation inserts a conversation. It reports false without error
// when another active conversation already holds the same customer key.
func (s *GormStore) CreateConversation(ctx context.Context, c *model.Conversation) (bool, error) {
	m := conversationToModel(*c)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("create conversation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetConversation returns a conversation owned by tenantID.
func (s *GormStore) GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	var m ConversationModel
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	c := conversationFromModel(m)
	return &c, nil
}

// ListConversations returns conversations of a tenant with the given status,
// most recent activity first.
func (s *GormStore) ListConversations(ctx context.Context, tenantID string, status model.ConversationStatus) ([]model.Conversation, error) {
	var rows []ConversationModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, string(status)).
		Order("last_message_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, conversationFromModel(row))
	}
	return out, nil
}

// TouchInbound records an inbound message on an existing conversation.
func (s *GormStore) TouchInbound(ctx context.Context, id string, at time.Time, customerName string) error {
	updates := map[string]any{
		"unread_count":    gorm.Expr("unread_count + 1"),
		"last_message_at": at.UTC(),
		"status":          string(model.ConversationOpen),
	}
	if customerName != "" {
		updates["customer_name"] = customerName
	}
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ?", id), updates)
}

// TouchOutbound records a business reply: the thread is read and recent.
func (s *GormStore) TouchOutbound(ctx context.Context, id string, at time.Time) error {
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ?", id), map[string]any{
		"unread_count":    0,
		"last_message_at": at.UTC(),
	})
}

// ArchiveConversation archives or resolves a conversation.
func (s *GormStore) ArchiveConversation(ctx context.Context, tenantID, id string, kind model.ArchiveType, at time.Time) error {
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID), map[string]any{
		"status":       string(model.ConversationArchived),
		"archive_type": string(kind),
		"archived_at":  at.UTC(),
	})
}

// ReopenConversation moves an archived conversation back to open. It fails
// with ErrConflict when the customer already has another active conversation.
func (s *GormStore) ReopenConversation(ctx context.Context, tenantID, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m ConversationModel
		if err := tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&m).Error; err != nil {
			return notFound(err)
		}
		if m.Status != string(model.ConversationArchived) {
			return nil
		}
		var active int64
		if err := tx.Model(&ConversationModel{}).
			Where("tenant_id = ? AND channel = ? AND customer_identity = ? AND status <> ?",
				m.TenantID, m.Channel, m.CustomerIdentity, string(model.ConversationArchived)).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrConflict
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":       string(model.ConversationOpen),
			"archive_type": "",
			"archived_at":  nil,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// MarkRead clears the unread counter.
func (s *GormStore) MarkRead(ctx context.Context, tenantID, id string) error {
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID), map[string]any{
		"unread_count": 0,
	})
}

// UpdateNotes replaces the free-text notes.
func (s *GormStore) UpdateNotes(ctx context.Context, tenantID, id, notes string) error {
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID), map[string]any{
		"notes": notes,
	})
}

// UpdateTags replaces the derived tags.
func (s *GormStore) UpdateTags(ctx context.Context, tenantID, id string, tags []string) error {
	return s.updateConversation(ctx, s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID), map[string]any{
		"tags": datatypes.JSONSlice[string](tags),
	})
}

// DeleteConversation removes a conversation and its messages.
func (s *GormStore) DeleteConversation(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&ConversationModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&MessageModel{}).Error
	})
}

func (s *GormStore) updateConversation(_ context.Context, q *gorm.DB, updates map[string]any) error {
	res := q.Model(&ConversationModel{}).Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func conversationToModel(c model.Conversation) ConversationModel {
	return ConversationModel{
		ID:               c.ID,
		TenantID:         c.TenantID,
		Channel:          string(c.Channel),
		CustomerIdentity: c.CustomerIdentity,
		CustomerName:     c.CustomerName,
		Subject:          c.Subject,
		Status:           string(c.Status),
		ArchiveType:      string(c.ArchiveType),
		ArchivedAt:       utcPtr(c.ArchivedAt),
		UnreadCount:      c.UnreadCount,
		LastMessageAt:    c.LastMessageAt.UTC(),
		Notes:            c.Notes,
		Tags:             datatypes.JSONSlice[string](c.Tags),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) model.Conversation {
	return model.Conversation{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Channel:          model.Channel(m.Channel),
		CustomerIdentity: m.CustomerIdentity,
		CustomerName:     m.CustomerName,
		Subject:          m.Subject,
		Status:           model.ConversationStatus(m.Status),
		ArchiveType:      model.ArchiveType(m.ArchiveType),
		ArchivedAt:       utcPtr(m.ArchivedAt),
		UnreadCount:      m.UnreadCount,
		LastMessageAt:    m.LastMessageAt.UTC(),
		Notes:            m.Notes,
		Tags:             []string(m.Tags),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
