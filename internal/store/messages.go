package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// AppendMessage inserts a message. It reports false without error when a
// message with the same upstream id was already stored.
func (s *GormStore) AppendMessage(ctx context.Context, msg *model.Message) (bool, error) {
	m := messageToModel(*msg)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("append message: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindMessageByExternalID looks up a message by its upstream id.
func (s *GormStore) FindMessageByExternalID(ctx context.Context, tenantID string, channel model.Channel, externalID string) (*model.Message, error) {
	var m MessageModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND external_id = ?", tenantID, string(channel), externalID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	msg := messageFromModel(m)
	return &msg, nil
}

// GetMessage returns a message owned by tenantID.
func (s *GormStore) GetMessage(ctx context.Context, tenantID, id string) (*model.Message, error) {
	var m MessageModel
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	msg := messageFromModel(m)
	return &msg, nil
}

// ListMessages returns the messages of a conversation in creation order.
// A positive limit keeps only the most recent ones.
func (s *GormStore) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []MessageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = messageFromModel(row)
	}
	return out, nil
}

// MarkMessageSent completes delivery of a sending message.
func (s *GormStore) MarkMessageSent(ctx context.Context, id string, at time.Time, externalID string) error {
	return s.transition(ctx, id, model.DeliverySending, map[string]any{
		"delivery_status": string(model.DeliverySent),
		"sent_at":         at.UTC(),
		"failed_at":       nil,
		"error":           "",
		"external_id":     externalID,
	})
}

// MarkMessageFailed records the latest delivery failure of a sending message.
func (s *GormStore) MarkMessageFailed(ctx context.Context, id, reason string, at time.Time) error {
	return s.transition(ctx, id, model.DeliverySending, map[string]any{
		"delivery_status": string(model.DeliveryFailed),
		"failed_at":       at.UTC(),
		"error":           reason,
	})
}

// MarkMessageSending moves a failed message back to sending for a retry.
func (s *GormStore) MarkMessageSending(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.DeliveryFailed, map[string]any{
		"delivery_status": string(model.DeliverySending),
	})
}

// transition applies updates only while the message is in status from.
func (s *GormStore) transition(ctx context.Context, id string, from model.DeliveryStatus, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND delivery_status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func messageToModel(msg model.Message) MessageModel {
	var meta datatypes.JSONMap
	if len(msg.Metadata) > 0 {
		meta = datatypes.JSONMap(msg.Metadata)
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		TenantID:       msg.TenantID,
		Channel:        string(msg.Channel),
		ExternalID:     msg.ExternalID,
		SenderType:     string(msg.SenderType),
		Content:        msg.Content,
		Metadata:       meta,
		DeliveryStatus: string(msg.DeliveryStatus),
		Error:          msg.Error,
		SentAt:         utcPtr(msg.SentAt),
		FailedAt:       utcPtr(msg.FailedAt),
		CreatedAt:      msg.CreatedAt.UTC(),
	}
}

func messageFromModel(m MessageModel) model.Message {
	var meta map[string]any
	if len(m.Metadata) > 0 {
		meta = map[string]any(m.Metadata)
	}
	return model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		TenantID:       m.TenantID,
		Channel:        model.Channel(m.Channel),
		SenderType:     model.SenderType(m.SenderType),
		Content:        m.Content,
		ExternalID:     m.ExternalID,
		Metadata:       meta,
		DeliveryStatus: model.DeliveryStatus(m.DeliveryStatus),
		Error:          m.Error,
		SentAt:         utcPtr(m.SentAt),
		FailedAt:       utcPtr(m.FailedAt),
		CreatedAt:      m.CreatedAt.UTC(),
	}
}
