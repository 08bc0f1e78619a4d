package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

func openConversation(t *testing.T, e *env) *model.Conversation {
	t.Helper()
	res, err := e.ingest.Ingest(context.Background(), inbound("ada@example.com", "Where is my order?", "m-1"))
	require.NoError(t, err)
	conv, err := e.conversations.Get(context.Background(), tenantID, res.ConversationID)
	require.NoError(t, err)
	return conv
}

func TestReplyDelivers(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)
	ctx := context.Background()

	e.clock.Advance(time.Minute)
	msg, err := e.messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: " It shipped today. "})
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)
	assert.Equal(t, model.SenderBusiness, msg.SenderType)
	assert.Equal(t, "ext-1", msg.ExternalID)
	require.NotNil(t, msg.SentAt)

	sends := e.email.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "api-key", sends[0].AccessToken)
	assert.Equal(t, "support@shop.example", sends[0].AccountID)
	assert.Equal(t, "ada@example.com", sends[0].Recipient)
	assert.Equal(t, "It shipped today.", sends[0].Text)
	assert.Equal(t, "Re: Order status", sends[0].Subject)

	stored, err := e.store.GetMessage(ctx, tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, stored.DeliveryStatus)
	assert.Equal(t, "ext-1", stored.ExternalID)

	conv, err = e.conversations.Get(ctx, tenantID, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadCount)
	assert.True(t, conv.LastMessageAt.Equal(base.Add(time.Minute)))

	assert.Contains(t, e.events.types(), model.EventMessageDelivery)
}

func TestReplyWithoutCredentialRequiresReconnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	conv := openConversation(t, e)

	msg, err := e.messages.Reply(context.Background(), tenantID, conv.ID, &model.SendMessageRequest{Content: "hi"})
	require.ErrorIs(t, err, ErrReconnectRequired)
	require.NotNil(t, msg)
	assert.Equal(t, model.DeliveryFailed, msg.DeliveryStatus)

	stored, err := e.store.GetMessage(context.Background(), tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, stored.DeliveryStatus)
	assert.Contains(t, stored.Error, "reconnect")
	assert.Empty(t, e.email.sends())
}

func TestReplyExpiredTokenRequiresReconnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.email.refreshErr = errors.New("invalid_grant")
	require.NoError(t, e.store.UpsertCredential(context.Background(), &model.Credential{
		TenantID:          tenantID,
		Platform:          model.ChannelEmail,
		ExternalAccountID: "support@shop.example",
		AccessToken:       "expired",
		TokenExpiresAt:    timePtr(base.Add(-time.Hour)),
		Active:            true,
	}))
	conv := openConversation(t, e)

	msg, err := e.messages.Reply(context.Background(), tenantID, conv.ID, &model.SendMessageRequest{Content: "hi"})
	var reconnect *ReconnectRequiredError
	require.ErrorAs(t, err, &reconnect)
	assert.Equal(t, model.DeliveryFailed, msg.DeliveryStatus)
	assert.Empty(t, e.email.sends())
}

func TestSendFailureThenRetry(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)
	ctx := context.Background()

	e.email.setSendErr(errors.New("mailbox unavailable"))
	msg, err := e.messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: "hi"})
	var sendErr *SendFailedError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, msg.ID, sendErr.MessageID)
	assert.Equal(t, "mailbox unavailable", sendErr.Reason)
	assert.Equal(t, model.DeliveryFailed, msg.DeliveryStatus)
	require.NotNil(t, msg.FailedAt)

	e.clock.Advance(time.Minute)
	e.email.setSendErr(errors.New("still unavailable"))
	msg, err = e.messages.Retry(ctx, tenantID, msg.ID)
	require.ErrorIs(t, err, ErrSendFailed)
	stored, err := e.store.GetMessage(ctx, tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "still unavailable", stored.Error, "only the latest failure is kept")

	e.email.setSendErr(nil)
	msg, err = e.messages.Retry(ctx, tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)

	stored, err = e.store.GetMessage(ctx, tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, stored.DeliveryStatus)
	assert.Empty(t, stored.Error)
	assert.Nil(t, stored.FailedAt)
	assert.Len(t, e.email.sends(), 3)

	_, err = e.messages.Retry(ctx, tenantID, msg.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryRejectsInboundMessage(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	res, err := e.ingest.Ingest(context.Background(), inbound("ada@example.com", "hi", "m-1"))
	require.NoError(t, err)

	_, err = e.dispatcher.Retry(context.Background(), tenantID, res.MessageID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = e.dispatcher.Retry(context.Background(), tenantID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplyValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)
	ctx := context.Background()

	_, err := e.messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: "hi", SenderType: model.SenderCustomer})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.messages.Reply(ctx, "other-tenant", conv.ID, &model.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.conversations.Archive(ctx, tenantID, conv.ID, "")
	require.NoError(t, err)
	_, err = e.messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, e.email.sends())
}

func TestReplyAsAI(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)

	msg, err := e.messages.Reply(context.Background(), tenantID, conv.ID, &model.SendMessageRequest{Content: "hi", SenderType: model.SenderAI})
	require.NoError(t, err)
	assert.Equal(t, model.SenderAI, msg.SenderType)
}

func TestReplySubject(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Re: Hello", replySubject(&model.Conversation{Channel: model.ChannelEmail, Subject: "Hello"}))
	assert.Equal(t, "RE: Hello", replySubject(&model.Conversation{Channel: model.ChannelEmail, Subject: "RE: Hello"}))
	assert.Empty(t, replySubject(&model.Conversation{Channel: model.ChannelEmail}))
	assert.Empty(t, replySubject(&model.Conversation{Channel: model.ChannelTikTok, Subject: "x"}))
}

func TestSendDeliversPendingMessage(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)
	ctx := context.Background()

	pending := &model.Message{
		ID:             "msg-pending",
		ConversationID: conv.ID,
		TenantID:       tenantID,
		Channel:        conv.Channel,
		SenderType:     model.SenderBusiness,
		Content:        "Your refund is on its way.",
		DeliveryStatus: model.DeliverySending,
		CreatedAt:      base.Add(time.Minute),
	}
	_, err := e.store.AppendMessage(ctx, pending)
	require.NoError(t, err)

	msg, err := e.dispatcher.Send(ctx, tenantID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)
	require.Len(t, e.email.sends(), 1)
	assert.Equal(t, "Your refund is on its way.", e.email.sends()[0].Text)

	_, err = e.dispatcher.Send(ctx, tenantID, pending.ID)
	assert.ErrorIs(t, err, ErrConflict, "a sent message is not sent twice")
	assert.Len(t, e.email.sends(), 1)

	_, err = e.dispatcher.Send(ctx, tenantID, firstMessageID(t, e, conv.ID))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.dispatcher.Send(ctx, tenantID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func firstMessageID(t *testing.T, e *env, conversationID string) string {
	t.Helper()
	msgs, err := e.messages.List(context.Background(), tenantID, conversationID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs.Messages)
	require.Equal(t, model.SenderCustomer, msgs.Messages[0].SenderType)
	return msgs.Messages[0].ID
}

// touchFailingStore fails to update the conversation after a reply.
type touchFailingStore struct {
	ConversationStore
}

func (touchFailingStore) TouchOutbound(context.Context, string, time.Time) error {
	return errors.New("database is locked")
}

func TestReplyDeliversWhenTouchFails(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	e.connectEmail(t)
	conv := openConversation(t, e)
	ctx := context.Background()

	messages := NewMessageService(touchFailingStore{e.store}, e.store, e.dispatcher, e.clock, logger.NewNop())
	msg, err := messages.Reply(ctx, tenantID, conv.ID, &model.SendMessageRequest{Content: "On its way"})
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)

	stored, err := e.store.GetMessage(ctx, tenantID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, stored.DeliveryStatus, "never left in sending")
}
