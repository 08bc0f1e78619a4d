package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestArchiveAndReopen(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	ctx := context.Background()
	conv := openConversation(t, e)

	_, err := e.conversations.Archive(ctx, tenantID, conv.ID, "closed")
	assert.ErrorIs(t, err, ErrInvalidInput)

	archived, err := e.conversations.Archive(ctx, tenantID, conv.ID, model.ArchiveTypeArchived)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)

	list, err := e.conversations.ListArchived(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	reopened, err := e.conversations.Reopen(ctx, tenantID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationOpen, reopened.Status)

	// A newer active conversation for the same customer blocks reopening.
	_, err = e.conversations.Archive(ctx, tenantID, conv.ID, model.ArchiveTypeResolved)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.ingest.Ingest(ctx, inbound("ada@example.com", "new question", "m-9"))
	require.NoError(t, err)

	_, err = e.conversations.Reopen(ctx, tenantID, conv.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListOpenOrdersByActivity(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	ctx := context.Background()

	first, err := e.ingest.Ingest(ctx, inbound("ada@example.com", "hi", "m-1"))
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	second, err := e.ingest.Ingest(ctx, inbound("bob@example.com", "hi", "m-2"))
	require.NoError(t, err)

	list, err := e.conversations.ListOpen(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, second.ConversationID, list.Conversations[0].ID)
	assert.Equal(t, first.ConversationID, list.Conversations[1].ID)

	empty, err := e.conversations.ListOpen(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty.Conversations)
	assert.Zero(t, empty.Total)
}

func TestUpdateNotesTagsAndRead(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	ctx := context.Background()
	conv := openConversation(t, e)

	notes := "VIP customer"
	updated, err := e.conversations.Update(ctx, tenantID, conv.ID, &model.UpdateConversationRequest{
		Notes: &notes,
		Tags:  []string{" Shipping ", "shipping", "Refund", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "VIP customer", updated.Notes)
	assert.Equal(t, []string{"shipping", "refund"}, updated.Tags)

	require.NoError(t, e.conversations.MarkRead(ctx, tenantID, conv.ID))
	got, err := e.conversations.Get(ctx, tenantID, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)

	tooMany := make([]string, maxTags+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a' + i))
	}
	assert.ErrorIs(t, e.conversations.UpdateTags(ctx, tenantID, conv.ID, tooMany), ErrInvalidInput)
	assert.ErrorIs(t, e.conversations.MarkRead(ctx, tenantID, "missing"), ErrNotFound)
}

func TestDeleteConversation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, smallTiers(5, 5))
	ctx := context.Background()
	conv := openConversation(t, e)

	require.NoError(t, e.conversations.Delete(ctx, tenantID, conv.ID))
	_, err := e.conversations.Get(ctx, tenantID, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.messages.List(ctx, tenantID, conv.ID, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.conversations.Delete(ctx, tenantID, conv.ID), ErrNotFound)
}
