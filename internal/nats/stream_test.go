package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

func TestSubjects(t *testing.T) {
	t.Parallel()

	event := &model.InboxEvent{TenantID: "acme", ConversationID: "c-1", Type: model.EventMessageReceived}
	assert.Equal(t, "inbox.acme.c-1.message.received", EventSubject(event))
	assert.Equal(t, "inbox.acme.c-1.>", ConversationFilter("acme", "c-1"))
	assert.Equal(t, "inbox.acme.>", TenantFilter("acme"))
}

func TestSubjectTokensAreSanitized(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "inbox.a_b_c.x__.>", ConversationFilter("a.b*c", "x >"))
	event := &model.InboxEvent{TenantID: "t.1", ConversationID: "c", Type: model.EventMessageDelivery}
	assert.Equal(t, "inbox.t_1.c.message.delivery", EventSubject(event))
}
