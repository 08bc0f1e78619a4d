package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var body openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, body.Messages[0].Role)
		assert.Equal(t, "be brief", body.Messages[0].Content)
		assert.Equal(t, RoleUser, body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Thanks for reaching out!"},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 5},
		})
	}))
	defer server.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL
	client := NewOpenAIClientWithConfig(cfg)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		System:   "be brief",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for reaching out!", resp.Content)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewClient("mistral", "key")
	assert.Error(t, err)

	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)
}
