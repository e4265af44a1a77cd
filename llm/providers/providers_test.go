package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowdraft/llm"
)

func TestOpenAIBuildURL(t *testing.T) {
	p := &OpenAIProvider{}

	tests := []struct {
		base string
		want string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/v1/", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/v1/chat/completions", "http://localhost:11434/v1/chat/completions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.BuildURL(tt.base), "base %q", tt.base)
	}
}

func TestOpenAIBuildRequestBody(t *testing.T) {
	p := &OpenAIProvider{}
	temp := 0.7

	body, err := p.BuildRequestBody("gpt-4o-mini", []llm.Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "hi"},
	}, &temp, 2048)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "gpt-4o-mini", req["model"])
	assert.Len(t, req["messages"], 2)
	assert.Equal(t, 0.7, req["temperature"])
	assert.Equal(t, float64(2048), req["max_tokens"])

	// Zero max tokens and nil temperature are omitted
	body, err = p.BuildRequestBody("m", []llm.Message{{Role: "user", Content: "hi"}}, nil, 0)
	require.NoError(t, err)
	var bare map[string]any
	require.NoError(t, json.Unmarshal(body, &bare))
	assert.NotContains(t, bare, "temperature")
	assert.NotContains(t, bare, "max_tokens")
}

func TestOpenAIParseResponse(t *testing.T) {
	p := &OpenAIProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`), "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)

	_, err = p.ParseResponse([]byte(`{"choices": []}`), "m")
	assert.Error(t, err)

	_, err = p.ParseResponse([]byte(`not json`), "m")
	assert.Error(t, err)
}

func TestAnthropicBuildURL(t *testing.T) {
	p := &AnthropicProvider{}

	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.BuildURL(""))
	assert.Equal(t, "https://proxy.internal/v1/messages", p.BuildURL("https://proxy.internal/v1/"))
	assert.Equal(t, "https://proxy.internal/v1/messages", p.BuildURL("https://proxy.internal/v1/messages"))
}

func TestAnthropicBuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	body, err := p.BuildRequestBody("claude-sonnet-4", []llm.Message{
		{Role: "system", Content: "Rules part one."},
		{Role: "system", Content: "Rules part two."},
		{Role: "user", Content: "hi"},
	}, nil, 0)
	require.NoError(t, err)

	var req struct {
		System    string `json:"system"`
		Messages  []any  `json:"messages"`
		MaxTokens int    `json:"max_tokens"`
	}
	require.NoError(t, json.Unmarshal(body, &req))

	// System prompts move out of the message list into the system field
	assert.Equal(t, "Rules part one.\n\nRules part two.", req.System)
	assert.Len(t, req.Messages, 1)

	// max_tokens is mandatory for the Messages API, so a default is filled in
	assert.Equal(t, defaultAnthropicMaxTokens, req.MaxTokens)

	_, err = p.BuildRequestBody("m", []llm.Message{{Role: "system", Content: "only system"}}, nil, 0)
	assert.Error(t, err, "system-only conversations have no sendable messages")
}

func TestAnthropicParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"id": "msg-1",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "text", "text": "part one "},
			{"type": "tool_use", "text": "ignored"},
			{"type": "text", "text": "part two"}
		],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 20, "output_tokens": 10}
	}`), "claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, 30, resp.TokensUsed)
	assert.Equal(t, "end_turn", resp.FinishReason)

	_, err = p.ParseResponse([]byte(`{"content": []}`), "m")
	assert.Error(t, err)
}

func TestProvidersRegistered(t *testing.T) {
	for _, name := range []string{"openai", "anthropic"} {
		p := llm.GetProvider(name)
		require.NotNil(t, p, name)
		assert.Equal(t, name, p.Name())
	}
}
