package validate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatRequest_Valid(t *testing.T) {
	err := ChatRequest([]byte(`{
		"model": "llama-3.1-8b-instruct",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"}
		],
		"temperature": 0.7,
		"top_p": 0.9,
		"max_tokens": 256
	}`))
	require.Nil(t, err)
}

func TestChatRequest_UnknownFieldsAccepted(t *testing.T) {
	err := ChatRequest([]byte(`{
		"model": "m",
		"messages": [{"role": "user", "content": "hi"}],
		"some_future_field": {"nested": true}
	}`))
	require.Nil(t, err)
}

func TestChatRequest_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{"model": `, "invalid_request"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "invalid_request"},
		{"missing messages", `{"model":"m"}`, "invalid_request"},
		{"empty messages", `{"model":"m","messages":[]}`, "invalid_request"},
		{"unknown role", `{"model":"m","messages":[{"role":"robot","content":"hi"}]}`, "invalid_request"},
		{"temperature too high", `{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":2.5}`, "invalid_request"},
		{"temperature negative", `{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":-0.1}`, "invalid_request"},
		{"top_p too high", `{"model":"m","messages":[{"role":"user","content":"hi"}],"top_p":1.5}`, "invalid_request"},
		{"max_tokens zero", `{"model":"m","messages":[{"role":"user","content":"hi"}],"max_tokens":0}`, "invalid_request"},
		{"bad tool_choice string", `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":"maybe"}`, "invalid_request"},
		{"bad tool_choice object", `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":{"type":"function"}}`, "invalid_request"},
		{"tool_choice wrong type", `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":42}`, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ChatRequest([]byte(tc.body))
			require.NotNil(t, err)
			require.Equal(t, tc.code, err.Code)
		})
	}
}

func TestChatRequest_ToolChoiceAccepted(t *testing.T) {
	base := `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":`
	for _, choice := range []string{`"none"`, `"auto"`, `"required"`, `{"type":"function","function":{"name":"f"}}`} {
		err := ChatRequest([]byte(base + choice + `}`))
		require.Nil(t, err, "tool_choice %s", choice)
	}
}

func TestChatRequest_ToolMessageReferences(t *testing.T) {
	t.Run("matching id accepted", func(t *testing.T) {
		err := ChatRequest([]byte(`{
			"model": "m",
			"messages": [
				{"role": "user", "content": "weather?"},
				{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{}"}}]},
				{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
			]
		}`))
		require.Nil(t, err)
	})

	t.Run("dangling id rejected", func(t *testing.T) {
		err := ChatRequest([]byte(`{
			"model": "m",
			"messages": [
				{"role": "user", "content": "weather?"},
				{"role": "tool", "tool_call_id": "call_unknown", "content": "sunny"}
			]
		}`))
		require.NotNil(t, err)
		require.Equal(t, "invalid_tool_message", err.Code)
	})

	t.Run("missing tool_call_id rejected", func(t *testing.T) {
		err := ChatRequest([]byte(`{
			"model": "m",
			"messages": [{"role": "tool", "content": "sunny"}]
		}`))
		require.NotNil(t, err)
		require.Equal(t, "invalid_tool_message", err.Code)
	})

	t.Run("id emitted after reference rejected", func(t *testing.T) {
		err := ChatRequest([]byte(`{
			"model": "m",
			"messages": [
				{"role": "tool", "tool_call_id": "call_1", "content": "sunny"},
				{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{}"}}]}
			]
		}`))
		require.NotNil(t, err)
		require.Equal(t, "invalid_tool_message", err.Code)
	})
}

func TestCompletionRequest(t *testing.T) {
	require.Nil(t, CompletionRequest([]byte(`{"model":"m","prompt":"once upon"}`)))

	err := CompletionRequest([]byte(`{"prompt":"once upon"}`))
	require.NotNil(t, err)
	require.Equal(t, "invalid_request", err.Code)

	err = CompletionRequest([]byte(`{"model":"m","temperature":3}`))
	require.NotNil(t, err)
}
