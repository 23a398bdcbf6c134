package tooluse

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const weatherTool = `{
	"type": "function",
	"function": {
		"name": "get_weather",
		"description": "Get current weather for a city",
		"parameters": {"type": "object", "properties": {"city": {"type": "string"}}}
	}
}`

func TestActive(t *testing.T) {
	require.True(t, Active([]byte(`{"tools":[`+weatherTool+`]}`)))
	require.False(t, Active([]byte(`{"tools":[]}`)))
	require.False(t, Active([]byte(`{"model":"m"}`)))
	require.False(t, Active([]byte(`{"tools":"not-an-array"}`)))
}

func TestInjectTools_NoToolsPassthrough(t *testing.T) {
	raw := []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestInjectTools_MergesIntoExistingSystem(t *testing.T) {
	raw := []byte(`{
		"model": "m",
		"messages": [
			{"role": "system", "content": "You are helpful."},
			{"role": "user", "content": "weather in Paris?"}
		],
		"tools": [` + weatherTool + `],
		"tool_choice": "auto"
	}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)

	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 2)

	system := messages[0].Get("content").String()
	require.Contains(t, system, "You are helpful.")
	require.Contains(t, system, "get_weather")
	require.Contains(t, system, "Get current weather for a city")
	require.Contains(t, system, `"tool_calls"`)

	for _, field := range []string{"tools", "tool_choice", "parallel_tool_calls", "stream_options"} {
		require.False(t, gjson.GetBytes(out, field).Exists(), "field %s should be stripped", field)
	}
}

func TestInjectTools_PrependsSystemMessage(t *testing.T) {
	raw := []byte(`{
		"model": "m",
		"messages": [{"role": "user", "content": "weather?"}],
		"tools": [` + weatherTool + `]
	}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)

	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Get("role").String())
	require.Contains(t, messages[0].Get("content").String(), "get_weather")
	require.Equal(t, "user", messages[1].Get("role").String())
	require.Equal(t, "weather?", messages[1].Get("content").String())
}

func TestInjectTools_RewritesToolResult(t *testing.T) {
	raw := []byte(`{
		"model": "m",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "18C, sunny"}
		],
		"tools": [` + weatherTool + `]
	}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)

	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 4) // system prepended

	assistant := messages[2]
	require.Equal(t, "assistant", assistant.Get("role").String())
	require.False(t, assistant.Get("tool_calls").Exists())
	require.Contains(t, assistant.Get("content").String(), `"tool_calls"`)
	require.Contains(t, assistant.Get("content").String(), "get_weather")

	tool := messages[3]
	require.Equal(t, "user", tool.Get("role").String())
	require.Contains(t, tool.Get("content").String(), "Tool result for call_1:")
	require.Contains(t, tool.Get("content").String(), "18C, sunny")
	require.False(t, tool.Get("tool_call_id").Exists())
}

func TestInjectTools_AssistantTextWithToolCalls(t *testing.T) {
	raw := []byte(`{
		"model": "m",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": "Checking.", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{}"}}]}
		],
		"tools": [` + weatherTool + `]
	}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)

	assistant := gjson.GetBytes(out, "messages.2")
	content := assistant.Get("content").String()
	require.Contains(t, content, "Checking.")
	require.Contains(t, content, `"tool_calls"`)
}

func TestInjectTools_OtherFieldsUntouched(t *testing.T) {
	raw := []byte(`{
		"model": "m",
		"temperature": 0.7,
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [` + weatherTool + `]
	}`)
	out, err := InjectTools(raw)
	require.NoError(t, err)

	require.Equal(t, 0.7, gjson.GetBytes(out, "temperature").Float())
	require.EqualValues(t, 100, gjson.GetBytes(out, "max_tokens").Int())
	require.True(t, gjson.GetBytes(out, "stream").Bool())
	require.Equal(t, "m", gjson.GetBytes(out, "model").String())
}
