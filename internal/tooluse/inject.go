// Package tooluse makes OpenAI tool calling work against backends that do
// not natively support it. On the way in it folds tool definitions into the
// system prompt and rewrites messages the backend would reject; on the way
// out it recovers tool-call JSON from plain assistant text and reshapes the
// response into OpenAI tool_calls form.
package tooluse

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// strippedFields are request fields the backends reject as unknown.
var strippedFields = []string{"tools", "tool_choice", "parallel_tool_calls", "stream_options"}

// Active reports whether the request carries a non-empty tools array.
func Active(rawJSON []byte) bool {
	tools := gjson.GetBytes(rawJSON, "tools")
	return tools.IsArray() && len(tools.Array()) > 0
}

// InjectTools rewrites a tool-bearing chat request into the plain-text form
// the backend accepts:
//
//   - a tool-prompt block is merged into the system message (or prepended as
//     a new one),
//   - role=tool results are rewritten as role=user wrappers carrying the
//     tool_call_id,
//   - assistant messages whose content lives in tool_calls are flattened to
//     the JSON envelope the model was taught to emit,
//   - tools, tool_choice, parallel_tool_calls, and stream_options are
//     stripped.
//
// Requests without tools are returned untouched, byte for byte.
func InjectTools(rawJSON []byte) ([]byte, error) {
	if !Active(rawJSON) {
		return rawJSON, nil
	}

	prompt := buildToolPrompt(gjson.GetBytes(rawJSON, "tools"))

	out := string(rawJSON)
	messages := gjson.GetBytes(rawJSON, "messages").Array()

	// Walk backwards so index-based rewrites stay stable.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		switch msg.Get("role").String() {
		case "tool":
			rewritten, err := rewriteToolResult(msg)
			if err != nil {
				return nil, err
			}
			out, err = sjson.SetRaw(out, fmt.Sprintf("messages.%d", i), rewritten)
			if err != nil {
				return nil, err
			}
		case "assistant":
			if msg.Get("tool_calls").IsArray() {
				rewritten, err := rewriteAssistantToolCalls(msg)
				if err != nil {
					return nil, err
				}
				out, err = sjson.SetRaw(out, fmt.Sprintf("messages.%d", i), rewritten)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	var err error
	if len(messages) > 0 && messages[0].Get("role").String() == "system" {
		merged := messages[0].Get("content").String() + "\n\n" + prompt
		out, err = sjson.Set(out, "messages.0.content", merged)
	} else {
		systemMsg := `{"role":"system","content":""}`
		systemMsg, _ = sjson.Set(systemMsg, "content", prompt)
		out, err = prependMessage(out, systemMsg)
	}
	if err != nil {
		return nil, err
	}

	for _, field := range strippedFields {
		out, _ = sjson.Delete(out, field)
	}
	return []byte(out), nil
}

// prependMessage inserts a message at the front of the messages array.
func prependMessage(out, msg string) (string, error) {
	existing := gjson.Get(out, "messages")
	rebuilt := "[" + msg
	existing.ForEach(func(_, m gjson.Result) bool {
		rebuilt += "," + m.Raw
		return true
	})
	rebuilt += "]"
	return sjson.SetRaw(out, "messages", rebuilt)
}

// rewriteToolResult converts a role=tool message into a role=user wrapper the
// backend will accept, keeping the tool_call_id visible so the model can line
// the result up with its earlier call.
func rewriteToolResult(msg gjson.Result) (string, error) {
	callID := msg.Get("tool_call_id").String()
	content := msg.Get("content").String()

	wrapper := fmt.Sprintf("Tool result for %s:\n%s", callID, content)
	out := `{"role":"user","content":""}`
	return sjson.Set(out, "content", wrapper)
}

// rewriteAssistantToolCalls flattens an assistant tool_calls message back
// into the JSON envelope format, so the model sees its own earlier calls the
// same way it emitted them.
func rewriteAssistantToolCalls(msg gjson.Result) (string, error) {
	envelope := `{"tool_calls":[]}`
	envelope, err := sjson.SetRaw(envelope, "tool_calls", msg.Get("tool_calls").Raw)
	if err != nil {
		return "", err
	}

	content := envelope
	if text := msg.Get("content").String(); text != "" {
		content = text + "\n" + envelope
	}
	out := `{"role":"assistant","content":""}`
	return sjson.Set(out, "content", content)
}

// buildToolPrompt renders the tool definitions and calling instructions that
// get folded into the system prompt.
func buildToolPrompt(tools gjson.Result) string {
	var b strings.Builder
	b.WriteString("# Available tools\n\n")
	b.WriteString("You have access to the following functions:\n\n")

	tools.ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		b.WriteString("## " + fn.Get("name").String() + "\n")
		if desc := fn.Get("description").String(); desc != "" {
			b.WriteString(desc + "\n")
		}
		if params := fn.Get("parameters"); params.Exists() {
			b.WriteString("Parameters (JSON Schema): " + params.Raw + "\n")
		}
		b.WriteString("\n")
		return true
	})

	b.WriteString("To call a function, respond with ONLY a single JSON object of this exact shape:\n")
	b.WriteString("```json\n")
	b.WriteString(`{"tool_calls":[{"id":"call_<unique id>","type":"function","function":{"name":"<function name>","arguments":"<JSON-encoded string of arguments>"}}]}` + "\n")
	b.WriteString("```\n")
	b.WriteString("The \"arguments\" value must be a JSON-encoded string, not a nested object.\n")
	b.WriteString("If no function call is needed, respond normally.")
	return b.String()
}
