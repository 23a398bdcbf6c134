package tooluse

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseError reports a tool call the model attempted but the gateway could
// not recover. It maps to 502 tool_parse_error.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "tool call could not be parsed: " + e.Reason
}

// extraction is the result of scanning assistant content for tool calls.
type extraction struct {
	// toolCallsRaw is the normalized tool_calls array as JSON.
	toolCallsRaw string

	// pureEnvelope is true when the content was nothing but the envelope.
	pureEnvelope bool
}

// TransformResponse rewrites a non-streaming backend chat response whose
// content carries the tool-call envelope into OpenAI tool_calls form: the
// parsed array lands on choices.0.message.tool_calls, finish_reason becomes
// "tool_calls", and content is nulled iff it was purely the envelope.
// Responses without an envelope pass through untouched.
func TransformResponse(body []byte) ([]byte, error) {
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() || content.String() == "" {
		return body, nil
	}

	result, err := extractToolCalls(content.String())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return body, nil
	}

	out := string(body)
	out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", result.toolCallsRaw)
	out, _ = sjson.Set(out, "choices.0.finish_reason", "tool_calls")
	if result.pureEnvelope {
		out, _ = sjson.SetRaw(out, "choices.0.message.content", "null")
	}
	return []byte(out), nil
}

// extractToolCalls scans assistant text for the tool-call envelope. A fenced
// ```json block is tried first, then a bare JSON object at the start of the
// content. A nil result with nil error means no tool call was attempted.
func extractToolCalls(content string) (*extraction, error) {
	trimmed := strings.TrimSpace(content)

	if inner, rest, ok := fencedJSONBlock(trimmed); ok {
		parsed := gjson.Parse(inner)
		if calls := parsed.Get("tool_calls"); calls.IsArray() {
			normalized, err := normalizeToolCalls(calls)
			if err != nil {
				return nil, err
			}
			return &extraction{toolCallsRaw: normalized, pureEnvelope: rest == ""}, nil
		}
		if strings.Contains(inner, `"tool_calls"`) && !gjson.Valid(inner) {
			return nil, &ParseError{Reason: "malformed JSON in fenced block"}
		}
		// A fenced json block without tool_calls is ordinary content.
	}

	if strings.HasPrefix(trimmed, "{") {
		prefix, rest, ok := leadingJSONObject(trimmed)
		if ok {
			parsed := gjson.Parse(prefix)
			if calls := parsed.Get("tool_calls"); calls.IsArray() {
				normalized, err := normalizeToolCalls(calls)
				if err != nil {
					return nil, err
				}
				return &extraction{toolCallsRaw: normalized, pureEnvelope: rest == ""}, nil
			}
			return nil, nil
		}
		// Unparseable leading JSON that mentions tool_calls is an attempted
		// call the model botched; surface it rather than passing garbage on.
		if strings.Contains(trimmed, `"tool_calls"`) {
			return nil, &ParseError{Reason: "malformed JSON envelope"}
		}
	}

	return nil, nil
}

// fencedJSONBlock extracts the body of a leading ```json fence. The second
// return value is whatever text surrounds the fence.
func fencedJSONBlock(content string) (inner, rest string, ok bool) {
	start := strings.Index(content, "```json")
	if start < 0 {
		start = strings.Index(content, "```")
		if start < 0 {
			return "", "", false
		}
	}
	afterFence := content[start:]
	newline := strings.Index(afterFence, "\n")
	if newline < 0 {
		return "", "", false
	}
	body := afterFence[newline+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", "", false
	}
	inner = strings.TrimSpace(body[:end])
	rest = strings.TrimSpace(content[:start] + body[end+3:])
	return inner, rest, true
}

// leadingJSONObject splits content into its leading JSON object and the
// remaining text, using the standard decoder to find the object boundary.
func leadingJSONObject(content string) (prefix, rest string, ok bool) {
	decoder := json.NewDecoder(strings.NewReader(content))
	var value json.RawMessage
	if err := decoder.Decode(&value); err != nil {
		return "", "", false
	}
	offset := decoder.InputOffset()
	return content[:offset], strings.TrimSpace(content[offset:]), true
}

// normalizeToolCalls fills in missing ids and types and forces arguments to
// be a JSON-encoded string, producing the exact shape OpenAI clients expect.
func normalizeToolCalls(calls gjson.Result) (string, error) {
	out := "[]"
	index := 0
	var callErr error
	calls.ForEach(func(_, call gjson.Result) bool {
		name := call.Get("function.name").String()
		if name == "" {
			callErr = &ParseError{Reason: "tool call missing function name"}
			return false
		}

		id := call.Get("id").String()
		if id == "" {
			id = GenerateCallID()
		}

		arguments := call.Get("function.arguments")
		argsString := arguments.String()
		if arguments.IsObject() || arguments.IsArray() {
			argsString = arguments.Raw
		}
		if argsString == "" {
			argsString = "{}"
		}

		entry := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
		entry, _ = sjson.Set(entry, "id", id)
		entry, _ = sjson.Set(entry, "function.name", name)
		entry, _ = sjson.Set(entry, "function.arguments", argsString)
		out, _ = sjson.SetRaw(out, "-1", entry)
		index++
		return true
	})
	if callErr != nil {
		return "", callErr
	}
	if index == 0 {
		return "", &ParseError{Reason: "empty tool_calls array"}
	}
	return out, nil
}

// GenerateCallID produces a call_<24-alphanum> identifier for tool calls the
// model emitted without one.
func GenerateCallID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "call_" + raw[:24]
}
