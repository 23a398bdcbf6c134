// Package validate checks incoming chat and completion requests against the
// OpenAI schema the gateway supports. Validation is deliberately forward
// compatible: unknown fields are never rejected, only the fields the gateway
// acts on are checked, and cross-message tool-call references are enforced.
package validate

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// RequestError describes a rejected request. Code lands in the OpenAI error
// envelope; the HTTP status is always 400.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// ChatRequest validates a raw chat-completion request body. It enforces:
//
//   - model is present,
//   - messages is a non-empty array of known roles,
//   - every role=tool message references a tool_call_id emitted by an
//     earlier assistant message,
//   - temperature in [0,2], top_p in [0,1], max_tokens > 0 when present,
//   - tool_choice is "none"|"auto"|"required" or a function selector.
//
// Anything else in the body passes through untouched.
func ChatRequest(rawJSON []byte) *RequestError {
	if !gjson.ValidBytes(rawJSON) {
		return &RequestError{Code: "invalid_request", Message: "request body is not valid JSON"}
	}

	if gjson.GetBytes(rawJSON, "model").String() == "" {
		return &RequestError{Code: "invalid_request", Message: "model is required"}
	}

	messages := gjson.GetBytes(rawJSON, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return &RequestError{Code: "invalid_request", Message: "messages must be a non-empty array"}
	}

	if err := validateMessages(messages); err != nil {
		return err
	}
	if err := validateSampling(rawJSON); err != nil {
		return err
	}
	return validateToolChoice(rawJSON)
}

// CompletionRequest validates a legacy completions request body.
func CompletionRequest(rawJSON []byte) *RequestError {
	if !gjson.ValidBytes(rawJSON) {
		return &RequestError{Code: "invalid_request", Message: "request body is not valid JSON"}
	}
	if gjson.GetBytes(rawJSON, "model").String() == "" {
		return &RequestError{Code: "invalid_request", Message: "model is required"}
	}
	return validateSampling(rawJSON)
}

func validateMessages(messages gjson.Result) *RequestError {
	// Ids emitted by assistant tool_calls seen so far; a tool message may
	// only reference one of these.
	emitted := map[string]bool{}

	var failure *RequestError
	index := 0
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if !validRoles[role] {
			failure = &RequestError{
				Code:    "invalid_request",
				Message: fmt.Sprintf("messages[%d]: unknown role %q", index, role),
			}
			return false
		}

		switch role {
		case "assistant":
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				if id := call.Get("id").String(); id != "" {
					emitted[id] = true
				}
				return true
			})
		case "tool":
			callID := msg.Get("tool_call_id").String()
			if callID == "" {
				failure = &RequestError{
					Code:    "invalid_tool_message",
					Message: fmt.Sprintf("messages[%d]: tool message missing tool_call_id", index),
				}
				return false
			}
			if !emitted[callID] {
				failure = &RequestError{
					Code:    "invalid_tool_message",
					Message: fmt.Sprintf("messages[%d]: tool_call_id %q does not match any earlier assistant tool call", index, callID),
				}
				return false
			}
		}
		index++
		return true
	})
	return failure
}

func validateSampling(rawJSON []byte) *RequestError {
	if temperature := gjson.GetBytes(rawJSON, "temperature"); temperature.Exists() {
		if v := temperature.Float(); v < 0 || v > 2 {
			return &RequestError{Code: "invalid_request", Message: "temperature must be between 0 and 2"}
		}
	}
	if topP := gjson.GetBytes(rawJSON, "top_p"); topP.Exists() {
		if v := topP.Float(); v < 0 || v > 1 {
			return &RequestError{Code: "invalid_request", Message: "top_p must be between 0 and 1"}
		}
	}
	if maxTokens := gjson.GetBytes(rawJSON, "max_tokens"); maxTokens.Exists() {
		if maxTokens.Int() <= 0 {
			return &RequestError{Code: "invalid_request", Message: "max_tokens must be a positive integer"}
		}
	}
	return nil
}

func validateToolChoice(rawJSON []byte) *RequestError {
	choice := gjson.GetBytes(rawJSON, "tool_choice")
	if !choice.Exists() {
		return nil
	}

	if choice.Type == gjson.String {
		switch choice.String() {
		case "none", "auto", "required":
			return nil
		}
		return &RequestError{
			Code:    "invalid_request",
			Message: fmt.Sprintf("tool_choice %q is not one of none, auto, required", choice.String()),
		}
	}

	if choice.IsObject() {
		if choice.Get("type").String() == "function" && choice.Get("function.name").String() != "" {
			return nil
		}
		return &RequestError{
			Code:    "invalid_request",
			Message: "tool_choice object must be {type: \"function\", function: {name}}",
		}
	}

	return &RequestError{Code: "invalid_request", Message: "tool_choice must be a string or a function selector"}
}
