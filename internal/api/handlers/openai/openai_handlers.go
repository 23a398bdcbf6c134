// Package openai provides HTTP handlers for the OpenAI-compatible inference
// endpoints. It validates requests, routes them to the backend owning the
// requested model, runs tool-call translation on both directions, and
// supports both buffered and SSE streaming responses.
package openai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/vramgate/vramgate/internal/api/handlers"
	"github.com/vramgate/vramgate/internal/backend"
	"github.com/vramgate/vramgate/internal/metrics"
	"github.com/vramgate/vramgate/internal/registry"
	"github.com/vramgate/vramgate/internal/tooluse"
	"github.com/vramgate/vramgate/internal/validate"
)

// Handler serves /v1/chat/completions and /v1/completions.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the inference endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		handlers.WriteError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request: %v", err))
		return
	}

	if errValidate := validate.ChatRequest(rawJSON); errValidate != nil {
		handlers.WriteError(c, http.StatusBadRequest, errValidate.Code, errValidate.Message)
		return
	}

	spec, ok := h.resolveModel(c, rawJSON)
	if !ok {
		return
	}

	toolsActive := tooluse.Active(rawJSON)
	injected, errInject := tooluse.InjectTools(rawJSON)
	if errInject != nil {
		handlers.WriteError(c, http.StatusBadRequest, "invalid_request", errInject.Error())
		return
	}

	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.handleStreaming(c, spec, injected, toolsActive)
	} else {
		h.handleNonStreaming(c, spec, injected, toolsActive)
	}
}

// Completions handles POST /v1/completions. Legacy completions route the
// same way as chat but never pass through tool translation.
func (h *Handler) Completions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		handlers.WriteError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request: %v", err))
		return
	}

	if errValidate := validate.CompletionRequest(rawJSON); errValidate != nil {
		handlers.WriteError(c, http.StatusBadRequest, errValidate.Code, errValidate.Message)
		return
	}

	spec, ok := h.resolveModel(c, rawJSON)
	if !ok {
		return
	}

	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.streamPassthrough(c, spec, "/v1/completions", rawJSON)
	} else {
		resp, errMsg := h.Client.Post(c.Request.Context(), spec.BackendBaseURL, "/v1/completions", rawJSON)
		if errMsg != nil {
			handlers.WriteBackendError(c, errMsg)
			return
		}
		c.Data(http.StatusOK, "application/json", resp)
	}
}

// resolveModel maps the request's model id onto its backend spec, rejecting
// unknown ids and backends that are still loading.
func (h *Handler) resolveModel(c *gin.Context, rawJSON []byte) (*registry.ModelSpec, bool) {
	modelID := gjson.GetBytes(rawJSON, "model").String()
	spec, ok := h.Registry.Get(modelID)
	if !ok {
		handlers.WriteError(c, http.StatusBadRequest, "model_not_found",
			fmt.Sprintf("model %q not found; valid models: %s", modelID, strings.Join(h.Registry.IDs(), ", ")))
		return nil, false
	}

	switch h.States.Get(modelID).Phase {
	case backend.PhaseLoading:
		handlers.WriteRetryableError(c, http.StatusServiceUnavailable, "model_loading",
			fmt.Sprintf("model %q is still loading", modelID), 10*time.Second)
		return nil, false
	case backend.PhaseUnloading:
		handlers.WriteRetryableError(c, http.StatusServiceUnavailable, "backend_unavailable",
			fmt.Sprintf("model %q is being unloaded", modelID), 5*time.Second)
		return nil, false
	}
	return spec, true
}

func (h *Handler) handleNonStreaming(c *gin.Context, spec *registry.ModelSpec, injected []byte, toolsActive bool) {
	resp, errMsg := h.Client.Post(c.Request.Context(), spec.BackendBaseURL, "/v1/chat/completions", injected)
	if errMsg != nil {
		handlers.WriteBackendError(c, errMsg)
		return
	}

	if toolsActive {
		transformed, err := tooluse.TransformResponse(resp)
		if err != nil {
			var parseErr *tooluse.ParseError
			if errors.As(err, &parseErr) {
				handlers.WriteError(c, http.StatusBadGateway, "tool_parse_error", parseErr.Error())
				return
			}
			handlers.WriteError(c, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if gjson.GetBytes(transformed, "choices.0.message.tool_calls").Exists() {
			metrics.ToolCallsExtracted.Inc()
		}
		resp = transformed
	}
	c.Data(http.StatusOK, "application/json", resp)
}

func (h *Handler) handleStreaming(c *gin.Context, spec *registry.ModelSpec, injected []byte, toolsActive bool) {
	if !toolsActive {
		h.streamPassthrough(c, spec, "/v1/chat/completions", injected)
		return
	}

	flusher, ok := h.prepareSSE(c)
	if !ok {
		return
	}

	dataChan, errChan := h.Client.PostStream(c.Request.Context(), spec.BackendBaseURL, "/v1/chat/completions", injected)
	rewriter := tooluse.NewStreamRewriter()
	headersSent := false

	for {
		select {
		case <-c.Request.Context().Done():
			log.Debugf("client disconnected during tool stream")
			return
		case chunk, okStream := <-dataChan:
			if !okStream {
				frames, rewritten, err := rewriter.Finish()
				if err != nil {
					writeSSEError(c, flusher, "tool_parse_error", err.Error())
					return
				}
				if rewritten {
					metrics.ToolCallsExtracted.Inc()
				}
				for _, frame := range frames {
					_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
				}
				_, _ = fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			rewriter.Observe(chunk)
			headersSent = true
		case errMsg, okError := <-errChan:
			if okError {
				h.streamError(c, flusher, errMsg, headersSent)
				return
			}
		case <-time.After(500 * time.Millisecond):
			// SSE comment line; stops intermediaries from timing out the
			// connection while the rewriter buffers.
			_, _ = fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
			headersSent = true
		}
	}
}

// streamPassthrough forwards SSE frames byte for byte.
func (h *Handler) streamPassthrough(c *gin.Context, spec *registry.ModelSpec, endpoint string, rawJSON []byte) {
	flusher, ok := h.prepareSSE(c)
	if !ok {
		return
	}

	dataChan, errChan := h.Client.PostStream(c.Request.Context(), spec.BackendBaseURL, endpoint, rawJSON)
	headersSent := false

	for {
		select {
		case <-c.Request.Context().Done():
			log.Debugf("client disconnected, canceling backend stream")
			return
		case chunk, okStream := <-dataChan:
			if !okStream {
				_, _ = fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
			flusher.Flush()
			headersSent = true
		case errMsg, okError := <-errChan:
			if okError {
				h.streamError(c, flusher, errMsg, headersSent)
				return
			}
		case <-time.After(500 * time.Millisecond):
			_, _ = fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
			headersSent = true
		}
	}
}

func (h *Handler) prepareSSE(c *gin.Context) (http.Flusher, bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		handlers.WriteError(c, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return nil, false
	}
	return flusher, true
}

// streamError surfaces a backend failure: as a plain HTTP error when nothing
// has been sent yet, otherwise as an SSE error frame before closing.
func (h *Handler) streamError(c *gin.Context, flusher http.Flusher, errMsg *backend.ErrorMessage, headersSent bool) {
	if !headersSent {
		c.Header("Content-Type", "application/json")
		handlers.WriteBackendError(c, errMsg)
		return
	}
	writeSSEError(c, flusher, errMsg.Code, errMsg.Error.Error())
}

func writeSSEError(c *gin.Context, flusher http.Flusher, code, message string) {
	frame := fmt.Sprintf(`{"error":{"message":%q,"type":"server_error","code":%q}}`, message, code)
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
	flusher.Flush()
}
