// Package handlers provides the shared base for API endpoint handlers: the
// collaborator wiring, the OpenAI error envelope, and helpers mapping error
// kinds to HTTP responses.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vramgate/vramgate/internal/backend"
	"github.com/vramgate/vramgate/internal/config"
	"github.com/vramgate/vramgate/internal/registry"
	"github.com/vramgate/vramgate/internal/status"
	"github.com/vramgate/vramgate/internal/switchengine"
)

// ErrorResponse is the OpenAI-shaped error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, type, and machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// BaseHandler bundles the services every endpoint handler needs. Services
// are constructed once in main and injected; nothing here is a global.
type BaseHandler struct {
	Cfg        *config.Config
	Registry   *registry.Registry
	Client     *backend.Client
	States     *backend.StateTable
	Aggregator *status.Aggregator
	Engine     *switchengine.Engine
}

// NewBaseHandler wires a base handler.
func NewBaseHandler(cfg *config.Config, reg *registry.Registry, client *backend.Client, states *backend.StateTable, aggregator *status.Aggregator, engine *switchengine.Engine) *BaseHandler {
	return &BaseHandler{
		Cfg:        cfg,
		Registry:   reg,
		Client:     client,
		States:     states,
		Aggregator: aggregator,
		Engine:     engine,
	}
}

// WriteError sends an OpenAI error envelope with the given status.
func WriteError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType(statusCode),
			Code:    code,
		},
	})
}

// WriteRetryableError sends an error with a Retry-After hint.
func WriteRetryableError(c *gin.Context, statusCode int, code, message string, retryAfter time.Duration) {
	c.Header("Retry-After", formatSeconds(retryAfter))
	WriteError(c, statusCode, code, message)
}

// WriteBackendError maps an upstream failure onto the client response,
// adding a Retry-After hint for 503s.
func WriteBackendError(c *gin.Context, errMsg *backend.ErrorMessage) {
	if errMsg.StatusCode == http.StatusServiceUnavailable {
		c.Header("Retry-After", "5")
	}
	// Relayed backend 4xx bodies are already OpenAI-shaped.
	if errMsg.StatusCode >= 400 && errMsg.StatusCode < 500 {
		c.Data(errMsg.StatusCode, "application/json", []byte(errMsg.Error.Error()))
		return
	}
	WriteError(c, errMsg.StatusCode, errMsg.Code, errMsg.Error.Error())
}

func errorType(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusNotFound,
		statusCode == http.StatusBadRequest,
		statusCode == http.StatusConflict:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

func formatSeconds(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
