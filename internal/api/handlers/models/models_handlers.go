// Package models provides HTTP handlers for the model inventory and
// lifecycle endpoints: the OpenAI model listing, the aggregated status view,
// explicit start/stop, and the smart switch.
package models

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/api/handlers"
	"github.com/vramgate/vramgate/internal/metrics"
	"github.com/vramgate/vramgate/internal/switchengine"
)

// Handler serves the model inventory and lifecycle endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the model endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// List handles GET /v1/models in OpenAI list format.
func (h *Handler) List(c *gin.Context) {
	data := make([]gin.H, 0)
	for _, spec := range h.Registry.List() {
		data = append(data, gin.H{
			"id":       spec.ID,
			"object":   "model",
			"created":  h.Registry.Created(),
			"owned_by": "vramgate",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// Status handles GET /v1/models/status.
func (h *Handler) Status(c *gin.Context) {
	payload := h.Aggregator.Status(c.Request.Context())
	metrics.GPUAvailableGB.Set(payload.GPU.AvailableGB)
	metrics.GPUUsedGB.Set(payload.GPU.UsedGB)
	c.JSON(http.StatusOK, payload)
}

// Start handles POST /v1/models/:id/start. Explicit starts never evict.
func (h *Handler) Start(c *gin.Context) {
	modelID := c.Param("id")
	if _, ok := h.Registry.Get(modelID); !ok {
		handlers.WriteError(c, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", modelID))
		return
	}
	if err := h.Engine.StartModel(c.Request.Context(), modelID); err != nil {
		handlers.WriteError(c, http.StatusInternalServerError, "switch_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "starting", "model": modelID})
}

// Stop handles POST /v1/models/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	modelID := c.Param("id")
	if _, ok := h.Registry.Get(modelID); !ok {
		handlers.WriteError(c, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", modelID))
		return
	}
	if err := h.Engine.StopModel(c.Request.Context(), modelID); err != nil {
		handlers.WriteError(c, http.StatusInternalServerError, "switch_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "model": modelID})
}

// SwitchRoot handles POST /v1/models/:id where the only valid id is the
// literal "switch".
func (h *Handler) SwitchRoot(c *gin.Context) {
	if c.Param("id") != "switch" {
		handlers.WriteError(c, http.StatusNotFound, "invalid_request",
			fmt.Sprintf("unknown operation %q", c.Param("id")))
		return
	}
	h.Switch(c)
}

// Lifecycle handles POST /v1/models/:id/:action for start and stop.
func (h *Handler) Lifecycle(c *gin.Context) {
	switch c.Param("action") {
	case "start":
		h.Start(c)
	case "stop":
		h.Stop(c)
	default:
		handlers.WriteError(c, http.StatusNotFound, "invalid_request",
			fmt.Sprintf("unknown operation %q", c.Param("action")))
	}
}

// Switch handles POST /v1/models/switch. The target comes from the
// target_model query parameter, with a JSON body fallback.
func (h *Handler) Switch(c *gin.Context) {
	target := c.Query("target_model")
	if target == "" {
		var body struct {
			TargetModel string `json:"target_model"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			target = body.TargetModel
		}
	}
	if target == "" {
		handlers.WriteError(c, http.StatusBadRequest, "invalid_request", "target_model is required")
		return
	}

	if _, ok := h.Registry.Get(target); !ok {
		handlers.WriteError(c, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", target))
		return
	}

	outcome, err := h.Engine.Switch(c.Request.Context(), target)
	if err != nil {
		handlers.WriteError(c, http.StatusInternalServerError, "switch_failed", err.Error())
		return
	}

	label := outcome.Status
	if outcome.Code != "" {
		label = outcome.Code
	}
	metrics.SwitchesTotal.WithLabelValues(label).Inc()

	c.JSON(switchStatusCode(outcome), outcome)
}

// switchStatusCode maps a switch outcome onto its HTTP status.
func switchStatusCode(outcome switchengine.Outcome) int {
	if outcome.Status != switchengine.StatusError {
		return http.StatusOK
	}
	switch outcome.Code {
	case switchengine.CodeInsufficientMemory:
		return http.StatusInsufficientStorage
	case switchengine.CodeSwitchInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /ready: 200 as soon as any one model is serving.
func (h *Handler) Ready(c *gin.Context) {
	if h.Aggregator.Ready(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	log.Debug("readiness check failed: no healthy model")
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no models ready"})
}
