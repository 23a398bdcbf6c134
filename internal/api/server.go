// Package api provides the HTTP API server for the vramgate gateway. It
// wires the Gin engine, CORS and authentication middleware, and the
// OpenAI-compatible and lifecycle routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/access"
	"github.com/vramgate/vramgate/internal/api/handlers"
	modelhandlers "github.com/vramgate/vramgate/internal/api/handlers/models"
	openaihandlers "github.com/vramgate/vramgate/internal/api/handlers/openai"
	"github.com/vramgate/vramgate/internal/api/middleware"
	"github.com/vramgate/vramgate/internal/config"
)

// Server represents the main API server. It encapsulates the Gin engine,
// the HTTP server, and the endpoint handlers.
type Server struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config
	auth   atomic.Pointer[access.Authenticator]
}

// NewServer creates and initializes a new API server instance.
func NewServer(cfg *config.Config, base *handlers.BaseHandler) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogging())

	s := &Server{
		engine: engine,
		cfg:    cfg,
	}
	s.auth.Store(access.NewAuthenticator(cfg.APIKey, cfg.WebUIAuthEnabled))
	engine.Use(s.corsMiddleware())

	s.setupRoutes(base)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes(base *handlers.BaseHandler) {
	openaiHandler := openaihandlers.NewHandler(base)
	modelHandler := modelhandlers.NewHandler(base)

	// Endpoints the browser UI calls; in browser-optional mode these accept
	// requests with no Authorization header.
	optional := s.engine.Group("/v1")
	optional.Use(s.authMiddleware(true))
	{
		optional.GET("/models", modelHandler.List)
		optional.POST("/chat/completions", openaiHandler.ChatCompletions)
		optional.POST("/completions", openaiHandler.Completions)
	}

	// Lifecycle endpoints always require a key. Start, stop, and switch
	// share param routes because the router cannot mix static and wildcard
	// segments at the same level.
	strict := s.engine.Group("/v1/models")
	strict.Use(s.authMiddleware(false))
	{
		strict.GET("/status", modelHandler.Status)
		strict.POST("/:id", modelHandler.SwitchRoot)
		strict.POST("/:id/:action", modelHandler.Lifecycle)
	}

	s.engine.GET("/health", modelHandler.Health)
	s.engine.GET("/ready", modelHandler.Ready)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "vramgate",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /v1/chat/completions",
				"POST /v1/completions",
				"GET /v1/models",
				"GET /v1/models/status",
				"POST /v1/models/switch",
			},
		})
	})
}

// Start begins listening for and serving HTTP requests. It blocks until the
// server stops.
func (s *Server) Start() error {
	log.Infof("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active
// connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateAuth swaps the authenticator when the configured API key or web UI
// auth mode changes. Routes, ports, and the registry stay fixed.
func (s *Server) UpdateAuth(cfg *config.Config) {
	s.auth.Store(access.NewAuthenticator(cfg.APIKey, cfg.WebUIAuthEnabled))
	log.Info("API authentication configuration updated")
}

// Handler exposes the underlying engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// corsMiddleware handles browser cross-origin requests. The Authorization
// header is listed explicitly: a wildcard does not cover it, and the web UI
// sends it on authenticated calls.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if !allowed[origin] {
				handlers.WriteError(c, http.StatusForbidden, "forbidden_origin",
					fmt.Sprintf("origin %q is not allowed", origin))
				c.Abort()
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, X-Request-Id")
			c.Header("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware authenticates requests with the configured bearer key.
// optionalAuth marks the endpoints the browser UI may call unauthenticated.
func (s *Server) authMiddleware(optionalAuth bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.auth.Load().Authorize(c.GetHeader("Authorization"), optionalAuth)
		if err == nil {
			c.Next()
			return
		}

		message := "invalid API key provided"
		if errors.Is(err, access.ErrMissingKey) {
			message = "missing API key"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Message: message,
				Type:    "invalid_request_error",
				Code:    "invalid_api_key",
			},
		})
	}
}
