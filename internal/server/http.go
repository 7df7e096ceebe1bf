package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmbench/internal/core"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool                // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string              // HTTP path for metrics endpoint (default: /metrics)
	Gatherer        prometheus.Gatherer // Metrics source (default: prometheus.DefaultGatherer)
	BodyLimit       string              // Max request body size, e.g. "2M"
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	bodyLimit := "2M"
	if cfg != nil && cfg.BodyLimit != "" {
		bodyLimit = cfg.BodyLimit
	}
	e.Use(middleware.BodyLimit(bodyLimit))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		// Normalize path to prevent traversal attacks
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")

	api.GET("/providers", handler.ListProviders)
	api.GET("/providers/:provider/models/:model", handler.GetModel)
	api.POST("/providers/:provider/validate", handler.ValidateProvider)
	api.POST("/providers/:provider/tokens", handler.CountTokens)
	api.POST("/providers/:provider/generate", handler.Generate)

	api.POST("/sessions", handler.CreateSession)
	api.GET("/sessions/:id", handler.GetSession)
	api.DELETE("/sessions/:id", handler.DeleteSession)
	api.POST("/sessions/:id/messages", handler.SubmitMessage)
	api.POST("/sessions/:id/clear", handler.ClearSession)
	api.GET("/sessions/:id/stats", handler.SessionStats)

	api.GET("/config", handler.GetConfig)
	api.PUT("/config", handler.UpdateConfig)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
