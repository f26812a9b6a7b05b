// Package httpapi provides the HTTP API for ragd.
//
// Every data route requires an authenticated identity. The identity
// middleware resolves the caller's access context before any handler
// runs; requests without a resolvable identity are rejected, never
// downgraded to a broader view.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/c5473c4c/rag-rbac/internal/docstore"
	"github.com/c5473c4c/rag-rbac/internal/rag"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// QueryRateLimit is the per-client sustained rate for the query
	// endpoint, in requests per second. Zero disables limiting.
	QueryRateLimit float64
}

// Server provides the ragd HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	rag    *rag.Service
	docs   *docstore.Store
	logger *zap.Logger
	config *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(svc *rag.Service, docs *docstore.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("rag service is required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		rag:    svc,
		docs:   docs,
		logger: logger.Named("http"),
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/api/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api", s.identityMiddleware)

	query := api.Group("")
	if s.config.QueryRateLimit > 0 {
		query.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(s.config.QueryRateLimit)),
		))
	}
	query.POST("/query", s.handleQuery)

	api.POST("/documents", s.handleIngest)
	api.GET("/documents", s.handleListDocuments)
	api.DELETE("/documents/:id", s.handleDeleteDocument)

	api.DELETE("/users/:id/data", s.handleDeleteUserData, s.requirePrivileged)
	api.GET("/stats", s.handleStats, s.requirePrivileged)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
