// Package admin implements the thin HTTP admin surface (spec §4.15 ambient
// stack): liveness, Prometheus scrape, and JWKS publication. Grounded on
// the teacher's pkg/api/server.go Echo v5 wiring (NewServer + setupRoutes +
// Start/Shutdown), trimmed to the handful of routes this daemon needs
// instead of the teacher's full alert/session API surface.
package admin

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentforge/core/pkg/keymanager"
	"github.com/agentforge/core/pkg/metrics"
)

// HealthSource reports the figures the /healthz endpoint surfaces, kept as
// a small interface so admin never imports pkg/security or pkg/metrics
// concrete types directly.
type HealthSource interface {
	LatestHealthScore() (float64, error)
}

// JWKSSource publishes the Key Manager's current verification keys.
type JWKSSource interface {
	JWKS() keymanager.JWKS
}

// Server is the admin HTTP surface.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	health HealthSource
	jwks   JWKSSource
	reg    *prometheus.Registry
}

// New constructs a Server and registers its routes. jwks or health may be
// nil rather than panicking, so the admin surface can come up before every
// component does: a nil health makes /healthz report status "starting", and
// a nil jwks makes the JWKS endpoint answer 503 "jwks unavailable".
// reg is the registry pkg/metrics.Collector was constructed with.
func New(health HealthSource, jwks JWKSSource, reg *prometheus.Registry) *Server {
	e := echo.New()
	s := &Server{echo: e, health: health, jwks: jwks, reg: reg}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.Use(middleware.Recover())
	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/.well-known/jwks.json", s.jwksHandler)
	s.echo.GET("/metrics", s.metricsHandler)
}

type healthResponse struct {
	Status      string  `json:"status"`
	HealthScore float64 `json:"health_score,omitempty"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	if s.health == nil {
		return c.JSON(http.StatusOK, healthResponse{Status: "starting"})
	}
	score, err := s.health.LatestHealthScore()
	if err != nil {
		return c.JSON(http.StatusOK, healthResponse{Status: "starting"})
	}
	status := "healthy"
	if score < 50 {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, healthResponse{Status: status, HealthScore: score})
}

func (s *Server) jwksHandler(c *echo.Context) error {
	if s.jwks == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "jwks unavailable"})
	}
	return c.JSON(http.StatusOK, s.jwks.JWKS())
}

func (s *Server) metricsHandler(c *echo.Context) error {
	metrics.Handler(s.reg).ServeHTTP(c.Response(), c.Request())
	return nil
}

// ServeHTTP lets tests exercise routes via httptest without binding a
// real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on addr, blocking until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// shutdownTimeout is the grace period main() gives in-flight admin
// requests before forcing the listener closed.
const shutdownTimeout = 5 * time.Second

// ShutdownTimeout exposes shutdownTimeout for main()'s context.WithTimeout.
func ShutdownTimeout() time.Duration { return shutdownTimeout }
