// Package api exposes the strata debug surface over HTTP: health and version
// probes, Prometheus metrics, and a synthetic-weight benchmark endpoint used
// to profile layer forward performance on a running host.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/version"
)

type Server struct {
	log logger.Logger
}

func NewServer(log logger.Logger) *Server {
	return &Server{log: log}
}

// Register attaches all routes to e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)
	e.GET("/version", s.handleVersion)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/v1/bench", s.handleBench)
}

func (s *Server) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_time": info.BuildTime,
	})
}
