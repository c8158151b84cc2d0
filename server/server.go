// Package server exposes the streaming chat entry points over HTTP.
// The surface is deliberately small: two SSE routes, health, and
// metrics. Everything else lives behind the orchestrator.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/prochat/prochat/ai/metrics"
	"github.com/prochat/prochat/ai/orchestrator"
	"github.com/prochat/prochat/internal/profile"
)

// ChatOrchestrator is the generation surface the handlers need.
type ChatOrchestrator interface {
	Run(ctx context.Context, req *orchestrator.StartRequest) <-chan orchestrator.Event
	Resume(ctx context.Context, streamID string) <-chan orchestrator.Event
}

// Server is the HTTP front of the chat backend.
type Server struct {
	Profile *profile.Profile

	echoServer   *echo.Echo
	orchestrator ChatOrchestrator
	exporter     *metrics.Exporter
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(p *profile.Profile, orch ChatOrchestrator, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(requestLogger())

	s := &Server{
		Profile:      p,
		echoServer:   e,
		orchestrator: orch,
		exporter:     exporter,
	}

	e.GET("/healthz", s.healthz)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	chat := e.Group("/api/v1/chat")
	chat.Use(rateLimitMiddleware(newRateLimiter(1, 5)))
	chat.POST("/stream", s.handleChatStream)
	chat.POST("/resume", s.handleChatResume)

	return s
}

// Start runs the listener. Blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

// Shutdown drains in-flight requests. In-flight generations observe
// their request contexts closing and park themselves pending.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	slog.Info("server stopped")
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// requestLogger logs one line per request through slog, skipping the
// health probe noise.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Error("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}
