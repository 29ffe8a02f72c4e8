package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dairytrack/dairytrack/internal/core/session"
	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine  *gin.Engine
	Addr    string
	storage string
	health  HealthChecker
}

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// New builds the HTTP server. health may be nil for stores with nothing to
// ping (memory, bolt); storage names the backend in health responses.
func New(addr string, storage string, health HealthChecker, mode string) *Server {
	// Set Gin mode based on configuration
	switch mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(session.Middleware())

	s := &Server{
		Engine:  r,
		Addr:    addr,
		storage: storage,
		health:  health,
	}

	r.GET("/health", s.healthHandler)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			slog.Error("[Server] Health check failed: storage unreachable", "storage", s.storage, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"storage": s.storage,
				"error":   "storage unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": s.storage,
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
