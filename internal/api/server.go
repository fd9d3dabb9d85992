package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"healthwatch/internal/logger"
)

// Config configures the HTTP server.
type Config struct {
	Addr string
	// Mode is a gin mode: debug, release or test.
	Mode string
}

// Server wraps the gin engine in an http.Server.
type Server struct {
	srv *http.Server
}

// NewRouter builds a gin engine with recovery and request logging.
func NewRouter(mode string, h *Handler, metrics http.Handler) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	SetupRoutes(router, h, metrics)
	return router
}

// NewServer creates a server for h.
func NewServer(cfg Config, h *Handler, metrics http.Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{srv: &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg.Mode, h, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Run() error {
	logger.Infof("HTTP API listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
