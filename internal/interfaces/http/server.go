// Package http provides the HTTP adapter over the workflow engine. It is a
// thin layer: routing, payload binding and status-code mapping only.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/civigo/docflow/internal/workflow"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     *workflow.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server over the workflow engine
func NewServer(config ServerConfig, engine *workflow.Engine, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		engine: engine,
		logger: logger,
	}

	router.Use(gin.Recovery())
	router.Use(server.loggingMiddleware())
	server.setupRoutes()

	return server
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.engine, s.logger)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "docflow",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := s.router.Group("/api/v1")
	{
		api.POST("/instances", handlers.CreateInstance)
		api.GET("/instances", handlers.ListInstances)
		api.GET("/instances/:id", handlers.GetInstance)
		api.GET("/instances/:id/progress", handlers.GetProgress)
		api.GET("/instances/:id/history", handlers.GetHistory)
		api.POST("/instances/:id/pause", handlers.PauseInstance)
		api.POST("/instances/:id/resume", handlers.ResumeInstance)
		api.POST("/instances/:id/steps/:stepID/start", handlers.StartStep)
		api.POST("/instances/:id/steps/:stepID/complete", handlers.CompleteStep)
		api.POST("/instances/:id/steps/:stepID/reject", handlers.RejectStep)
		api.GET("/requests/:requestID/instance", handlers.GetInstanceByRequest)
		api.GET("/templates", handlers.ListTemplates)
		api.GET("/statistics", handlers.GetStatistics)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
// or the server fails
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
