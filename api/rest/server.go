// Package rest provides the live control API of a running test.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
)

// Server represents the control API server.
type Server struct {
	app    *fiber.App
	cs     *controlsurface.ControlSurface
	config *Config
}

// Config holds the configuration for the control API server.
type Config struct {
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS lets browser dashboards on other origins poll the API.
	EnableCORS bool `yaml:"enable_cors"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a new control API server for cs.
func NewServer(cs *controlsurface.ControlSurface, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "load-engine control API",
		DisableStartupMessage: true,
	})

	server := &Server{
		app:    app,
		cs:     cs,
		config: config,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// 请求日志走 zap，不写 stdout，避免打乱进度输出
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("control API request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start).String())
		return err
	})

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	v1 := s.app.Group("/v1")
	v1.Get("/status", s.getStatus)
	v1.Get("/metrics", s.getMetrics)
	v1.Post("/stop", s.stopRun)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()
	logger.Info("control API listening", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
