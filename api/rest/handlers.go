package rest

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getStatus handles GET /v1/status
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.cs.Status())
}

// getMetrics handles GET /v1/metrics
func (s *Server) getMetrics(c *fiber.Ctx) error {
	return c.JSON(s.cs.Metrics())
}

// stopRun handles POST /v1/stop
func (s *Server) stopRun(c *fiber.Ctx) error {
	if err := s.cs.Stop(); err != nil {
		if errors.Is(err, controlsurface.ErrNotRunning) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return err
	}
	logger.Info("stop requested through the control API", "remote", c.IP())
	return c.Status(fiber.StatusAccepted).JSON(SuccessResponse{
		Success: true,
		Message: "graceful stop requested",
	})
}
