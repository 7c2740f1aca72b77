package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports liveness and which optional services are wired
type HealthHandler struct {
	services map[string]bool
	sessions func() int
}

func NewHealthHandler(services map[string]bool, sessions func() int) *HealthHandler {
	return &HealthHandler{services: services, sessions: sessions}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions()
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"services":       h.services,
		"activeSessions": sessions,
	})
}
