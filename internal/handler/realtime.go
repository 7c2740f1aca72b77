package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/makeasinger/playground/internal/websocket"
)

// RealtimeHandler upgrades authenticated requests to the job status channel
type RealtimeHandler struct {
	hub *ws.Hub
}

func NewRealtimeHandler(hub *ws.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// RequireUpgrade rejects plain HTTP requests to the websocket route
func (h *RealtimeHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve handles GET /ws. Authentication runs before the upgrade, so the
// owner is already in Locals.
func (h *RealtimeHandler) Serve() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		ownerID, _ := c.Locals("userId").(string)
		h.hub.HandleConnection(c, ownerID)
	})
}
