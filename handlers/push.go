// handlers/push.go — internal push + lookup surface for other services.
package handlers

import (
	"context"

	"nardy-match-service/middleware"
	"nardy-match-service/services"

	"github.com/gofiber/fiber/v2"
)

type pushRequest struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SetupPushRoutes exposes the push-to-user / push-to-room primitives and
// the user→room lookup to sibling services (notifications, admin tools).
// Everything here sits behind the shared gateway service token — no end
// user ever calls these.
func SetupPushRoutes(app *fiber.App, hub *Hub, rooms *services.RoomStore) {
	internal := app.Group("/internal", middleware.GatewayAuthMiddleware())

	internal.Post("/push/users/:user_id", func(c *fiber.Ctx) error {
		var req pushRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.Event == "" {
			return c.Status(400).JSON(fiber.Map{"error": "event is required"})
		}
		delivered := hub.SendToUser(c.Params("user_id"), req.Event, req.Data)
		return c.JSON(fiber.Map{"delivered": delivered})
	})

	internal.Post("/push/rooms/:room_id", func(c *fiber.Ctx) error {
		var req pushRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.Event == "" {
			return c.Status(400).JSON(fiber.Map{"error": "event is required"})
		}
		hub.SendToRoom(c.Params("room_id"), req.Event, req.Data)
		return c.JSON(fiber.Map{"ok": true})
	})

	// Reconnection support: which room is this user playing in right now?
	internal.Get("/rooms/users/:user_id", func(c *fiber.Ctx) error {
		roomID, err := rooms.GetRoomForUser(context.Background(), c.Params("user_id"))
		if err == services.ErrRoomNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "user is not in a room"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "lookup failed"})
		}
		return c.JSON(fiber.Map{"room_id": roomID})
	})
}
