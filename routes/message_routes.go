package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/mmburu/mingle/handlers"
	"github.com/mmburu/mingle/middleware"
	"github.com/mmburu/mingle/ws"
)

func MessageRoutes(app *fiber.App, handler *handlers.MessageHandler, router *ws.Router) {
	api := app.Group("/api/v1")

	messages := api.Group("/messages", middleware.Protected(), middleware.UpdateLastActive())
	messages.Get("/recent", handler.Recent)
	messages.Get("/history/:counterpartId", handler.History)
	messages.Post("/file/:to", handler.SendFile)
	messages.Post("/voice/:to", handler.SendVoice)
	messages.Post("/share/:to", handler.SharePost)
	messages.Delete("/clear/:counterpartId", handler.Clear)
	messages.Delete("/:messageId", handler.Delete)

	// The websocket handshake authenticates itself with a first-frame token,
	// so the upgrade path skips the JWT middleware.
	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/ws", websocket.New(router.ServeWS))
}
