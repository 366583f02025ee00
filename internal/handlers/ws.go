package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"neurogallery/internal/logger"
)

// WebSocketHandler subscribes the connection to the live photo feed until
// the client goes away. Incoming messages are ignored.
func WebSocketHandler(feed *FeedManager) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		connID := uuid.New().String()
		feed.Join(connID, c)

		defer func() {
			feed.Leave(connID)
			c.Close()
		}()

		if err := feed.Send(connID, map[string]string{"event": "connected"}); err != nil {
			return
		}

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn(context.Background(), "feed connection closed", logger.Fields{"error": err.Error()})
				}
				break
			}
		}
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
