package utils

import (
	"context"

	"github.com/gofiber/websocket/v2"

	"neurogallery/internal/logger"
)

// SendJSON writes one JSON message. Fiber's websocket connection is not safe
// for concurrent writes; the caller serializes writes per connection.
func SendJSON(c *websocket.Conn, payload interface{}) error {
	return c.WriteJSON(payload)
}

// LogError logs an error if it's not nil
func LogError(err error, where string) {
	if err != nil {
		logger.Error(context.Background(), "websocket "+where, err)
	}
}
