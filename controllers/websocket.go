package controllers

import (
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"tourdesk_go/middleware"
	"tourdesk_go/services/websocket"
)

type WebSocketController struct {
	hub    *websocket.Hub
	secret string
}

func NewWebSocketController(hub *websocket.Hub, jwtSecret string) *WebSocketController {
	return &WebSocketController{hub: hub, secret: jwtSecret}
}

// Upgrade rejects non-websocket requests and tokens that fail to parse
// before the connection is upgraded. The subscriber id is stored for
// Handler.
func (wsc *WebSocketController) Upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error": "Use the WebSocket endpoint: ws://<host>/ws?token=YOUR_JWT",
		})
	}
	token := c.Query("token")
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
	}
	claims, err := middleware.ParseToken(wsc.secret, token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	subscriber := websocket.DeskID
	if claims.Role == middleware.RoleGuide {
		subscriber = *claims.GuideID
	}
	c.Locals("ws_subscriber", subscriber)
	c.Locals("ws_subject", claims.Subject)
	return c.Next()
}

// Handler serves an upgraded connection. Guides receive their own events;
// desk roles receive desk events and broadcasts.
func (wsc *WebSocketController) Handler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("WebSocket handler panic")
			}
		}()
		subscriber, _ := c.Locals("ws_subscriber").(uint)
		logrus.WithFields(logrus.Fields{
			"subject":    c.Locals("ws_subject"),
			"subscriber": subscriber,
		}).Info("WebSocket connection established")
		wsc.hub.ServeFiberWS(c, subscriber)
	})
}

// GetStats returns connection counts.
func (wsc *WebSocketController) GetStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}
