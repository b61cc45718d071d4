package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// AuditMiddleware writes one audit log line per successful mutation, with
// the caller taken from the JWT claims.
func AuditMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		err := c.Next()
		if err != nil || c.Response().StatusCode() >= 400 {
			return err
		}

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return nil
		}

		// /api/<resource>/...
		resource := ""
		if parts := strings.Split(strings.Trim(c.Path(), "/"), "/"); len(parts) >= 2 {
			resource = parts[1]
		}

		fields := logrus.Fields{
			"audit":      true,
			"action":     action,
			"resource":   resource,
			"path":       c.Path(),
			"ip":         c.IP(),
			"request_id": c.Locals("request_id"),
		}
		if id, perr := strconv.ParseUint(c.Params("id"), 10, 64); perr == nil {
			fields["resource_id"] = id
		}
		if claims, ok := c.Locals("claims").(*Claims); ok {
			fields["actor"] = claims.Subject
			fields["role"] = claims.Role
		}
		logrus.WithFields(fields).Info("Audit")
		return nil
	}
}
