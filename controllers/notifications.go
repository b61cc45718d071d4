package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tourdesk_go/middleware"
	"tourdesk_go/services/notifications"
	"tourdesk_go/utils"
)

type NotificationController struct {
	service *notifications.Service
}

func NewNotificationController(service *notifications.Service) *NotificationController {
	return &NotificationController{service: service}
}

// recipientScope returns the guide a caller reads notifications for. Desk
// roles read the desk inbox (nil).
func recipientScope(c *fiber.Ctx) (*uint, error) {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return nil, err
	}
	if claims.Role == middleware.RoleGuide {
		return claims.GuideID, nil
	}
	return nil, nil
}

// GetNotifications returns notifications for the current caller
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	guideID, err := recipientScope(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing user claims"})
	}
	page, perPage := pagination(c, 20, 100)
	rows, total, err := nc.service.List(c.UserContext(), notifications.ListFilter{
		GuideID:    guideID,
		UnreadOnly: c.QueryBool("unread", false),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		return respondError(c, err)
	}
	dtos := make([]utils.NotificationDTO, 0, len(rows))
	for _, n := range rows {
		dtos = append(dtos, utils.ToNotificationDTO(n))
	}
	return c.JSON(fiber.Map{
		"notifications": dtos,
		"pagination":    pageMeta(page, perPage, total),
	})
}

// MarkAsRead marks a notification as read
func (nc *NotificationController) MarkAsRead(c *fiber.Ctx) error {
	guideID, err := recipientScope(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing user claims"})
	}
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	if err := nc.service.MarkRead(c.UserContext(), id, guideID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Notification marked as read"})
}

// MarkAllAsRead marks every unread notification in the caller's inbox.
func (nc *NotificationController) MarkAllAsRead(c *fiber.Ctx) error {
	guideID, err := recipientScope(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing user claims"})
	}
	n, err := nc.service.MarkAllRead(c.UserContext(), guideID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "All notifications marked as read", "updated": n})
}
