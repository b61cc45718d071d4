package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/channelsync"
	"tourdesk_go/services/grouping"
	"tourdesk_go/storage"
	"tourdesk_go/utils"
)

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	var (
		verrs   *utils.ValidationErrors
		enumErr *models.InvalidEnumError
	)
	switch {
	case errors.As(err, &verrs):
		return fiber.StatusBadRequest
	case errors.As(err, &enumErr):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, grouping.ErrTourNotFound),
		errors.Is(err, grouping.ErrGroupNotFound),
		errors.Is(err, grouping.ErrGuideNotFound),
		errors.Is(err, channelsync.ErrHistoryNotFound),
		errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrArchiveNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, channelsync.ErrSyncInProgress), errors.Is(err, channelsync.ErrLockLost):
		return fiber.StatusConflict
	case errors.Is(err, grouping.ErrGuideInactive),
		errors.Is(err, grouping.ErrNotGrouped),
		errors.Is(err, grouping.ErrTooFewTours),
		errors.Is(err, grouping.ErrTourCancelled),
		errors.Is(err, services.ErrZeroPayment),
		errors.Is(err, services.ErrInvalidDate),
		errors.Is(err, services.ErrArchiveTooRecent),
		errors.Is(err, channelsync.ErrInvalidRange):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotConfigured):
		return fiber.StatusServiceUnavailable
	case channel.IsAuthError(err), channel.IsPermissionError(err), channel.IsTransient(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// respondError writes {"error": ...}. Internal errors are logged and their
// text is not returned.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":       c.Path(),
			"request_id": c.Locals("request_id"),
		}).Error("Request failed")
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	body := fiber.Map{"error": err.Error()}
	var verrs *utils.ValidationErrors
	if errors.As(err, &verrs) {
		body["error"] = "Validation failed"
		body["fields"] = verrs.Fields
	}
	return c.Status(status).JSON(body)
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return uint(id), nil
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid ID"})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
}

// pagination reads page/per_page with the given cap.
func pagination(c *fiber.Ctx, defPerPage, maxPerPage int) (page, perPage int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	perPage = c.QueryInt("per_page", defPerPage)
	if perPage < 1 {
		perPage = defPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func pageMeta(page, perPage int, total int64) fiber.Map {
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return fiber.Map{
		"page":        page,
		"per_page":    perPage,
		"total":       total,
		"total_pages": totalPages,
	}
}
