package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tourdesk_go/middleware"
	"tourdesk_go/services"
	"tourdesk_go/utils"
)

type TourController struct {
	tours  *services.TourService
	engine GroupEngine
}

func NewTourController(tours *services.TourService, engine GroupEngine) *TourController {
	return &TourController{tours: tours, engine: engine}
}

type tourListQuery struct {
	From string `validate:"omitempty,isodate"`
	To   string `validate:"omitempty,isodate"`
}

// GetTours lists live tours in a date range. Guide tokens only see their
// own tours.
func (tc *TourController) GetTours(c *fiber.Ctx) error {
	q := tourListQuery{From: c.Query("from"), To: c.Query("to")}
	if err := utils.ValidateStruct(&q); err != nil {
		return respondError(c, err)
	}
	page, perPage := pagination(c, 100, 500)
	f := services.TourFilter{
		From:             q.From,
		To:               q.To,
		UngroupedOnly:    c.QueryBool("ungrouped", false),
		IncludeCancelled: c.QueryBool("include_cancelled", false),
		Limit:            perPage,
		Offset:           (page - 1) * perPage,
	}
	if raw := c.QueryInt("guide_id", 0); raw > 0 {
		gid := uint(raw)
		f.GuideID = &gid
	}
	if claims, err := middleware.GetCurrentClaims(c); err == nil && claims.Role == middleware.RoleGuide {
		f.GuideID = claims.GuideID
	}

	tours, total, err := tc.tours.ListTours(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"tours":      utils.ToTourDTOs(tours),
		"pagination": pageMeta(page, perPage, total),
	})
}

func (tc *TourController) GetTour(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	tour, err := tc.tours.GetTour(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if claims, cerr := middleware.GetCurrentClaims(c); cerr == nil && claims.Role == middleware.RoleGuide {
		if tour.GuideID == nil || claims.GuideID == nil || *tour.GuideID != *claims.GuideID {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Tour not found"})
		}
	}
	return c.JSON(fiber.Map{
		"tour":     utils.ToTourDTO(*tour),
		"payments": tour.Payments,
	})
}

// SetGuide overrides the guide of one tour.
func (tc *TourController) SetGuide(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	var req SetGuideRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	tour, err := tc.tours.SetTourGuide(c.UserContext(), id, req.GuideID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Tour guide updated",
		"tour":    utils.ToTourDTO(*tour),
	})
}

func (tc *TourController) Cancel(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	tour, recalc, err := tc.tours.CancelTour(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	resp := fiber.Map{
		"message": "Tour cancelled",
		"tour":    utils.ToTourDTO(*tour),
	}
	if recalc != nil {
		resp["group"] = fiber.Map{
			"group_id":  recalc.GroupID,
			"total_pax": recalc.TotalPax,
			"members":   recalc.Members,
			"dissolved": recalc.Dissolved,
		}
	}
	return c.JSON(resp)
}

// Unmerge removes the tour from its group.
func (tc *TourController) Unmerge(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	rc, err := tc.engine.Unmerge(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":   "Tour removed from group",
		"group_id":  rc.GroupID,
		"total_pax": rc.TotalPax,
		"members":   rc.Members,
		"dissolved": rc.Dissolved,
	})
}
