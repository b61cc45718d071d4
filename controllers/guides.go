package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tourdesk_go/models"
	"tourdesk_go/services"
	"tourdesk_go/utils"
)

type GuideController struct {
	roster *services.RosterService
}

func NewGuideController(roster *services.RosterService) *GuideController {
	return &GuideController{roster: roster}
}

// guideDTO is the dispatcher view of a guide. The LINE id is reduced to a
// flag.
type guideDTO struct {
	ID        uint     `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Languages []string `json:"languages"`
	Active    bool     `json:"active"`
	HasLine   bool     `json:"has_line"`
}

func toGuideDTO(g models.Guide) guideDTO {
	return guideDTO{
		ID:        g.ID,
		Name:      g.Name,
		Email:     g.Email,
		Phone:     g.Phone,
		Languages: utils.SplitLanguages(g.Languages),
		Active:    g.Active,
		HasLine:   g.LineUserID != "",
	}
}

// GetGuides lists guides; ?active=true and ?language= narrow the list.
func (gc *GuideController) GetGuides(c *fiber.Ctx) error {
	guides, err := gc.roster.ListGuides(c.UserContext(), services.GuideFilter{
		ActiveOnly: c.QueryBool("active", false),
		Language:   c.Query("language"),
	})
	if err != nil {
		return respondError(c, err)
	}
	out := make([]guideDTO, 0, len(guides))
	for _, g := range guides {
		out = append(out, toGuideDTO(g))
	}
	return c.JSON(fiber.Map{"guides": out, "total": len(out)})
}

func (gc *GuideController) GetGuide(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	guide, err := gc.roster.GetGuide(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"guide": toGuideDTO(*guide)})
}
