package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"tourdesk_go/models"
	"tourdesk_go/services"
	"tourdesk_go/services/channelsync"
	"tourdesk_go/services/grouping"
	"tourdesk_go/utils"
)

// GroupEngine is the grouping side used by the group and tour endpoints.
type GroupEngine interface {
	AutoGroup(ctx context.Context, scope grouping.Scope) ([]grouping.Result, error)
	ManualMerge(ctx context.Context, tourIDs []uint, displayName, notes string) (*models.TourGroup, error)
	Unmerge(ctx context.Context, tourID uint) (grouping.Recalc, error)
	SetGroupGuide(ctx context.Context, groupID uint, guideID *uint) (int, error)
	RecalculateGroupPax(ctx context.Context, groupID uint) (grouping.Recalc, error)
}

// TenantLock runs fn while no sync run holds the tenant lock.
type TenantLock interface {
	WithTenantLock(ctx context.Context, fn func(ctx context.Context) error) error
}

type GroupController struct {
	engine GroupEngine
	roster *services.RosterService
	lock   TenantLock
	events channelsync.Broadcaster
}

type AutoGroupRequest struct {
	From string `json:"from" validate:"required,isodate"`
	To   string `json:"to" validate:"required,isodate"`
}

type MergeRequest struct {
	TourIDs     []uint `json:"tour_ids" validate:"required,min=2,dive,gt=0"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Notes       string `json:"notes"`
}

type SetGuideRequest struct {
	GuideID *uint `json:"guide_id"`
}

// NewGroupController wires the group endpoints. Auto-grouping and merges run
// under lock so they never interleave with a sync run. lock and events may
// be nil.
func NewGroupController(engine GroupEngine, roster *services.RosterService, lock TenantLock, events channelsync.Broadcaster) *GroupController {
	return &GroupController{engine: engine, roster: roster, lock: lock, events: events}
}

func (gc *GroupController) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	if gc.lock == nil {
		return fn(ctx)
	}
	return gc.lock.WithTenantLock(ctx, fn)
}

func (gc *GroupController) notify(kind string, data interface{}) {
	if gc.events == nil {
		return
	}
	gc.events.Broadcast(map[string]interface{}{
		"type":      kind,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
}

// AutoGroup clusters ungrouped tours between from and to.
func (gc *GroupController) AutoGroup(c *fiber.Ctx) error {
	var req AutoGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return respondError(c, err)
	}
	if req.To < req.From {
		return respondError(c, services.ErrInvalidDate)
	}

	var results []grouping.Result
	err := gc.locked(c.UserContext(), func(ctx context.Context) error {
		var err error
		results, err = gc.engine.AutoGroup(ctx, grouping.Scope{From: req.From, To: req.To})
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	groups := make([]utils.GroupDTO, 0, len(results))
	for _, r := range results {
		dto := utils.ToGroupDTO(r.Group)
		groups = append(groups, dto)
	}
	if len(groups) > 0 {
		gc.notify("groups.created", fiber.Map{"from": req.From, "to": req.To, "count": len(groups)})
	}
	return c.JSON(fiber.Map{
		"message":        "Auto-grouping finished",
		"groups_created": len(groups),
		"groups":         groups,
	})
}

// MergeTours groups the given tours manually.
func (gc *GroupController) MergeTours(c *fiber.Ctx) error {
	var req MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return respondError(c, err)
	}

	var group *models.TourGroup
	err := gc.locked(c.UserContext(), func(ctx context.Context) error {
		var err error
		group, err = gc.engine.ManualMerge(ctx, req.TourIDs, req.DisplayName, req.Notes)
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	gc.notify("groups.merged", fiber.Map{"group_id": group.ID, "tour_ids": req.TourIDs})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Tours merged successfully",
		"group":   utils.ToGroupDTO(*group),
	})
}

// GetGroups lists groups, optionally for one date.
func (gc *GroupController) GetGroups(c *fiber.Ctx) error {
	f := services.GroupFilter{Date: c.Query("date")}
	if f.Date != "" {
		if _, err := time.Parse(utils.DateLayout, f.Date); err != nil {
			return respondError(c, services.ErrInvalidDate)
		}
	}
	if raw := c.QueryInt("guide_id", 0); raw > 0 {
		gid := uint(raw)
		f.GuideID = &gid
	}
	page, perPage := pagination(c, 50, 200)
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	groups, total, err := gc.roster.ListGroups(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"groups":     utils.ToGroupDTOs(groups),
		"pagination": pageMeta(page, perPage, total),
	})
}

func (gc *GroupController) GetGroup(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	group, err := gc.roster.GetGroup(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"group": utils.ToGroupDTO(*group)})
}

// SetGuide assigns the group's guide to every live member; null clears it.
func (gc *GroupController) SetGuide(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	var req SetGuideRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	updated, err := gc.engine.SetGroupGuide(c.UserContext(), id, req.GuideID)
	if err != nil {
		return respondError(c, err)
	}
	gc.notify("groups.guide_assigned", fiber.Map{"group_id": id, "guide_id": req.GuideID})

	group, err := gc.roster.GetGroup(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":       "Group guide updated",
		"tours_updated": updated,
		"group":         utils.ToGroupDTO(*group),
	})
}

// Recalculate recomputes total pax from live members.
func (gc *GroupController) Recalculate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	rc, err := gc.engine.RecalculateGroupPax(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if rc.Dissolved {
		gc.notify("groups.dissolved", fiber.Map{"group_id": id})
	}
	return c.JSON(fiber.Map{
		"group_id":  rc.GroupID,
		"total_pax": rc.TotalPax,
		"members":   rc.Members,
		"dissolved": rc.Dissolved,
	})
}
