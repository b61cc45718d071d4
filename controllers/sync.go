package controllers

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/channelsync"
	"tourdesk_go/utils"
)

// SyncRunner starts a sync run.
type SyncRunner interface {
	Run(ctx context.Context, req channelsync.Request) (*channelsync.Summary, error)
}

// ArchiveService is the sync history archive.
type ArchiveService interface {
	ArchiveOldRuns(ctx context.Context, daysOld int) (*models.SyncArchive, error)
	ListArchives(ctx context.Context) ([]models.SyncArchive, error)
	OpenArchive(ctx context.Context, id uint) (io.ReadCloser, string, error)
}

type SyncController struct {
	db       *gorm.DB
	runner   SyncRunner
	archives ArchiveService
	loc      *time.Location
}

// SyncNowRequest covers POST /api/sync. Missing dates fall back to the
// incremental window, or the full window when full is set.
type SyncNowRequest struct {
	Start     string `json:"start" validate:"omitempty,isodate"`
	End       string `json:"end" validate:"omitempty,isodate"`
	Full      bool   `json:"full"`
	AutoGroup *bool  `json:"auto_group"`
}

type ArchiveRequest struct {
	DaysOld int `json:"days_old" validate:"required,min=7"`
}

// NewSyncController wires the sync endpoints. archives may be nil when no
// archive bucket is configured.
func NewSyncController(db *gorm.DB, runner SyncRunner, archives ArchiveService, loc *time.Location) *SyncController {
	if loc == nil {
		loc = time.UTC
	}
	return &SyncController{db: db, runner: runner, archives: archives, loc: loc}
}

// TriggerSync runs one manual sync and returns its summary.
func (sc *SyncController) TriggerSync(c *fiber.Ctx) error {
	var req SyncNowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c)
		}
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return respondError(c, err)
	}

	run := channelsync.Request{Trigger: models.TriggerManual, Full: req.Full, AutoGroup: req.AutoGroup}
	if req.Start != "" {
		run.From, _ = utils.ParseDate(req.Start, sc.loc)
	}
	if req.End != "" {
		run.To, _ = utils.ParseDate(req.End, sc.loc)
	}

	sum, err := sc.runner.Run(c.UserContext(), run)
	if err != nil {
		if sum == nil {
			return respondError(c, err)
		}
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":   err.Error(),
			"summary": sum,
		})
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Sync %s", sum.Status),
		"summary": sum,
	})
}

// GetHistory lists recent runs, newest first.
func (sc *SyncController) GetHistory(c *fiber.Ctx) error {
	f := channelsync.HistoryFilter{}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseSyncStatus(raw)
		if err != nil {
			return respondError(c, err)
		}
		f.Status = status
	}
	if raw := c.Query("trigger"); raw != "" {
		trigger, err := models.ParseSyncTrigger(raw)
		if err != nil {
			return respondError(c, err)
		}
		f.Trigger = trigger
	}
	page, perPage := pagination(c, 20, 200)
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	runs, total, err := channelsync.ListHistory(c.UserContext(), sc.db, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"runs":       runs,
		"pagination": pageMeta(page, perPage, total),
	})
}

func (sc *SyncController) GetHistoryRun(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	run, err := channelsync.GetHistory(c.UserContext(), sc.db, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"run": run})
}

// ArchiveHistory exports finished runs older than days_old to object
// storage and removes them from the table.
func (sc *SyncController) ArchiveHistory(c *fiber.Ctx) error {
	if sc.archives == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Archive storage is not configured"})
	}
	var req ArchiveRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return respondError(c, err)
	}
	archive, err := sc.archives.ArchiveOldRuns(c.UserContext(), req.DaysOld)
	if err != nil {
		return respondError(c, err)
	}
	if archive == nil {
		return c.JSON(fiber.Map{"message": "No runs to archive"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Sync history archived",
		"archive": archive,
	})
}

func (sc *SyncController) ListArchives(c *fiber.Ctx) error {
	if sc.archives == nil {
		return c.JSON(fiber.Map{"archives": []models.SyncArchive{}})
	}
	archives, err := sc.archives.ListArchives(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archives": archives})
}

// DownloadArchive streams one archive zip.
func (sc *SyncController) DownloadArchive(c *fiber.Ctx) error {
	if sc.archives == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Archive storage is not configured"})
	}
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	r, name, err := sc.archives.OpenArchive(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Attachment(name)
	return c.SendStream(r)
}
