package grouping

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/utils"
)

// GuideInfo is the read-only view of a guide used when propagating assignments.
type GuideInfo struct {
	ID         uint
	Name       string
	Languages  []string
	LineUserID string
	Active     bool
}

// GuideDirectory resolves guide ids.
type GuideDirectory interface {
	Lookup(ctx context.Context, id uint) (*GuideInfo, error)
}

// Assignment is handed to the notifier after a group guide change commits.
type Assignment struct {
	Group   models.TourGroup
	Guide   GuideInfo
	TourIDs []uint
}

// AssignmentNotifier is told about new group guide assignments. Failures are
// logged and never undo the assignment.
type AssignmentNotifier interface {
	GuideAssigned(ctx context.Context, a Assignment) error
}

// DBGuideDirectory reads guides from the guides table.
type DBGuideDirectory struct {
	db *gorm.DB
}

func NewDBGuideDirectory(db *gorm.DB) *DBGuideDirectory {
	return &DBGuideDirectory{db: db}
}

func (d *DBGuideDirectory) Lookup(ctx context.Context, id uint) (*GuideInfo, error) {
	var g models.Guide
	if err := d.db.WithContext(ctx).First(&g, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuideNotFound
		}
		return nil, fmt.Errorf("lookup guide %d: %w", id, err)
	}
	return &GuideInfo{
		ID:         g.ID,
		Name:       g.Name,
		Languages:  utils.SplitLanguages(g.Languages),
		LineUserID: g.LineUserID,
		Active:     g.Active,
	}, nil
}
