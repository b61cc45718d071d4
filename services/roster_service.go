package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/grouping"
)

// GroupFilter narrows ListGroups. Date is YYYY-MM-DD.
type GroupFilter struct {
	Date    string
	GuideID *uint
	Limit   int
	Offset  int
}

// GuideFilter narrows ListGuides.
type GuideFilter struct {
	ActiveOnly bool
	Language   string
}

// RosterService serves the dispatcher read views of groups and guides.
// Mutations go through grouping.Engine.
type RosterService struct {
	db *gorm.DB
}

func NewRosterService(db *gorm.DB) *RosterService {
	return &RosterService{db: db}
}

func (s *RosterService) ListGroups(ctx context.Context, f GroupFilter) ([]models.TourGroup, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.TourGroup{})
	if f.Date != "" {
		q = q.Where("tour_date = ?", f.Date)
	}
	if f.GuideID != nil {
		q = q.Where("guide_id = ?", *f.GuideID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var groups []models.TourGroup
	err := q.Preload("Guide").
		Preload("Tours", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("tour_date").Order("tour_time").Order("id").
		Limit(f.Limit).Offset(f.Offset).Find(&groups).Error
	return groups, total, err
}

func (s *RosterService) GetGroup(ctx context.Context, id uint) (*models.TourGroup, error) {
	var group models.TourGroup
	err := s.db.WithContext(ctx).Preload("Guide").
		Preload("Tours", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Tours.Guide").
		First(&group, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, grouping.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGuides returns guides by name. Language matches one entry of the
// comma-separated languages column, case-insensitively.
func (s *RosterService) ListGuides(ctx context.Context, f GuideFilter) ([]models.Guide, error) {
	q := s.db.WithContext(ctx).Model(&models.Guide{})
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var guides []models.Guide
	if err := q.Order("name").Order("id").Find(&guides).Error; err != nil {
		return nil, err
	}
	lang := strings.TrimSpace(f.Language)
	if lang == "" {
		return guides, nil
	}
	out := guides[:0]
	for _, g := range guides {
		for _, l := range strings.Split(g.Languages, ",") {
			if strings.EqualFold(strings.TrimSpace(l), lang) {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (s *RosterService) GetGuide(ctx context.Context, id uint) (*models.Guide, error) {
	var guide models.Guide
	err := s.db.WithContext(ctx).First(&guide, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, grouping.ErrGuideNotFound
	}
	if err != nil {
		return nil, err
	}
	return &guide, nil
}
