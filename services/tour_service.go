package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/events"
	"tourdesk_go/services/grouping"
)

// GroupRecalculator recomputes a group after one of its tours changed.
type GroupRecalculator interface {
	RecalculateGroupPax(ctx context.Context, groupID uint) (grouping.Recalc, error)
}

// TourFilter narrows ListTours. Dates are YYYY-MM-DD, inclusive.
type TourFilter struct {
	From             string
	To               string
	UngroupedOnly    bool
	GuideID          *uint
	IncludeCancelled bool
	Limit            int
	Offset           int
}

// TourService covers dispatcher reads and the per-tour overrides that are
// not grouping operations.
type TourService struct {
	db        *gorm.DB
	groups    GroupRecalculator
	publisher events.Publisher
	now       func() time.Time
}

func NewTourService(db *gorm.DB, groups GroupRecalculator, publisher events.Publisher) *TourService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &TourService{db: db, groups: groups, publisher: publisher, now: time.Now}
}

func (s *TourService) ListTours(ctx context.Context, f TourFilter) ([]models.Tour, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Tour{})
	if f.From != "" {
		q = q.Where("tour_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("tour_date <= ?", f.To)
	}
	if f.UngroupedOnly {
		q = q.Where("group_id IS NULL")
	}
	if f.GuideID != nil {
		q = q.Where("guide_id = ?", *f.GuideID)
	}
	if !f.IncludeCancelled {
		q = q.Where("cancelled = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	var tours []models.Tour
	err := q.Preload("Guide").Preload("Group").
		Order("tour_date").Order("tour_time").Order("id").
		Limit(f.Limit).Offset(f.Offset).Find(&tours).Error
	return tours, total, err
}

func (s *TourService) GetTour(ctx context.Context, id uint) (*models.Tour, error) {
	var tour models.Tour
	err := s.db.WithContext(ctx).Preload("Guide").Preload("Group").
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("paid_at").Order("id") }).
		First(&tour, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, grouping.ErrTourNotFound
	}
	return &tour, err
}

// SetTourGuide assigns or clears the guide of a single tour. Group
// assignment later overwrites it for grouped tours.
func (s *TourService) SetTourGuide(ctx context.Context, tourID uint, guideID *uint) (*models.Tour, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tour models.Tour
		if err := tx.Select("id").First(&tour, tourID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return grouping.ErrTourNotFound
			}
			return err
		}
		if guideID != nil {
			var guide models.Guide
			if err := tx.First(&guide, *guideID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return grouping.ErrGuideNotFound
				}
				return err
			}
			if !guide.Active {
				return grouping.ErrGuideInactive
			}
		}
		return tx.Model(&tour).Updates(map[string]interface{}{
			"guide_id":               guideID,
			"needs_guide_assignment": guideID == nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetTour(ctx, tourID)
}

// CancelTour cancels a tour locally and recomputes its group, which may
// dissolve. Cancelling a cancelled tour is a no-op. The next sync restores
// the channel's view if the channel still lists the booking as active.
func (s *TourService) CancelTour(ctx context.Context, tourID uint) (*models.Tour, *grouping.Recalc, error) {
	tour, err := s.GetTour(ctx, tourID)
	if err != nil {
		return nil, nil, err
	}
	if tour.Cancelled {
		return tour, nil, nil
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.Tour{}).Where("id = ?", tourID).
		Updates(map[string]interface{}{"cancelled": true, "cancelled_at": now}).Error; err != nil {
		return nil, nil, err
	}

	var recalc *grouping.Recalc
	if tour.GroupID != nil && s.groups != nil {
		r, err := s.groups.RecalculateGroupPax(ctx, *tour.GroupID)
		if err != nil {
			logrus.WithError(err).WithField("group_id", *tour.GroupID).Error("Group recalculation after cancel failed")
		} else {
			recalc = &r
		}
	}

	if err := s.publisher.Publish(ctx, events.TourCancelled, map[string]interface{}{
		"tour_id":      tourID,
		"external_id":  tour.ExternalID,
		"group_id":     tour.GroupID,
		"cancelled_at": now,
		"source":       "dispatcher",
	}); err != nil {
		logrus.WithError(err).WithField("tour_id", tourID).Warn("Failed to publish cancel event")
	}

	tour, err = s.GetTour(ctx, tourID)
	return tour, recalc, err
}
