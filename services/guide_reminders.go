package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/notifications"
	"tourdesk_go/utils"
)

// GuideReminderService sends the evening-before run sheet to each guide and
// warns the desk about tours still missing a guide.
type GuideReminderService struct {
	db       *gorm.DB
	notifier *notifications.Service
	loc      *time.Location
	now      func() time.Time
}

func NewGuideReminderService(db *gorm.DB, notifier *notifications.Service, loc *time.Location) *GuideReminderService {
	if loc == nil {
		loc = time.UTC
	}
	return &GuideReminderService{db: db, notifier: notifier, loc: loc, now: time.Now}
}

// Tomorrow returns tomorrow's date in the tour timezone.
func (s *GuideReminderService) Tomorrow() string {
	return s.now().In(s.loc).AddDate(0, 0, 1).Format(utils.DateLayout)
}

// SendGuideReminders notifies every active guide with live tours on date.
// A guide already reminded for date is skipped. Returns the number of
// guides notified.
func (s *GuideReminderService) SendGuideReminders(ctx context.Context, date string) (int, error) {
	var tours []models.Tour
	err := s.db.WithContext(ctx).Preload("Guide").Preload("Group").
		Where("tour_date = ? AND cancelled = ? AND guide_id IS NOT NULL", date, false).
		Order("tour_time").Order("id").
		Find(&tours).Error
	if err != nil {
		return 0, fmt.Errorf("load tours for %s: %w", date, err)
	}

	byGuide := map[uint][]models.Tour{}
	for _, t := range tours {
		if t.Guide == nil || !t.Guide.Active {
			continue
		}
		byGuide[*t.GuideID] = append(byGuide[*t.GuideID], t)
	}
	ids := make([]uint, 0, len(byGuide))
	for id := range byGuide {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	title := "Tours on " + date
	sent := 0
	for _, id := range ids {
		gid := id
		if s.alreadySent(ctx, &gid, title) {
			continue
		}
		list := byGuide[id]
		guide := *list[0].Guide
		message := runSheet(list)
		tourIDs := make([]uint, 0, len(list))
		for _, t := range list {
			tourIDs = append(tourIDs, t.ID)
		}

		n := notifications.New(title, message, "info").WithData(map[string]interface{}{
			"date":     date,
			"tour_ids": tourIDs,
		})
		if err := s.notifier.EnqueueOrCreate(ctx, []uint{id}, n); err != nil {
			logrus.WithError(err).WithField("guide_id", id).Error("Failed to store guide reminder")
			continue
		}
		if err := s.notifier.PushLine(guide, title+"\n"+message); err != nil {
			logrus.WithError(err).WithField("guide_id", id).Warn("LINE reminder failed")
		}
		sent++
	}
	return sent, nil
}

func runSheet(tours []models.Tour) string {
	var b strings.Builder
	for _, t := range tours {
		fmt.Fprintf(&b, "- %s %s, %d pax", utils.ClockHHMM(t.TourTime), t.Title, t.Participants)
		if t.Group != nil {
			fmt.Fprintf(&b, " (group %s)", t.Group.Name)
		}
		if t.CustomerName != "" {
			fmt.Fprintf(&b, ", lead %s", t.CustomerName)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// AlertUnassignedTours tells the desk how many live tours on date still
// need a guide. Returns that count.
func (s *GuideReminderService) AlertUnassignedTours(ctx context.Context, date string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Tour{}).
		Where("tour_date = ? AND cancelled = ? AND needs_guide_assignment = ?", date, false, true).
		Count(&count).Error
	if err != nil || count == 0 {
		return count, err
	}

	title := "Unassigned tours on " + date
	if s.alreadySent(ctx, nil, title) {
		return count, nil
	}
	n := notifications.New(title, fmt.Sprintf("%d tour(s) on %s still need a guide", count, date), "warning").
		WithData(map[string]interface{}{"date": date, "count": count})
	return count, s.notifier.EnqueueOrCreate(ctx, []uint{notifications.DeskRecipient}, n)
}

func (s *GuideReminderService) alreadySent(ctx context.Context, guideID *uint, title string) bool {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("title = ?", title)
	if guideID != nil {
		q = q.Where("guide_id = ?", *guideID)
	} else {
		q = q.Where("guide_id IS NULL")
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}
