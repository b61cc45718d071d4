package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/notifications"
)

type linePushes struct {
	to []string
}

func (l *linePushes) PushText(to, _ string) error {
	l.to = append(l.to, to)
	return nil
}

func seedGuide(t *testing.T, db *gorm.DB, name, lineID string, active bool) models.Guide {
	t.Helper()
	g := models.Guide{Name: name, Email: strings.ToLower(name) + "@example.com", LineUserID: lineID, Active: active}
	if err := db.Create(&g).Error; err != nil {
		t.Fatalf("seed guide: %v", err)
	}
	return g
}

func seedTour(t *testing.T, db *gorm.DB, title, date, clock string, pax int, guideID *uint, cancelled bool) models.Tour {
	t.Helper()
	tour := models.Tour{
		Title:          title,
		TourDate:       date,
		TourTime:       clock,
		Participants:   pax,
		CustomerName:   "Lead " + title,
		GuideID:        guideID,
		ExternalSource: models.SourceManual,
		PaymentStatus:  models.PaymentUnpaid,
		Cancelled:      cancelled,
	}
	if err := db.Create(&tour).Error; err != nil {
		t.Fatalf("seed tour: %v", err)
	}
	db.Model(&tour).Update("needs_guide_assignment", guideID == nil)
	return tour
}

func TestSendGuideReminders(t *testing.T) {
	db := dbtest.Open(t)
	line := &linePushes{}
	notifier := notifications.NewService(db, nil, false, nil, line)
	svc := NewGuideReminderService(db, notifier, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	ana := seedGuide(t, db, "Ana", "U-ana", true)
	ben := seedGuide(t, db, "Ben", "", true)
	cal := seedGuide(t, db, "Cal", "U-cal", false)

	date := svc.Tomorrow()
	if date != "2026-06-11" {
		t.Fatalf("Tomorrow = %s", date)
	}
	seedTour(t, db, "Old Town", date, "10:30:00", 4, &ana.ID, false)
	seedTour(t, db, "Tapas", date, "09:00:00", 2, &ana.ID, false)
	seedTour(t, db, "Cathedral", date, "14:00:00", 5, &ben.ID, false)
	seedTour(t, db, "Market", date, "11:00:00", 3, &cal.ID, false)
	seedTour(t, db, "Cancelled", date, "12:00:00", 3, &ana.ID, true)
	seedTour(t, db, "Unassigned", date, "16:00:00", 6, nil, false)
	seedTour(t, db, "Other day", "2026-06-12", "10:00:00", 2, &ben.ID, false)

	sent, err := svc.SendGuideReminders(ctx, date)
	if err != nil {
		t.Fatalf("SendGuideReminders: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(line.to) != 1 || line.to[0] != "U-ana" {
		t.Fatalf("LINE pushes = %v", line.to)
	}

	var n models.Notification
	if err := db.Where("guide_id = ?", ana.ID).First(&n).Error; err != nil {
		t.Fatalf("load reminder: %v", err)
	}
	lines := strings.Split(n.Message, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "- 09:00 Tapas, 2 pax") {
		t.Fatalf("run sheet = %q", n.Message)
	}

	again, err := svc.SendGuideReminders(ctx, date)
	if err != nil || again != 0 {
		t.Fatalf("second pass sent %d, %v; want 0", again, err)
	}

	count, err := svc.AlertUnassignedTours(ctx, date)
	if err != nil || count != 1 {
		t.Fatalf("AlertUnassignedTours = %d, %v; want 1", count, err)
	}
	svc.AlertUnassignedTours(ctx, date)
	var desk int64
	db.Model(&models.Notification{}).Where("guide_id IS NULL").Count(&desk)
	if desk != 1 {
		t.Fatalf("desk alerts = %d, want 1", desk)
	}
}
