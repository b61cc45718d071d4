package services

import (
	"context"
	"errors"
	"testing"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/events"
	"tourdesk_go/services/grouping"
)

func TestCancelTourDissolvesTwoTourGroup(t *testing.T) {
	db := dbtest.Open(t)
	engine := grouping.NewEngine(db)
	pub := &recordingPublisher{}
	svc := NewTourService(db, engine, pub)
	ctx := context.Background()

	a := seedTour(t, db, "Old Town", "2026-06-12", "10:30:00", 3, nil, false)
	b := seedTour(t, db, "Old Town", "2026-06-12", "10:30:00", 4, nil, false)
	group, err := engine.ManualMerge(ctx, []uint{a.ID, b.ID}, "", "")
	if err != nil {
		t.Fatalf("ManualMerge: %v", err)
	}

	tour, recalc, err := svc.CancelTour(ctx, a.ID)
	if err != nil {
		t.Fatalf("CancelTour: %v", err)
	}
	if !tour.Cancelled || tour.CancelledAt == nil {
		t.Fatalf("tour not cancelled: %+v", tour)
	}
	if recalc == nil || !recalc.Dissolved || recalc.GroupID != group.ID {
		t.Fatalf("recalc = %+v, want dissolution of %d", recalc, group.ID)
	}

	var remaining models.Tour
	db.First(&remaining, b.ID)
	if remaining.GroupID != nil {
		t.Fatalf("surviving tour should be ungrouped, group %v", *remaining.GroupID)
	}
	if len(pub.keys) != 1 || pub.keys[0] != events.TourCancelled {
		t.Fatalf("events = %v", pub.keys)
	}

	// Second cancel is a no-op.
	if _, recalc, err := svc.CancelTour(ctx, a.ID); err != nil || recalc != nil {
		t.Fatalf("repeat cancel: %+v, %v", recalc, err)
	}
	if len(pub.keys) != 1 {
		t.Fatalf("repeat cancel published again")
	}
}

func TestSetTourGuide(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewTourService(db, nil, nil)
	ctx := context.Background()

	active := seedGuide(t, db, "Ana", "", true)
	retired := seedGuide(t, db, "Ben", "", false)
	tour := seedTour(t, db, "Tapas", "2026-06-12", "19:00:00", 2, nil, false)

	tests := []struct {
		name    string
		guide   *uint
		wantErr error
		needs   bool
	}{
		{name: "assign", guide: &active.ID, needs: false},
		{name: "inactive guide", guide: &retired.ID, wantErr: grouping.ErrGuideInactive},
		{name: "unknown guide", guide: func() *uint { id := uint(99); return &id }(), wantErr: grouping.ErrGuideNotFound},
		{name: "clear", guide: nil, needs: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.SetTourGuide(ctx, tour.ID, tt.guide)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetTourGuide: %v", err)
			}
			if got.NeedsGuideAssignment != tt.needs {
				t.Fatalf("needs_guide_assignment = %v, want %v", got.NeedsGuideAssignment, tt.needs)
			}
			if (tt.guide == nil) != (got.GuideID == nil) {
				t.Fatalf("guide_id = %v", got.GuideID)
			}
		})
	}

	if _, err := svc.SetTourGuide(ctx, 999, nil); !errors.Is(err, grouping.ErrTourNotFound) {
		t.Fatalf("expected ErrTourNotFound, got %v", err)
	}
}

func TestListTours(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewTourService(db, nil, nil)
	seedTour(t, db, "A", "2026-06-11", "10:00:00", 2, nil, false)
	seedTour(t, db, "B", "2026-06-12", "09:00:00", 2, nil, false)
	seedTour(t, db, "C", "2026-06-12", "08:00:00", 2, nil, true)
	seedTour(t, db, "D", "2026-06-14", "08:00:00", 2, nil, false)

	tours, total, err := svc.ListTours(context.Background(), TourFilter{From: "2026-06-11", To: "2026-06-12"})
	if err != nil {
		t.Fatalf("ListTours: %v", err)
	}
	if total != 2 || tours[0].Title != "A" || tours[1].Title != "B" {
		t.Fatalf("got %d tours: %+v", total, tours)
	}

	_, total, _ = svc.ListTours(context.Background(), TourFilter{IncludeCancelled: true})
	if total != 4 {
		t.Fatalf("with cancelled total = %d, want 4", total)
	}
}
