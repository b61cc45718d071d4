package services

import (
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/services/grouping"
)

func TestBuildManifest(t *testing.T) {
	db := dbtest.Open(t)
	engine := grouping.NewEngine(db)
	svc := NewManifestService(db)
	ctx := context.Background()

	ana := seedGuide(t, db, "Ana", "", true)
	a := seedTour(t, db, "Old Town", "2026-06-12", "10:30:00", 3, nil, false)
	b := seedTour(t, db, "Old Town", "2026-06-12", "10:30:00", 4, nil, false)
	seedTour(t, db, "Tapas", "2026-06-12", "19:00:00", 2, &ana.ID, false)
	seedTour(t, db, "Gone", "2026-06-12", "11:00:00", 5, nil, true)
	seedTour(t, db, "Tomorrow", "2026-06-13", "10:00:00", 2, nil, false)

	group, err := engine.ManualMerge(ctx, []uint{a.ID, b.ID}, "Morning walk", "")
	if err != nil {
		t.Fatalf("ManualMerge: %v", err)
	}
	if _, err := engine.SetGroupGuide(ctx, group.ID, &ana.ID); err != nil {
		t.Fatalf("SetGroupGuide: %v", err)
	}

	buf, sum, err := svc.BuildManifest(ctx, "2026-06-12")
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if sum.Groups != 1 || sum.Tours != 3 || sum.TotalPax != 9 || sum.Unassigned != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.FileName != "manifest_2026-06-12.xlsx" {
		t.Fatalf("file name = %s", sum.FileName)
	}

	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	groupRows, err := f.GetRows("Groups")
	if err != nil {
		t.Fatalf("Groups sheet: %v", err)
	}
	if len(groupRows) != 2 || groupRows[1][0] != "Morning walk" || groupRows[1][3] != "Ana" || groupRows[1][4] != "7" {
		t.Fatalf("group rows = %v", groupRows)
	}

	tourRows, err := f.GetRows("Tours")
	if err != nil {
		t.Fatalf("Tours sheet: %v", err)
	}
	if len(tourRows) != 4 {
		t.Fatalf("expected header plus 3 tours, got %d rows", len(tourRows))
	}
	if tourRows[1][0] != "10:30" || tourRows[3][1] != "Tapas" {
		t.Fatalf("tour rows out of order: %v", tourRows)
	}
}

func TestBuildManifestRejectsBadDate(t *testing.T) {
	svc := NewManifestService(dbtest.Open(t))
	if _, _, err := svc.BuildManifest(context.Background(), "12/06/2026"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
