package notifications

import (
	"context"
	"errors"
	"testing"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/grouping"
)

type recordingHub struct {
	sent map[uint]int
}

func (h *recordingHub) BroadcastToGuide(guideID uint, _ interface{}) {
	if h.sent == nil {
		h.sent = map[uint]int{}
	}
	h.sent[guideID]++
}

type recordingLine struct {
	to   []string
	fail bool
}

func (l *recordingLine) PushText(to, _ string) error {
	l.to = append(l.to, to)
	if l.fail {
		return errors.New("line down")
	}
	return nil
}

func TestEnqueueOrCreateWritesRowsAndBroadcasts(t *testing.T) {
	db := dbtest.Open(t)
	hub := &recordingHub{}
	svc := NewService(db, nil, true, hub, nil)
	ctx := context.Background()

	if err := svc.EnqueueOrCreate(ctx, nil, New("x", "y", "info")); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}

	n := New("Sync failed", "channel rejected credentials", "bogus").WithData(map[string]string{"run_id": "r1"})
	if err := svc.EnqueueOrCreate(ctx, []uint{DeskRecipient, 4}, n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var rows []models.Notification
	if err := db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].GuideID != nil {
		t.Fatalf("desk notification should have no guide, got %v", *rows[0].GuideID)
	}
	if rows[1].GuideID == nil || *rows[1].GuideID != 4 {
		t.Fatalf("expected guide 4, got %v", rows[1].GuideID)
	}
	if rows[0].Type != "info" {
		t.Fatalf("unknown type should fall back to info, got %q", rows[0].Type)
	}
	if string(rows[1].Data) != `{"run_id":"r1"}` {
		t.Fatalf("data = %s", rows[1].Data)
	}
	if hub.sent[DeskRecipient] != 1 || hub.sent[4] != 1 {
		t.Fatalf("broadcasts = %v", hub.sent)
	}
}

func TestGuideAssignedStoresAndPushes(t *testing.T) {
	tests := []struct {
		name       string
		lineUserID string
		lineFails  bool
		wantPushes int
	}{
		{name: "with LINE id", lineUserID: "U123", wantPushes: 1},
		{name: "without LINE id", wantPushes: 0},
		{name: "LINE failure is not fatal", lineUserID: "U123", lineFails: true, wantPushes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.Open(t)
			line := &recordingLine{fail: tt.lineFails}
			svc := NewService(db, nil, false, nil, line)

			a := grouping.Assignment{
				Group:   models.TourGroup{Name: "Old Town 2026-06-12 10:30 (1)", TourDate: "2026-06-12", TourTime: "10:30", TotalPax: 7},
				Guide:   grouping.GuideInfo{ID: 9, Name: "Ana", LineUserID: tt.lineUserID, Active: true},
				TourIDs: []uint{1, 2},
			}
			a.Group.ID = 3
			if err := svc.GuideAssigned(context.Background(), a); err != nil {
				t.Fatalf("GuideAssigned: %v", err)
			}
			if len(line.to) != tt.wantPushes {
				t.Fatalf("pushes = %d, want %d", len(line.to), tt.wantPushes)
			}

			gid := uint(9)
			rows, total, err := svc.List(context.Background(), ListFilter{GuideID: &gid, UnreadOnly: true})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != 1 || len(rows) != 1 {
				t.Fatalf("expected one unread notification, got %d", total)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, nil, false, nil, nil)
	ctx := context.Background()

	if err := svc.EnqueueOrCreate(ctx, []uint{5, 5, DeskRecipient}, New("a", "b", "warning")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var first models.Notification
	db.Where("guide_id = ?", 5).Order("id").First(&first)

	other := uint(6)
	if err := svc.MarkRead(ctx, first.ID, &other); err == nil {
		t.Fatalf("marking another guide's notification should fail")
	}
	guide := uint(5)
	if err := svc.MarkRead(ctx, first.ID, &guide); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	n, err := svc.MarkAllRead(ctx, &guide)
	if err != nil || n != 1 {
		t.Fatalf("MarkAllRead = %d, %v; want 1", n, err)
	}
	_, unreadDesk, _ := svc.List(ctx, ListFilter{UnreadOnly: true})
	if unreadDesk != 1 {
		t.Fatalf("desk notification should stay unread, got %d", unreadDesk)
	}
}
