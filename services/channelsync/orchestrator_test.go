package channelsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/grouping"
)

var fixedNow = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

// fakePager serves canned pages. err[i], when set, is returned instead of
// page i. beforePage runs ahead of each fetch.
type fakePager struct {
	pages      [][]channel.RawBooking
	errs       map[int]error
	next       int
	calls      int
	beforePage func(page int)
}

func (p *fakePager) Next(ctx context.Context) ([]channel.RawBooking, error) {
	p.calls++
	if p.beforePage != nil {
		p.beforePage(p.next)
	}
	if err, ok := p.errs[p.next]; ok {
		return nil, err
	}
	if p.next >= len(p.pages) {
		return nil, channel.ErrNoMorePages
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

func (p *fakePager) Reset() { p.next = 0 }

type fakeSource struct {
	mu     sync.Mutex
	pager  func() *fakePager
	ranges [][2]time.Time
	last   *fakePager
}

func (s *fakeSource) FetchBookings(start, end time.Time) channel.Pager {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranges = append(s.ranges, [2]time.Time{start, end})
	s.last = s.pager()
	return s.last
}

func raw(id, title string, day int, clock string, adults int) channel.RawBooking {
	start := time.Date(2026, 6, day, 0, 0, 0, 0, time.UTC)
	h, _ := time.Parse("15:04", clock)
	start = start.Add(time.Duration(h.Hour())*time.Hour + time.Duration(h.Minute())*time.Minute)
	return channel.RawBooking{
		ID:                      channel.FlexibleID(id),
		ProductConfirmationCode: "C-" + id,
		Status:                  "CONFIRMED",
		Product:                 &channel.Product{Title: title},
		StartDateTime:           start.UnixMilli(),
		PriceCategoryBookings: []channel.PriceCategoryBooking{
			{PricingCategory: channel.PricingCategory{TicketCategory: "ADULT"}, Quantity: adults},
		},
		Raw: []byte(`{"id":"` + id + `"}`),
	}
}

func newOrchestrator(t *testing.T, db *gorm.DB, src Source, opts ...Option) *Orchestrator {
	t.Helper()
	cfg := Config{TenantID: "test", Location: time.UTC, AutoGroup: true}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewOrchestrator(db, src, grouping.NewEngine(db), cfg, opts...)
}

func snapshotTours(t *testing.T, db *gorm.DB) []models.Tour {
	t.Helper()
	var tours []models.Tour
	if err := db.Order("id").Find(&tours).Error; err != nil {
		t.Fatalf("load tours: %v", err)
	}
	return tours
}

func TestRunIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	pages := [][]channel.RawBooking{
		{raw("1", "Tapas Tour", 12, "10:30", 2), raw("2", "Tapas Tour", 12, "10:30", 3)},
		{raw("3", "Bike Tour", 13, "09:00", 4)},
	}
	src := &fakeSource{pager: func() *fakePager { return &fakePager{pages: pages} }}
	o := newOrchestrator(t, db, src)
	ctx := context.Background()

	first, err := o.Run(ctx, Request{Trigger: models.TriggerScheduled})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 3 || first.SyncedCount != 3 || first.TotalBookings != 3 || first.PagesFetched != 2 {
		t.Fatalf("unexpected first summary %+v", first)
	}
	if first.Status != models.SyncSucceeded || first.GroupsCreated != 1 {
		t.Fatalf("expected success with one group, got %s / %d", first.Status, first.GroupsCreated)
	}
	before := snapshotTours(t, db)

	second, err := o.Run(ctx, Request{Trigger: models.TriggerScheduled})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 0 || second.Unchanged != 3 {
		t.Fatalf("expected all unchanged, got %+v", second)
	}
	if second.GroupsCreated != 0 {
		t.Fatalf("second run must not create groups")
	}
	after := snapshotTours(t, db)
	if len(before) != len(after) {
		t.Fatalf("tour count changed %d -> %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if !b.UpdatedAt.Equal(a.UpdatedAt) || b.Participants != a.Participants || !sameUint(b.GroupID, a.GroupID) {
			t.Fatalf("tour %d changed between identical runs", b.ID)
		}
	}

	if got := src.ranges[0]; got[0].Format("2006-01-02") != "2026-06-10" || got[1].Format("2006-01-02") != "2026-06-24" {
		t.Fatalf("unexpected default range %v", got)
	}

	var runs []models.SyncHistory
	db.Order("id").Find(&runs)
	if len(runs) != 2 || runs[0].Status != models.SyncSucceeded || runs[1].Unchanged != 3 || runs[0].Trigger != models.TriggerScheduled {
		t.Fatalf("unexpected history %+v", runs)
	}
}

func TestRunCollectsItemErrors(t *testing.T) {
	db := dbtest.Open(t)
	noTitle := raw("2", "", 12, "10:30", 2)
	noTitle.Product = nil
	bad := channel.RawBooking{ID: "4", DecodeErr: errors.New("cannot unmarshal")}
	pages := [][]channel.RawBooking{{raw("1", "Tapas Tour", 12, "10:30", 2), noTitle, raw("3", "Tapas Tour", 12, "18:00", 1), bad}}
	src := &fakeSource{pager: func() *fakePager { return &fakePager{pages: pages} }}
	o := newOrchestrator(t, db, src)

	sum, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Status != models.SyncPartial {
		t.Fatalf("expected partial, got %s", sum.Status)
	}
	if sum.TotalBookings != 4 || sum.SyncedCount != 2 || len(sum.Errors) != 2 {
		t.Fatalf("unexpected counts %+v", sum)
	}
	if sum.TotalBookings != sum.SyncedCount+len(sum.Errors) {
		t.Fatalf("every fetched booking must be committed or reported")
	}
	if sum.Errors[0].ExternalID != "2" || sum.Errors[0].Kind != KindNormalization {
		t.Fatalf("unexpected item error %+v", sum.Errors[0])
	}

	var h models.SyncHistory
	db.First(&h, sum.HistoryID)
	var recorded []ItemError
	if err := json.Unmarshal(h.Errors, &recorded); err != nil {
		t.Fatalf("decode history errors: %v", err)
	}
	if h.ErrorCount != 2 || len(recorded) != 2 || h.Trigger != models.TriggerManual {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestRunAbortsOnAuthError(t *testing.T) {
	db := dbtest.Open(t)
	authErr := &channel.ChannelError{Kind: channel.KindAuth, Op: "booking-search", StatusCode: 401}
	src := &fakeSource{pager: func() *fakePager {
		return &fakePager{
			pages: [][]channel.RawBooking{{raw("1", "Tapas Tour", 12, "10:30", 2), raw("2", "Tapas Tour", 12, "10:30", 2)}},
			errs:  map[int]error{1: authErr},
		}
	}}
	o := newOrchestrator(t, db, src)

	sum, err := o.Run(context.Background(), Request{})
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if !errors.Is(err, channel.ErrUnauthorized) {
		t.Fatalf("expected auth error in chain, got %v", err)
	}
	if runErr.Processed != 2 || runErr.RangeStart != "2026-06-10" {
		t.Fatalf("unexpected run error context %+v", runErr)
	}
	if sum == nil || sum.Status != models.SyncFailed || sum.SyncedCount != 2 {
		t.Fatalf("expected failed summary with partial progress, got %+v", sum)
	}
	if sum.GroupsCreated != 0 {
		t.Fatalf("aborted runs must not auto-group")
	}

	var count int64
	db.Model(&models.Tour{}).Count(&count)
	if count != 2 {
		t.Fatalf("committed items must stay, got %d tours", count)
	}
	var h models.SyncHistory
	db.First(&h, sum.HistoryID)
	if h.Status != models.SyncFailed || h.FailureReason == "" || h.FinishedAt == nil {
		t.Fatalf("history not finalized: %+v", h)
	}
}

func TestRunAbortsOnPermissionError(t *testing.T) {
	db := dbtest.Open(t)
	permErr := &channel.ChannelError{Kind: channel.KindPermission, StatusCode: 303}
	src := &fakeSource{pager: func() *fakePager { return &fakePager{errs: map[int]error{0: permErr}} }}
	o := newOrchestrator(t, db, src)

	sum, err := o.Run(context.Background(), Request{})
	if !errors.Is(err, channel.ErrInsufficientPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if sum.Status != models.SyncFailed || sum.TotalBookings != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if src.last.calls != 1 {
		t.Fatalf("permission errors must not be retried by the run, got %d calls", src.last.calls)
	}
}

func TestRunCancelledBetweenPages(t *testing.T) {
	db := dbtest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{pager: func() *fakePager {
		return &fakePager{
			pages: [][]channel.RawBooking{
				{raw("1", "Tapas Tour", 12, "10:30", 2)},
				{raw("2", "Tapas Tour", 12, "10:30", 2)},
			},
			beforePage: func(page int) {
				if page == 0 {
					cancel()
				}
			},
		}
	}}
	o := newOrchestrator(t, db, src)

	sum, err := o.Run(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if sum.Status != models.SyncCancelled || sum.PagesFetched != 1 || sum.SyncedCount != 1 {
		t.Fatalf("expected one page processed before stop, got %+v", sum)
	}
	if src.last.calls != 1 {
		t.Fatalf("second page must not be fetched, got %d calls", src.last.calls)
	}
	var h models.SyncHistory
	db.First(&h, sum.HistoryID)
	if h.Status != models.SyncCancelled {
		t.Fatalf("history should record cancellation, got %s", h.Status)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	db := dbtest.Open(t)
	locker := NewMemoryLocker()
	src := &fakeSource{pager: func() *fakePager { return &fakePager{} }}
	o := newOrchestrator(t, db, src, WithLocker(locker))

	lease, err := locker.Acquire(context.Background(), "sync:test", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := o.Run(context.Background(), Request{}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	lease.Release()
	if _, err := o.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestRunMaintainsGroupsAfterChanges(t *testing.T) {
	db := dbtest.Open(t)
	current := [][]channel.RawBooking{{
		raw("1", "Walk", 12, "10:00", 2),
		raw("2", "Walk", 12, "10:00", 3),
		raw("3", "Walk", 12, "10:00", 4),
	}}
	src := &fakeSource{pager: func() *fakePager { return &fakePager{pages: current} }}
	o := newOrchestrator(t, db, src)
	ctx := context.Background()

	sum, err := o.Run(ctx, Request{})
	if err != nil || sum.GroupsCreated != 1 {
		t.Fatalf("first run: %v (%+v)", err, sum)
	}

	cancelled := raw("2", "Walk", 12, "10:00", 3)
	cancelled.Status = "CANCELLED"
	current = [][]channel.RawBooking{{raw("1", "Walk", 12, "10:00", 2), cancelled, raw("3", "Walk", 12, "10:00", 4)}}

	sum, err = o.Run(ctx, Request{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.Updated != 1 || sum.Unchanged != 2 {
		t.Fatalf("unexpected counts %+v", sum)
	}
	var group models.TourGroup
	if err := db.First(&group).Error; err != nil {
		t.Fatalf("load group: %v", err)
	}
	if group.TotalPax != 6 {
		t.Fatalf("expected total pax 6 after cancellation, got %d", group.TotalPax)
	}

	third := raw("3", "Walk", 12, "10:00", 4)
	third.Status = "CANCELLED"
	current = [][]channel.RawBooking{{raw("1", "Walk", 12, "10:00", 2), cancelled, third}}

	sum, err = o.Run(ctx, Request{})
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if sum.GroupsDissolved != 1 {
		t.Fatalf("expected the group to dissolve, got %+v", sum)
	}
	var h models.SyncHistory
	if err := db.First(&h, sum.HistoryID).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if h.GroupsDissolved != 1 {
		t.Fatalf("history must record dissolved groups, got %d", h.GroupsDissolved)
	}
}

func TestRangeOptions(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, Config{FullSyncDaysBack: 7, FullSyncDaysAhead: 30}, WithClock(func() time.Time { return fixedNow }))

	start, end, err := o.Range(Request{Full: true})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if start.Format("2006-01-02") != "2026-06-03" || end.Format("2006-01-02") != "2026-07-10" {
		t.Fatalf("unexpected full range %s..%s", start, end)
	}

	_, _, err = o.Range(Request{From: fixedNow, To: fixedNow.AddDate(0, 0, -1)})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func sameUint(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
