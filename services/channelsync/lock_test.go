package channelsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/grouping"
)

func TestMemoryLockerLeaseRenewal(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	locker := NewMemoryLocker()
	locker.now = func() time.Time { return now }
	ttl := 15 * time.Minute

	first, err := locker.Acquire(ctx, "sync:test", ttl)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(10 * time.Minute)
	if err := first.Extend(ctx, ttl); err != nil {
		t.Fatalf("extend: %v", err)
	}
	now = now.Add(6 * time.Minute)
	if _, err := locker.Acquire(ctx, "sync:test", ttl); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("renewed lease must keep the lock past the original ttl, got %v", err)
	}

	// Without renewal the lease lapses and can be taken over.
	now = now.Add(10 * time.Minute)
	second, err := locker.Acquire(ctx, "sync:test", ttl)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if err := first.Extend(ctx, ttl); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost for the lapsed lease, got %v", err)
	}
	first.Release()
	if _, err := locker.Acquire(ctx, "sync:test", ttl); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("a lapsed lease must not release the new holder, got %v", err)
	}
	second.Release()
	if _, err := locker.Acquire(ctx, "sync:test", ttl); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

// countingLocker wraps a MemoryLocker and can force renewals to fail.
type countingLocker struct {
	inner   *MemoryLocker
	mu      sync.Mutex
	extends int
	lose    bool
}

type countingLease struct {
	Lease
	l *countingLocker
}

func (c *countingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lease, err := c.inner.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return &countingLease{Lease: lease, l: c}, nil
}

func (c *countingLease) Extend(ctx context.Context, ttl time.Duration) error {
	c.l.mu.Lock()
	c.l.extends++
	lose := c.l.lose
	c.l.mu.Unlock()
	if lose {
		return ErrLockLost
	}
	return c.Lease.Extend(ctx, ttl)
}

func TestRunRenewsLockAcrossSlowPages(t *testing.T) {
	db := dbtest.Open(t)
	now := fixedNow
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	inner := NewMemoryLocker()
	inner.now = clock
	locker := &countingLocker{inner: inner}

	var overlap error
	src := &fakeSource{pager: func() *fakePager {
		return &fakePager{
			pages: [][]channel.RawBooking{
				{raw("1", "Tapas Tour", 12, "10:30", 2)},
				{raw("2", "Tapas Tour", 12, "10:30", 2)},
				{raw("3", "Tapas Tour", 12, "10:30", 2)},
			},
			beforePage: func(int) {
				// Each page takes longer than half the lock ttl.
				mu.Lock()
				now = now.Add(10 * time.Minute)
				mu.Unlock()
				if lease, err := inner.Acquire(context.Background(), "sync:test", time.Minute); err == nil {
					lease.Release()
					overlap = errors.New("second holder acquired the tenant lock during the run")
				}
			},
		}
	}}
	o := NewOrchestrator(db, src, grouping.NewEngine(db), Config{TenantID: "test", Location: time.UTC, LockTTL: 15 * time.Minute},
		WithClock(clock), WithLocker(locker))

	sum, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if overlap != nil {
		t.Fatal(overlap)
	}
	if sum.PagesFetched != 3 || locker.extends < 3 {
		t.Fatalf("expected a renewal per page, got %d pages and %d renewals", sum.PagesFetched, locker.extends)
	}
}

func TestRunAbortsWhenLockIsLost(t *testing.T) {
	db := dbtest.Open(t)
	locker := &countingLocker{inner: NewMemoryLocker(), lose: true}
	src := &fakeSource{pager: func() *fakePager {
		return &fakePager{pages: [][]channel.RawBooking{{raw("1", "Tapas Tour", 12, "10:30", 2)}}}
	}}
	o := newOrchestrator(t, db, src, WithLocker(locker))

	sum, err := o.Run(context.Background(), Request{})
	if !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if sum.Status != models.SyncFailed || src.last.calls != 0 {
		t.Fatalf("no page may be fetched without the lock, got %+v after %d calls", sum, src.last.calls)
	}
}

func TestWithTenantLockSharesRunLock(t *testing.T) {
	db := dbtest.Open(t)
	locker := NewMemoryLocker()
	src := &fakeSource{pager: func() *fakePager { return &fakePager{} }}
	o := newOrchestrator(t, db, src, WithLocker(locker))
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sync:test", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ran := false
	err = o.WithTenantLock(ctx, func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, ErrSyncInProgress) || ran {
		t.Fatalf("expected ErrSyncInProgress without running, got %v (ran=%v)", err, ran)
	}
	lease.Release()

	err = o.WithTenantLock(ctx, func(ctx context.Context) error {
		ran = true
		if _, err := o.Run(ctx, Request{}); !errors.Is(err, ErrSyncInProgress) {
			t.Fatalf("sync must wait for manual grouping, got %v", err)
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run under the lock, got %v", err)
	}
	if _, err := o.Run(ctx, Request{}); err != nil {
		t.Fatalf("run after grouping: %v", err)
	}
}
