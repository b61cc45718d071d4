// Package channelsync drives booking sync runs: fetch pages from the channel,
// normalize and reconcile each booking, then recompute grouping.
package channelsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/booking"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/events"
	"tourdesk_go/services/grouping"
	"tourdesk_go/services/metrics"
	"tourdesk_go/utils"
)

var ErrInvalidRange = errors.New("sync range end is before its start")

// Error kinds recorded per item.
const (
	KindNormalization = "normalization"
	KindConflict      = "conflict"
	KindReconcile     = "reconcile"
)

// Source is the channel side of a run.
type Source interface {
	FetchBookings(start, end time.Time) channel.Pager
}

// Grouper is the grouping side of a run.
type Grouper interface {
	MaintainGroups(ctx context.Context, groupIDs []uint) ([]grouping.Recalc, error)
	AutoGroup(ctx context.Context, scope grouping.Scope) ([]grouping.Result, error)
}

// Broadcaster pushes run summaries to connected dashboards.
type Broadcaster interface {
	Broadcast(message interface{})
}

// Config holds run defaults.
type Config struct {
	TenantID          string
	Location          *time.Location
	DaysAhead         int
	FullSyncDaysBack  int
	FullSyncDaysAhead int
	AutoGroup         bool
	LockTTL           time.Duration
	ItemTimeout       time.Duration
}

// Request selects what one run covers. Zero dates fall back to the
// incremental window, or the full window when Full is set.
type Request struct {
	Trigger   models.SyncTrigger
	From      time.Time
	To        time.Time
	Full      bool
	AutoGroup *bool
}

// ItemError is one booking that was fetched but not committed.
type ItemError struct {
	ExternalID string `json:"external_id"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// Summary is what a run reports, also on partial failure.
type Summary struct {
	RunID           string             `json:"run_id"`
	HistoryID       uint               `json:"history_id"`
	Trigger         models.SyncTrigger `json:"trigger"`
	Status          models.SyncStatus  `json:"status"`
	RangeStart      string             `json:"range_start"`
	RangeEnd        string             `json:"range_end"`
	PagesFetched    int                `json:"pages_fetched"`
	TotalBookings   int                `json:"total_bookings"`
	SyncedCount     int                `json:"synced_count"`
	Inserted        int                `json:"inserted"`
	Updated         int                `json:"updated"`
	Unchanged       int                `json:"unchanged"`
	Errors          []ItemError        `json:"errors"`
	GroupsCreated   int                `json:"groups_created"`
	GroupsDissolved int                `json:"groups_dissolved"`
	Warnings        []string           `json:"warnings,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// RunError is returned when a run aborts. The summary returned alongside
// it holds the counts reached before the failure.
type RunError struct {
	RunID      string
	RangeStart string
	RangeEnd   string
	Processed  int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync run %s (%s..%s) aborted after %d booking(s): %v", e.RunID, e.RangeStart, e.RangeEnd, e.Processed, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Orchestrator runs syncs. One run per tenant at a time; within a run,
// bookings are reconciled one by one in channel order.
type Orchestrator struct {
	db          *gorm.DB
	source      Source
	grouper     Grouper
	normalizer  *booking.Normalizer
	reconciler  *booking.Reconciler
	locker      Locker
	publisher   events.Publisher
	broadcaster Broadcaster
	cfg         Config
	now         func() time.Time
	log         *logrus.Entry
}

type Option func(*Orchestrator)

func WithLocker(l Locker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithPublisher(p events.Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

func WithBroadcaster(b Broadcaster) Option { return func(o *Orchestrator) { o.broadcaster = b } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(db *gorm.DB, source Source, grouper Grouper, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 14
	}
	if cfg.FullSyncDaysAhead <= 0 {
		cfg.FullSyncDaysAhead = 180
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 10 * time.Second
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "default"
	}
	o := &Orchestrator{
		db:         db,
		source:     source,
		grouper:    grouper,
		normalizer: booking.NewNormalizer(cfg.Location),
		reconciler: booking.NewReconciler(db),
		locker:     NewMemoryLocker(),
		publisher:  events.NoopPublisher{},
		cfg:        cfg,
		now:        time.Now,
		log:        logrus.WithFields(logrus.Fields{"component": "sync", "tenant": cfg.TenantID}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Range resolves the calendar window a request covers.
func (o *Orchestrator) Range(req Request) (time.Time, time.Time, error) {
	today := utils.StartOfDay(o.now().In(o.cfg.Location))
	start, end := today, today.AddDate(0, 0, o.cfg.DaysAhead)
	if req.Full {
		start = today.AddDate(0, 0, -o.cfg.FullSyncDaysBack)
		end = today.AddDate(0, 0, o.cfg.FullSyncDaysAhead)
	}
	if !req.From.IsZero() {
		start = utils.StartOfDay(req.From.In(o.cfg.Location))
	}
	if !req.To.IsZero() {
		end = utils.StartOfDay(req.To.In(o.cfg.Location))
	}
	if end.Before(start) {
		return start, end, ErrInvalidRange
	}
	return start, end, nil
}

// Run performs one sync. Item failures are collected in the summary; a
// channel auth, permission or exhausted transient error, or cancellation
// between pages, aborts the run and is returned as a *RunError together
// with the summary of what was committed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	if !req.Trigger.Valid() {
		return nil, &models.InvalidEnumError{Enum: "sync trigger", Value: string(req.Trigger)}
	}
	start, end, err := o.Range(req)
	if err != nil {
		return nil, err
	}

	lease, err := o.locker.Acquire(ctx, o.lockKey(), o.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	sum := &Summary{
		RunID:      uuid.NewString(),
		Trigger:    req.Trigger,
		Status:     models.SyncRunning,
		RangeStart: start.Format(utils.DateLayout),
		RangeEnd:   end.Format(utils.DateLayout),
		Errors:     []ItemError{},
		StartedAt:  o.now(),
	}
	log := o.log.WithFields(logrus.Fields{"run_id": sum.RunID, "trigger": req.Trigger, "from": sum.RangeStart, "to": sum.RangeEnd})

	history := models.SyncHistory{
		RunID:      sum.RunID,
		TenantID:   o.cfg.TenantID,
		Trigger:    req.Trigger,
		Status:     models.SyncRunning,
		RangeStart: sum.RangeStart,
		RangeEnd:   sum.RangeEnd,
		StartedAt:  sum.StartedAt,
		Errors:     datatypes.JSON("[]"),
	}
	if err := o.db.WithContext(ctx).Create(&history).Error; err != nil {
		return nil, fmt.Errorf("create sync history: %w", err)
	}
	sum.HistoryID = history.ID
	log.Info("Sync run started")

	affected := map[uint]struct{}{}
	abortErr := o.sweep(ctx, lease, start, end, sum, affected)

	// Data from committed items stays even when the run was cancelled, so
	// group upkeep runs detached from the caller's context.
	post := context.WithoutCancel(ctx)
	if err := o.renew(post, lease, log); err != nil && abortErr == nil {
		abortErr = err
	}
	o.maintainGroups(post, sum, affected, log)

	autoGroup := o.cfg.AutoGroup
	if req.AutoGroup != nil {
		autoGroup = *req.AutoGroup
	}
	if abortErr == nil && autoGroup {
		results, err := o.grouper.AutoGroup(post, grouping.Scope{From: sum.RangeStart, To: sum.RangeEnd})
		if err != nil {
			sum.Warnings = append(sum.Warnings, "auto-group: "+err.Error())
			log.WithError(err).Error("Auto-grouping failed")
		}
		sum.GroupsCreated = len(results)
	}

	switch {
	case errors.Is(abortErr, context.Canceled), errors.Is(abortErr, context.DeadlineExceeded):
		sum.Status = models.SyncCancelled
	case abortErr != nil:
		sum.Status = models.SyncFailed
	case len(sum.Errors) > 0 || len(sum.Warnings) > 0:
		sum.Status = models.SyncPartial
	default:
		sum.Status = models.SyncSucceeded
	}
	if abortErr != nil {
		sum.FailureReason = abortErr.Error()
	}
	sum.FinishedAt = o.now()

	if err := o.finishHistory(post, history.ID, sum); err != nil {
		log.WithError(err).Error("Failed to record sync history")
	}
	o.report(post, sum, log)

	if abortErr != nil {
		return sum, &RunError{
			RunID:      sum.RunID,
			RangeStart: sum.RangeStart,
			RangeEnd:   sum.RangeEnd,
			Processed:  sum.TotalBookings,
			Err:        abortErr,
		}
	}
	return sum, nil
}

// lockKey is the tenant lock shared by sync runs and manual grouping.
func (o *Orchestrator) lockKey() string { return "sync:" + o.cfg.TenantID }

// WithTenantLock runs fn while holding the tenant lock, so manual grouping
// never interleaves with a sync run's upserts. It returns ErrSyncInProgress
// when a run holds the lock.
func (o *Orchestrator) WithTenantLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lease, err := o.locker.Acquire(ctx, o.lockKey(), o.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx)
}

// renew pushes the lease expiry out by a full TTL. Only a lost lease is
// fatal; a failed renewal against a live lock is logged and retried at the
// next page.
func (o *Orchestrator) renew(ctx context.Context, lease Lease, log *logrus.Entry) error {
	err := lease.Extend(ctx, o.cfg.LockTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockLost):
		return err
	default:
		log.WithError(err).Warn("Failed to renew sync lock")
		return nil
	}
}

// sweep pulls every page and reconciles items in order. The lease is
// renewed before each page fetch. It returns the error that stopped the
// sweep, or nil once the pager is exhausted.
func (o *Orchestrator) sweep(ctx context.Context, lease Lease, start, end time.Time, sum *Summary, affected map[uint]struct{}) error {
	pager := o.source.FetchBookings(start, end)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.renew(ctx, lease, o.log); err != nil {
			return err
		}
		items, err := pager.Next(ctx)
		if errors.Is(err, channel.ErrNoMorePages) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !channel.IsFatal(err) {
				return ctxErr
			}
			return err
		}
		sum.PagesFetched++
		metrics.PagesFetched.Inc()
		for _, item := range items {
			o.processItem(ctx, item, sum, affected)
		}
	}
}

func (o *Orchestrator) processItem(ctx context.Context, item channel.RawBooking, sum *Summary, affected map[uint]struct{}) {
	sum.TotalBookings++
	nb, err := o.normalizer.Normalize(item)
	if err != nil {
		o.itemFailed(sum, item.ID.String(), KindNormalization, err)
		return
	}

	// An item is a short atomic unit: once started it is not interrupted
	// by cancellation, only bounded by its own timeout.
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ItemTimeout)
	res, err := o.reconciler.Reconcile(itemCtx, nb)
	cancel()
	if err != nil {
		kind := KindReconcile
		var conflict *booking.ConflictError
		if errors.As(err, &conflict) {
			kind = KindConflict
		}
		o.itemFailed(sum, nb.ExternalID, kind, err)
		return
	}

	sum.SyncedCount++
	switch res.Action {
	case booking.ActionInserted:
		sum.Inserted++
	case booking.ActionUpdated:
		sum.Updated++
	case booking.ActionUnchanged:
		sum.Unchanged++
	}
	metrics.BookingsProcessed.WithLabelValues(string(res.Action)).Inc()
	if res.GroupAffected && res.GroupID != nil {
		affected[*res.GroupID] = struct{}{}
	}
}

func (o *Orchestrator) itemFailed(sum *Summary, externalID, kind string, err error) {
	if externalID == "" {
		externalID = "?"
	}
	sum.Errors = append(sum.Errors, ItemError{ExternalID: externalID, Kind: kind, Reason: err.Error()})
	metrics.BookingsProcessed.WithLabelValues("error").Inc()
	o.log.WithError(err).WithFields(logrus.Fields{"external_id": externalID, "kind": kind}).Warn("Booking skipped")
}

func (o *Orchestrator) maintainGroups(ctx context.Context, sum *Summary, affected map[uint]struct{}, log *logrus.Entry) {
	if len(affected) == 0 {
		return
	}
	ids := make([]uint, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	rcs, err := o.grouper.MaintainGroups(ctx, ids)
	if err != nil {
		sum.Warnings = append(sum.Warnings, "group maintenance: "+err.Error())
		log.WithError(err).Error("Group maintenance failed")
	}
	for _, rc := range rcs {
		if rc.Dissolved {
			sum.GroupsDissolved++
		}
	}
}

func (o *Orchestrator) finishHistory(ctx context.Context, id uint, sum *Summary) error {
	errs, err := json.Marshal(sum.Errors)
	if err != nil {
		return err
	}
	finished := sum.FinishedAt
	return o.db.WithContext(ctx).Model(&models.SyncHistory{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         sum.Status,
		"finished_at":    &finished,
		"pages_fetched":  sum.PagesFetched,
		"total_bookings": sum.TotalBookings,
		"synced_count":   sum.SyncedCount,
		"inserted":       sum.Inserted,
		"updated":        sum.Updated,
		"unchanged":      sum.Unchanged,
		"error_count":    len(sum.Errors),
		"groups_created":   sum.GroupsCreated,
		"groups_dissolved": sum.GroupsDissolved,
		"errors":           datatypes.JSON(errs),
		"failure_reason":   sum.FailureReason,
	}).Error
}

func (o *Orchestrator) report(ctx context.Context, sum *Summary, log *logrus.Entry) {
	elapsed := sum.FinishedAt.Sub(sum.StartedAt)
	metrics.SyncRunsTotal.WithLabelValues(string(sum.Trigger), string(sum.Status)).Inc()
	metrics.SyncDuration.WithLabelValues(string(sum.Trigger)).Observe(elapsed.Seconds())

	entry := log.WithFields(logrus.Fields{
		"status":         sum.Status,
		"pages":          sum.PagesFetched,
		"total_bookings": sum.TotalBookings,
		"synced":         sum.SyncedCount,
		"inserted":       sum.Inserted,
		"updated":        sum.Updated,
		"unchanged":      sum.Unchanged,
		"errors":         len(sum.Errors),
		"groups_created": sum.GroupsCreated,
		"duration":       elapsed.String(),
	})
	if sum.Status == models.SyncSucceeded {
		entry.Info("Sync run finished")
	} else {
		entry.Warn("Sync run finished with problems")
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, events.SyncCompleted, sum); err != nil {
		log.WithError(err).Warn("Failed to publish sync event")
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(map[string]interface{}{"type": "sync_completed", "data": sum})
	}
}
