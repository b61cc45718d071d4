package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/channelsync"
)

// Syncer starts a sync run.
type Syncer interface {
	Run(ctx context.Context, req channelsync.Request) (*channelsync.Summary, error)
}

// ScheduleConfig holds cron specs. An empty spec disables that job.
type ScheduleConfig struct {
	Location      *time.Location
	SyncCron      string
	ReminderCron  string
	MaintainCron  string
	RetentionDays int
	JobTimeout    time.Duration
}

// ScheduleManager runs the periodic jobs: incremental sync, guide reminders
// and sync history retention.
type ScheduleManager struct {
	cfg       ScheduleConfig
	db        *gorm.DB
	syncer    Syncer
	reminders *GuideReminderService
	archive   *SyncArchiveService
	cron      *cron.Cron
	log       *logrus.Entry
}

// NewScheduleManager wires the jobs. reminders and archive may be nil; without
// an archive, old history is pruned instead of archived.
func NewScheduleManager(cfg ScheduleConfig, db *gorm.DB, syncer Syncer, reminders *GuideReminderService, archive *SyncArchiveService) *ScheduleManager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &ScheduleManager{
		cfg:       cfg,
		db:        db,
		syncer:    syncer,
		reminders: reminders,
		archive:   archive,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		log: logrus.WithField("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop.
func (sm *ScheduleManager) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"sync", sm.cfg.SyncCron, sm.RunScheduledSync},
		{"guide-reminders", sm.cfg.ReminderCron, sm.RunReminders},
		{"history-maintenance", sm.cfg.MaintainCron, sm.RunHistoryMaintenance},
	}
	for _, j := range jobs {
		if j.spec == "" {
			sm.log.WithField("job", j.name).Info("Job disabled")
			continue
		}
		if _, err := sm.cron.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
		sm.log.WithFields(logrus.Fields{"job": j.name, "spec": j.spec}).Info("Job scheduled")
	}
	sm.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (sm *ScheduleManager) Stop() {
	<-sm.cron.Stop().Done()
}

func (sm *ScheduleManager) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sm.cfg.JobTimeout)
}

// RunScheduledSync runs one incremental sync. A run already in progress is
// not an error for the scheduler.
func (sm *ScheduleManager) RunScheduledSync() {
	if sm.syncer == nil {
		return
	}
	ctx, cancel := sm.jobContext()
	defer cancel()

	sum, err := sm.syncer.Run(ctx, channelsync.Request{Trigger: models.TriggerScheduled})
	switch {
	case errors.Is(err, channelsync.ErrSyncInProgress):
		sm.log.Info("Scheduled sync skipped: another run is in progress")
	case err != nil:
		sm.log.WithError(err).Error("Scheduled sync failed")
	default:
		sm.log.WithFields(logrus.Fields{"run_id": sum.RunID, "status": sum.Status}).Info("Scheduled sync finished")
	}
}

// RunReminders sends tomorrow's run sheets and the desk alert.
func (sm *ScheduleManager) RunReminders() {
	if sm.reminders == nil {
		return
	}
	ctx, cancel := sm.jobContext()
	defer cancel()

	date := sm.reminders.Tomorrow()
	sent, err := sm.reminders.SendGuideReminders(ctx, date)
	if err != nil {
		sm.log.WithError(err).Error("Guide reminders failed")
	}
	unassigned, err := sm.reminders.AlertUnassignedTours(ctx, date)
	if err != nil {
		sm.log.WithError(err).Error("Unassigned tour alert failed")
	}
	sm.log.WithFields(logrus.Fields{"date": date, "guides": sent, "unassigned": unassigned}).Info("Reminders sent")
}

// RunHistoryMaintenance archives or prunes history past retention.
func (sm *ScheduleManager) RunHistoryMaintenance() {
	if sm.cfg.RetentionDays <= 0 {
		return
	}
	ctx, cancel := sm.jobContext()
	defer cancel()

	if sm.archive != nil {
		if _, err := sm.archive.ArchiveOldRuns(ctx, sm.cfg.RetentionDays); err != nil {
			sm.log.WithError(err).Error("Sync history archive failed")
		}
		return
	}
	cutoff := time.Now().AddDate(0, 0, -sm.cfg.RetentionDays)
	n, err := channelsync.PruneHistory(ctx, sm.db, cutoff)
	if err != nil {
		sm.log.WithError(err).Error("Sync history prune failed")
		return
	}
	sm.log.WithField("deleted", n).Info("Sync history pruned")
}
