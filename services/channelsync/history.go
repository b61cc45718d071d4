package channelsync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tourdesk_go/models"
)

var ErrHistoryNotFound = errors.New("sync history not found")

// HistoryFilter narrows ListHistory.
type HistoryFilter struct {
	Status  models.SyncStatus
	Trigger models.SyncTrigger
	Limit   int
	Offset  int
}

// ListHistory returns runs newest first with the total matching count.
func ListHistory(ctx context.Context, db *gorm.DB, f HistoryFilter) ([]models.SyncHistory, int64, error) {
	q := db.WithContext(ctx).Model(&models.SyncHistory{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Trigger != "" {
		q = q.Where("`trigger` = ?", f.Trigger)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var runs []models.SyncHistory
	err := q.Order("started_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&runs).Error
	return runs, total, err
}

func GetHistory(ctx context.Context, db *gorm.DB, id uint) (*models.SyncHistory, error) {
	var h models.SyncHistory
	if err := db.WithContext(ctx).First(&h, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHistoryNotFound
		}
		return nil, err
	}
	return &h, nil
}

// MarkInterruptedRuns fails runs left in running state by a process that
// died mid-run. Called at startup before the scheduler starts.
func MarkInterruptedRuns(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&models.SyncHistory{}).
		Where("status = ?", models.SyncRunning).
		Updates(map[string]interface{}{
			"status":         models.SyncFailed,
			"finished_at":    now,
			"failure_reason": "interrupted: process stopped before the run finished",
		})
	return res.RowsAffected, res.Error
}

// PruneHistory deletes finished runs that started before cutoff.
func PruneHistory(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("started_at < ? AND status <> ?", cutoff, models.SyncRunning).
		Delete(&models.SyncHistory{})
	return res.RowsAffected, res.Error
}
