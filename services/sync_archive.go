package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/channelsync"
)

const minArchiveAgeDays = 7

var (
	ErrArchiveNotFound  = errors.New("archive not found")
	ErrArchiveTooRecent = fmt.Errorf("minimum archive age is %d days", minArchiveAgeDays)
)

// ArchiveStore is the object storage used for sync history archives.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3ArchiveStore stores archives in one S3 bucket.
type S3ArchiveStore struct {
	client *s3.Client
	bucket string
}

// NewS3ArchiveStore loads the default AWS credential chain for region.
func NewS3ArchiveStore(ctx context.Context, region, bucket string) (*S3ArchiveStore, error) {
	if bucket == "" {
		return nil, errors.New("S3 bucket not configured")
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3ArchiveStore{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3ArchiveStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3ArchiveStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// SyncArchiveService moves old sync history rows into zipped S3 objects.
type SyncArchiveService struct {
	db    *gorm.DB
	store ArchiveStore
	now   func() time.Time
}

func NewSyncArchiveService(db *gorm.DB, store ArchiveStore) *SyncArchiveService {
	return &SyncArchiveService{db: db, store: store, now: time.Now}
}

// ArchiveOldRuns archives finished runs that started more than daysOld days
// ago, then deletes them. Returns nil when there was nothing to archive.
// Rows are only deleted after a successful upload.
func (s *SyncArchiveService) ArchiveOldRuns(ctx context.Context, daysOld int) (*models.SyncArchive, error) {
	if daysOld < minArchiveAgeDays {
		return nil, ErrArchiveTooRecent
	}
	if s.store == nil {
		return nil, errors.New("archive store not configured")
	}
	now := s.now()
	cutoff := now.AddDate(0, 0, -daysOld)

	const batchSize = 1000
	var runs []models.SyncHistory
	for offset := 0; ; offset += batchSize {
		var batch []models.SyncHistory
		err := s.db.WithContext(ctx).
			Where("started_at < ? AND status <> ?", cutoff, models.SyncRunning).
			Order("id").Limit(batchSize).Offset(offset).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("fetch runs for archiving: %w", err)
		}
		runs = append(runs, batch...)
		if len(batch) < batchSize {
			break
		}
	}
	if len(runs) == 0 {
		logrus.Info("No sync runs to archive")
		return nil, nil
	}

	fileName := fmt.Sprintf("sync_history_%s.zip", cutoff.Format("2006-01-02"))
	key := fmt.Sprintf("sync/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	archive := models.SyncArchive{
		FileName:    fileName,
		S3Key:       key,
		StartDate:   runs[0].StartedAt,
		EndDate:     cutoff,
		RecordCount: len(runs),
		Status:      "pending",
	}
	for _, r := range runs {
		if r.StartedAt.Before(archive.StartDate) {
			archive.StartDate = r.StartedAt
		}
	}

	buf, err := buildRunsZip(runs, fileName, now)
	if err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}
	archive.FileSize = int64(buf.Len())

	if err := s.store.Put(ctx, key, buf.Bytes(), "application/zip"); err != nil {
		archive.Status = "failed"
		archive.Error = err.Error()
		if cerr := s.db.WithContext(ctx).Create(&archive).Error; cerr != nil {
			logrus.WithError(cerr).Error("Failed to save archive metadata")
		}
		return &archive, fmt.Errorf("upload archive: %w", err)
	}

	deleted, err := channelsync.PruneHistory(ctx, s.db, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete archived runs: %w", err)
	}
	archive.Status = "completed"
	if err := s.db.WithContext(ctx).Create(&archive).Error; err != nil {
		return nil, fmt.Errorf("save archive metadata: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"s3_key":  key,
		"records": len(runs),
		"deleted": deleted,
	}).Info("Archived sync history")
	return &archive, nil
}

// buildRunsZip writes runs.json, runs.csv and metadata.json.
func buildRunsZip(runs []models.SyncHistory, fileName string, now time.Time) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	f, err := zw.Create("runs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    now.UTC(),
		"record_count":   len(runs),
		"format_version": "1.0",
		"runs":           runs,
	}); err != nil {
		return nil, err
	}

	f, err = zw.Create("runs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"ID", "Run ID", "Trigger", "Status", "Range Start", "Range End", "Started At",
		"Finished At", "Total", "Synced", "Inserted", "Updated", "Unchanged", "Errors", "Failure Reason"})
	for _, r := range runs {
		finished := ""
		if r.FinishedAt != nil {
			finished = r.FinishedAt.UTC().Format(time.RFC3339)
		}
		w.Write([]string{
			strconv.FormatUint(uint64(r.ID), 10), r.RunID, string(r.Trigger), string(r.Status),
			r.RangeStart, r.RangeEnd, r.StartedAt.UTC().Format(time.RFC3339), finished,
			strconv.Itoa(r.TotalBookings), strconv.Itoa(r.SyncedCount), strconv.Itoa(r.Inserted),
			strconv.Itoa(r.Updated), strconv.Itoa(r.Unchanged), strconv.Itoa(r.ErrorCount), r.FailureReason,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	f, err = zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(f).Encode(map[string]any{
		"file_name":      fileName,
		"created_at":     now.UTC(),
		"record_count":   len(runs),
		"schema_version": "1.0",
		"description":    "TourDesk sync history archive",
	}); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// ListArchives returns archive records newest first.
func (s *SyncArchiveService) ListArchives(ctx context.Context) ([]models.SyncArchive, error) {
	var archives []models.SyncArchive
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return archives, nil
}

// OpenArchive streams one completed archive from storage.
func (s *SyncArchiveService) OpenArchive(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	var archive models.SyncArchive
	if err := s.db.WithContext(ctx).First(&archive, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrArchiveNotFound
		}
		return nil, "", err
	}
	if archive.Status != "completed" {
		return nil, "", ErrArchiveNotFound
	}
	r, err := s.store.Get(ctx, archive.S3Key)
	if err != nil {
		return nil, "", fmt.Errorf("download archive: %w", err)
	}
	return r, archive.FileName, nil
}
