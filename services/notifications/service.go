package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/grouping"
	"tourdesk_go/utils"
)

// DeskRecipient addresses the dispatch desk rather than a guide.
const DeskRecipient uint = 0

const (
	redisListKey = "tourdesk:notifications:queue"
	batchSize    = 200
)

var ErrNoRecipients = errors.New("no recipients")

// Queued is the payload stored on the Redis list. The DB row stays the
// source of truth; Redis only smooths bursts.
type Queued struct {
	Recipients []uint    `json:"recipients"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	Data       any       `json:"data,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// New builds a notification payload. typ is info, warning, error or success.
func New(title, message, typ string) Queued {
	return Queued{Title: title, Message: message, Type: normalizeType(typ)}
}

// WithData attaches structured data (deep links, ids).
func (q Queued) WithData(data any) Queued {
	q.Data = data
	return q
}

func normalizeType(typ string) string {
	switch typ {
	case "info", "warning", "error", "success":
		return typ
	}
	return "info"
}

// WSHub is the part of the websocket hub used for live delivery.
type WSHub interface {
	BroadcastToGuide(guideID uint, message interface{})
}

// LinePusher delivers a text to a LINE user id.
type LinePusher interface {
	PushText(to, message string) error
}

// Service stores notifications for guides and the desk, optionally through
// a Redis queue, and fans them out over websocket and LINE.
type Service struct {
	db       *gorm.DB
	redis    *redis.Client
	useRedis bool
	hub      WSHub
	line     LinePusher
	log      *logrus.Entry
}

func NewService(db *gorm.DB, rdb *redis.Client, useRedis bool, hub WSHub, line LinePusher) *Service {
	return &Service{
		db:       db,
		redis:    rdb,
		useRedis: useRedis && rdb != nil,
		hub:      hub,
		line:     line,
		log:      logrus.WithField("component", "notifications"),
	}
}

// EnqueueOrCreate stores a notification for each recipient. With Redis
// enabled it is queued for the worker; on queue failure it falls back to a
// direct insert.
func (s *Service) EnqueueOrCreate(ctx context.Context, recipients []uint, n Queued) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	n.Recipients = recipients
	n.CreatedAt = time.Now().UTC()

	if s.useRedis {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err = s.redis.RPush(ctx, redisListKey, b).Err(); err == nil {
			return nil
		}
		s.log.WithError(err).Warn("Redis queue failed, falling back to direct insert")
	}
	return s.createDirect(ctx, n)
}

func (s *Service) createDirect(ctx context.Context, n Queued) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	var data []byte
	if n.Data != nil {
		if b, err := json.Marshal(n.Data); err == nil {
			data = b
		}
	}

	rows := make([]models.Notification, 0, len(n.Recipients))
	for _, id := range n.Recipients {
		row := models.Notification{
			Title:   n.Title,
			Message: n.Message,
			Type:    normalizeType(n.Type),
			Data:    data,
		}
		if id != DeskRecipient {
			gid := id
			row.GuideID = &gid
		}
		rows = append(rows, row)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}

	if s.hub != nil {
		for _, row := range rows {
			target := DeskRecipient
			if row.GuideID != nil {
				target = *row.GuideID
			}
			s.hub.BroadcastToGuide(target, map[string]interface{}{
				"type": "notification",
				"data": utils.ToNotificationDTO(row),
			})
		}
	}
	return nil
}

// GuideAssigned tells a guide about a new group. The LINE push is best
// effort; only the stored notification can fail the call.
func (s *Service) GuideAssigned(ctx context.Context, a grouping.Assignment) error {
	g := a.Group
	title := "New tour group assigned"
	message := fmt.Sprintf("%s on %s at %s, %d guests", g.Name, g.TourDate, g.TourTime, g.TotalPax)
	n := New(title, message, "info").WithData(map[string]interface{}{
		"group_id": g.ID,
		"tour_ids": a.TourIDs,
	})
	if err := s.EnqueueOrCreate(ctx, []uint{a.Guide.ID}, n); err != nil {
		return fmt.Errorf("store assignment notification: %w", err)
	}

	if s.line != nil && strings.TrimSpace(a.Guide.LineUserID) != "" {
		text := fmt.Sprintf("Hi %s, you are guiding %s", a.Guide.Name, message)
		if err := s.line.PushText(a.Guide.LineUserID, text); err != nil {
			s.log.WithError(err).WithField("guide_id", a.Guide.ID).Warn("LINE push failed")
		}
	}
	return nil
}

// PushLine sends a LINE text to a guide when they have a LINE id.
func (s *Service) PushLine(guide models.Guide, message string) error {
	if s.line == nil || strings.TrimSpace(guide.LineUserID) == "" {
		return nil
	}
	return s.line.PushText(guide.LineUserID, message)
}

// ListFilter narrows List. A nil GuideID lists desk notifications.
type ListFilter struct {
	GuideID    *uint
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Notification, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Notification{})
	if f.GuideID != nil {
		q = q.Where("guide_id = ?", *f.GuideID)
	} else {
		q = q.Where("guide_id IS NULL")
	}
	if f.UnreadOnly {
		q = q.Where("`read` = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	var rows []models.Notification
	err := q.Preload("Guide").Order("created_at DESC").Order("id DESC").
		Limit(f.Limit).Offset(f.Offset).Find(&rows).Error
	return rows, total, err
}

// MarkRead flags one notification as read. guideID scopes the update the
// same way as ListFilter.
func (s *Service) MarkRead(ctx context.Context, id uint, guideID *uint) error {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id)
	if guideID != nil {
		q = q.Where("guide_id = ?", *guideID)
	}
	res := q.Updates(map[string]interface{}{"read": true, "read_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, guideID *uint) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("`read` = ?", false)
	if guideID != nil {
		q = q.Where("guide_id = ?", *guideID)
	} else {
		q = q.Where("guide_id IS NULL")
	}
	res := q.Updates(map[string]interface{}{"read": true, "read_at": time.Now()})
	return res.RowsAffected, res.Error
}

// StartWorker drains the Redis queue into the database until stop closes.
func (s *Service) StartWorker(stop <-chan struct{}) {
	if !s.useRedis {
		s.log.Info("Redis notifications disabled; worker not started")
		return
	}
	go func() {
		s.log.Info("Redis notification worker started")
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		ctx := context.Background()
		for {
			select {
			case <-stop:
				s.log.Info("Notification worker stopping")
				return
			case <-ticker.C:
				s.flushBatch(ctx)
			}
		}
	}()
}

func (s *Service) flushBatch(ctx context.Context) {
	for i := 0; i < 5; i++ {
		vals, err := s.redis.LRange(ctx, redisListKey, 0, batchSize-1).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		// Trim first so a slow insert never replays the same items.
		if err = s.redis.LTrim(ctx, redisListKey, int64(len(vals)), -1).Err(); err != nil {
			s.log.WithError(err).Warn("LTrim failed")
		}
		for _, raw := range vals {
			var q Queued
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				continue
			}
			if err := s.createDirect(ctx, q); err != nil {
				s.log.WithError(err).Error("Notification insert failed")
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}
