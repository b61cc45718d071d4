package grouping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/metrics"
	"tourdesk_go/utils"
)

var errSubGroupRaced = errors.New("sub-group members were grouped concurrently")

// Scope bounds AutoGroup by tour date (YYYY-MM-DD, inclusive). Empty bounds
// are open.
type Scope struct {
	From string
	To   string
}

// Result is one group created by AutoGroup.
type Result struct {
	Group   models.TourGroup
	TourIDs []uint
	Key     string
}

// Recalc reports the state of a group after a recompute.
type Recalc struct {
	GroupID   uint
	TotalPax  int
	Members   int
	Dissolved bool
}

// Engine clusters tours into guide-assignable groups. Groups are derived
// from tour rows: pax and membership are always recomputed from tours.
type Engine struct {
	db       *gorm.DB
	guides   GuideDirectory
	notifier AssignmentNotifier
	maxPax   int
	log      *logrus.Entry
}

type Option func(*Engine)

func WithGuideDirectory(d GuideDirectory) Option {
	return func(e *Engine) { e.guides = d }
}

func WithNotifier(n AssignmentNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMaxPax(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPax = n
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		maxPax: DefaultMaxPax,
		log:    logrus.WithField("component", "grouping"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClusterKey is the auto-grouping predicate: same date, same HH:MM and the
// same title once trimmed, whitespace-collapsed and case-folded.
func ClusterKey(t models.Tour) string {
	return t.TourDate + "|" + utils.ClockHHMM(t.TourTime) + "|" + utils.NormalizeName(t.Title)
}

// AutoGroup groups ungrouped, live tours in scope. Each cluster is packed
// with PackSubGroups; sub-groups of two or more tours become groups and
// singletons stay ungrouped.
func (e *Engine) AutoGroup(ctx context.Context, scope Scope) ([]Result, error) {
	q := e.db.WithContext(ctx).Model(&models.Tour{}).
		Where("group_id IS NULL AND cancelled = ?", false)
	if scope.From != "" {
		q = q.Where("tour_date >= ?", scope.From)
	}
	if scope.To != "" {
		q = q.Where("tour_date <= ?", scope.To)
	}
	var tours []models.Tour
	if err := q.Order("tour_date").Order("id").Find(&tours).Error; err != nil {
		return nil, fmt.Errorf("load ungrouped tours: %w", err)
	}

	var keys []string
	clusters := map[string][]models.Tour{}
	for _, t := range tours {
		k := ClusterKey(t)
		if _, ok := clusters[k]; !ok {
			keys = append(keys, k)
		}
		clusters[k] = append(clusters[k], t)
	}

	var results []Result
	for _, k := range keys {
		members := clusters[k]
		if len(members) < 2 {
			continue
		}
		byID := make(map[uint]models.Tour, len(members))
		items := make([]PackItem, 0, len(members))
		for _, t := range members {
			byID[t.ID] = t
			items = append(items, PackItem{TourID: t.ID, Pax: t.Participants})
		}

		subs := PackSubGroups(items, e.maxPax)
		var persistable [][]PackItem
		for _, sub := range subs {
			if len(sub) >= 2 {
				persistable = append(persistable, sub)
			}
		}
		for i, sub := range persistable {
			first := byID[sub[0].TourID]
			name := fmt.Sprintf("%s %s %s", strings.TrimSpace(first.Title), first.TourDate, utils.ClockHHMM(first.TourTime))
			if len(persistable) > 1 {
				name = fmt.Sprintf("%s (%d)", name, i+1)
			}
			res, err := e.createAutoGroup(ctx, first, sub, name)
			if errors.Is(err, errSubGroupRaced) {
				e.log.WithField("cluster", k).Warn("Skipping sub-group whose tours were grouped concurrently")
				continue
			}
			if err != nil {
				return results, err
			}
			res.Key = k
			results = append(results, *res)
			metrics.GroupsCreated.WithLabelValues("auto").Inc()
		}
	}

	if len(results) > 0 {
		e.log.WithFields(logrus.Fields{
			"from":   scope.From,
			"to":     scope.To,
			"groups": len(results),
		}).Info("Auto-grouping created groups")
	}
	return results, nil
}

func (e *Engine) createAutoGroup(ctx context.Context, first models.Tour, sub []PackItem, name string) (*Result, error) {
	ids := make([]uint, len(sub))
	for i, it := range sub {
		ids[i] = it.TourID
	}

	var res Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group := models.TourGroup{
			Name:     name,
			TourDate: first.TourDate,
			TourTime: utils.ClockHHMM(first.TourTime),
			Title:    strings.TrimSpace(first.Title),
			MaxPax:   e.maxPax,
		}
		if err := tx.Create(&group).Error; err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		upd := tx.Model(&models.Tour{}).
			Where("id IN ? AND group_id IS NULL AND cancelled = ?", ids, false).
			Update("group_id", group.ID)
		if upd.Error != nil {
			return fmt.Errorf("assign tours to group %d: %w", group.ID, upd.Error)
		}
		if upd.RowsAffected < 2 {
			return errSubGroupRaced
		}
		rc, err := e.recalcTx(tx, group.ID)
		if err != nil {
			return err
		}
		if _, err := e.syncGuideTx(tx, group.ID); err != nil {
			return err
		}
		if err := tx.First(&group, group.ID).Error; err != nil {
			return err
		}
		var members []uint
		if err := tx.Model(&models.Tour{}).Where("group_id = ?", group.ID).Order("id").Pluck("id", &members).Error; err != nil {
			return err
		}
		group.TotalPax = rc.TotalPax
		res = Result{Group: group, TourIDs: members}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ManualMerge groups the given tours regardless of slot or title. Tours
// leave any previous group, which is recomputed and may dissolve.
func (e *Engine) ManualMerge(ctx context.Context, tourIDs []uint, displayName, notes string) (*models.TourGroup, error) {
	ids := uniqueIDs(tourIDs)
	if len(ids) < 2 {
		return nil, ErrTooFewTours
	}

	var group models.TourGroup
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tours []models.Tour
		if err := tx.Where("id IN ?", ids).Order("id").Find(&tours).Error; err != nil {
			return fmt.Errorf("load tours: %w", err)
		}
		if len(tours) != len(ids) {
			return ErrTourNotFound
		}

		previous := map[uint]struct{}{}
		for _, t := range tours {
			if t.Cancelled {
				return fmt.Errorf("%w: tour %d", ErrTourCancelled, t.ID)
			}
			if t.GroupID != nil {
				previous[*t.GroupID] = struct{}{}
			}
		}

		first := tours[0]
		name := strings.TrimSpace(displayName)
		if name == "" {
			name = fmt.Sprintf("Merged %s %s %s", strings.TrimSpace(first.Title), first.TourDate, utils.ClockHHMM(first.TourTime))
		}
		group = models.TourGroup{
			Name:          name,
			TourDate:      first.TourDate,
			TourTime:      utils.ClockHHMM(first.TourTime),
			Title:         strings.TrimSpace(first.Title),
			MaxPax:        e.maxPax,
			IsManualMerge: true,
			Notes:         strings.TrimSpace(notes),
		}
		if err := tx.Create(&group).Error; err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		if err := tx.Model(&models.Tour{}).Where("id IN ?", ids).Update("group_id", group.ID).Error; err != nil {
			return fmt.Errorf("assign tours to group %d: %w", group.ID, err)
		}

		for _, old := range sortedKeys(previous) {
			rc, err := e.recalcTx(tx, old)
			if err != nil && !errors.Is(err, ErrGroupNotFound) {
				return err
			}
			if rc.Dissolved {
				e.log.WithField("group_id", old).Info("Previous group dissolved by manual merge")
			}
		}
		if _, err := e.recalcTx(tx, group.ID); err != nil {
			return err
		}
		if _, err := e.syncGuideTx(tx, group.ID); err != nil {
			return err
		}
		return tx.Preload("Tours", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).First(&group, group.ID).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.GroupsCreated.WithLabelValues("manual").Inc()
	e.log.WithFields(logrus.Fields{"group_id": group.ID, "tours": ids}).Info("Tours merged manually")
	return &group, nil
}

// Unmerge removes one tour from its group. The group is recomputed and
// dissolved when one member or none is left.
func (e *Engine) Unmerge(ctx context.Context, tourID uint) (Recalc, error) {
	var rc Recalc
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tour models.Tour
		if err := tx.First(&tour, tourID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTourNotFound
			}
			return err
		}
		if tour.GroupID == nil {
			return ErrNotGrouped
		}
		groupID := *tour.GroupID

		livePax := tour.Participants
		if tour.Cancelled || livePax < 0 {
			livePax = 0
		}
		if err := tx.Model(&models.Tour{}).Where("id = ?", tour.ID).Update("group_id", nil).Error; err != nil {
			return fmt.Errorf("detach tour %d: %w", tour.ID, err)
		}
		if err := tx.Model(&models.TourGroup{}).Where("id = ?", groupID).
			Update("total_pax", gorm.Expr("CASE WHEN total_pax > ? THEN total_pax - ? ELSE 0 END", livePax, livePax)).Error; err != nil {
			return fmt.Errorf("decrement group %d: %w", groupID, err)
		}

		var err error
		rc, err = e.recalcTx(tx, groupID)
		return err
	})
	if err != nil {
		return Recalc{}, err
	}

	e.log.WithFields(logrus.Fields{
		"tour_id":   tourID,
		"group_id":  rc.GroupID,
		"dissolved": rc.Dissolved,
	}).Info("Tour unmerged")
	return rc, nil
}

// SetGroupGuide writes the group's guide and fans it out to every live
// member. A nil guide clears every member and flags it for assignment.
// It returns the number of member tours updated.
func (e *Engine) SetGroupGuide(ctx context.Context, groupID uint, guideID *uint) (int, error) {
	var guide *GuideInfo
	if guideID != nil && e.guides != nil {
		g, err := e.guides.Lookup(ctx, *guideID)
		if err != nil {
			return 0, err
		}
		if !g.Active {
			return 0, ErrGuideInactive
		}
		guide = g
	}

	var (
		group   models.TourGroup
		members []uint
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if err := tx.Model(&models.TourGroup{}).Where("id = ?", groupID).Update("guide_id", guideID).Error; err != nil {
			return fmt.Errorf("set group guide: %w", err)
		}
		group.GuideID = guideID

		if err := tx.Model(&models.Tour{}).Where("group_id = ? AND cancelled = ?", groupID, false).
			Order("id").Pluck("id", &members).Error; err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Model(&models.Tour{}).Where("id IN ?", members).Updates(map[string]interface{}{
			"guide_id":               guideID,
			"needs_guide_assignment": guideID == nil,
		}).Error
	})
	if err != nil {
		return 0, err
	}

	e.log.WithFields(logrus.Fields{
		"group_id": groupID,
		"guide_id": guideID,
		"tours":    len(members),
	}).Info("Group guide updated")

	if guide != nil && e.notifier != nil {
		if err := e.notifier.GuideAssigned(ctx, Assignment{Group: group, Guide: *guide, TourIDs: members}); err != nil {
			e.log.WithError(err).WithField("group_id", groupID).Warn("Failed to notify guide of assignment")
		}
	}
	return len(members), nil
}

// RecalculateGroupPax recomputes total_pax from live members, dissolving
// the group when one member or none is left.
func (e *Engine) RecalculateGroupPax(ctx context.Context, groupID uint) (Recalc, error) {
	var rc Recalc
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rc, err = e.recalcTx(tx, groupID)
		return err
	})
	if err != nil {
		return Recalc{}, err
	}
	if rc.Dissolved {
		e.log.WithError(&InvariantViolation{GroupID: groupID, Members: rc.Members}).Warn("Group dissolved during recompute")
	}
	return rc, nil
}

// SyncGroupGuideFromTours sets the group guide from the first live member,
// by id, that has one. A group whose members have no guide keeps its own.
func (e *Engine) SyncGroupGuideFromTours(ctx context.Context, groupID uint) (*uint, error) {
	var guideID *uint
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.TourGroup
		if err := tx.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		var err error
		guideID, err = e.syncGuideTx(tx, groupID)
		if guideID == nil {
			guideID = group.GuideID
		}
		return err
	})
	return guideID, err
}

// MaintainGroups runs after a sync. Tours that were rescheduled out of an
// auto group's slot are detached, then every listed group is recomputed.
func (e *Engine) MaintainGroups(ctx context.Context, groupIDs []uint) ([]Recalc, error) {
	var out []Recalc
	for _, id := range uniqueIDs(groupIDs) {
		var rc Recalc
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var group models.TourGroup
			if err := tx.First(&group, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrGroupNotFound
				}
				return err
			}
			if !group.IsManualMerge {
				moved := tx.Model(&models.Tour{}).
					Where("group_id = ? AND (tour_date <> ? OR SUBSTR(tour_time, 1, 5) <> ?)", id, group.TourDate, group.TourTime).
					Update("group_id", nil)
				if moved.Error != nil {
					return fmt.Errorf("detach rescheduled tours from group %d: %w", id, moved.Error)
				}
				if moved.RowsAffected > 0 {
					e.log.WithFields(logrus.Fields{"group_id": id, "tours": moved.RowsAffected}).Info("Detached rescheduled tours from group")
				}
			}
			var err error
			rc, err = e.recalcTx(tx, id)
			return err
		})
		if errors.Is(err, ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// recalcTx is the single place total_pax is written from member state.
func (e *Engine) recalcTx(tx *gorm.DB, groupID uint) (Recalc, error) {
	var group models.TourGroup
	if err := tx.First(&group, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Recalc{}, ErrGroupNotFound
		}
		return Recalc{}, err
	}

	var stats struct {
		Members int
		Pax     int
	}
	if err := tx.Model(&models.Tour{}).
		Select("COUNT(*) AS members, COALESCE(SUM(participants), 0) AS pax").
		Where("group_id = ? AND cancelled = ?", groupID, false).
		Scan(&stats).Error; err != nil {
		return Recalc{}, fmt.Errorf("sum group %d: %w", groupID, err)
	}

	rc := Recalc{GroupID: groupID, Members: stats.Members}
	if stats.Members <= 1 {
		if err := e.dissolveTx(tx, groupID); err != nil {
			return Recalc{}, err
		}
		rc.Dissolved = true
		return rc, nil
	}

	rc.TotalPax = stats.Pax
	if group.TotalPax != stats.Pax {
		if err := tx.Model(&models.TourGroup{}).Where("id = ?", groupID).Update("total_pax", stats.Pax).Error; err != nil {
			return Recalc{}, fmt.Errorf("update group %d pax: %w", groupID, err)
		}
	}
	return rc, nil
}

func (e *Engine) dissolveTx(tx *gorm.DB, groupID uint) error {
	if err := tx.Model(&models.Tour{}).Where("group_id = ?", groupID).Update("group_id", nil).Error; err != nil {
		return fmt.Errorf("ungroup members of %d: %w", groupID, err)
	}
	if err := tx.Delete(&models.TourGroup{}, groupID).Error; err != nil {
		return fmt.Errorf("delete group %d: %w", groupID, err)
	}
	metrics.GroupsDissolved.Inc()
	e.log.WithField("group_id", groupID).Info("Group dissolved")
	return nil
}

// syncGuideTx copies the first guided live member's guide onto the group.
// Members are not touched.
func (e *Engine) syncGuideTx(tx *gorm.DB, groupID uint) (*uint, error) {
	var tours []models.Tour
	if err := tx.Where("group_id = ? AND cancelled = ? AND guide_id IS NOT NULL", groupID, false).
		Order("id").Limit(1).Find(&tours).Error; err != nil {
		return nil, err
	}
	if len(tours) == 0 {
		return nil, nil
	}
	guideID := tours[0].GuideID
	if err := tx.Model(&models.TourGroup{}).Where("id = ?", groupID).Update("guide_id", guideID).Error; err != nil {
		return nil, fmt.Errorf("sync group %d guide: %w", groupID, err)
	}
	return guideID, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(m map[uint]struct{}) []uint {
	out := make([]uint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
