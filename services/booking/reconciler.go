package booking

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tourdesk_go/models"
)

// Action is what reconciliation did to the local row.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Result describes one reconciled booking. GroupAffected is set when the
// tour is grouped and a change touched pax, cancellation or its slot, so the
// group needs recomputing once the run finishes.
type Result struct {
	Action        Action
	TourID        uint
	GroupID       *uint
	GroupAffected bool
}

// Reconciler upserts normalized bookings into tours. Channel-owned columns are
// refreshed; guide, payment, notes and group columns are never written here.
type Reconciler struct {
	db  *gorm.DB
	now func() time.Time
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db, now: time.Now}
}

// Reconcile matches by external id, then by confirmation code, and inserts,
// updates or leaves the tour alone. An unchanged booking causes no write.
func (r *Reconciler) Reconcile(ctx context.Context, nb *NormalizedBooking) (Result, error) {
	var res Result
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.match(tx, nb)
		if err != nil {
			return err
		}
		if existing == nil {
			tour := r.newTour(nb)
			if err := tx.Create(&tour).Error; err != nil {
				return fmt.Errorf("insert tour %s: %w", nb.ExternalID, err)
			}
			res = Result{Action: ActionInserted, TourID: tour.ID}
			return nil
		}

		changes, groupAffected := r.diff(existing, nb)
		res = Result{TourID: existing.ID, GroupID: existing.GroupID}
		if len(changes) == 0 {
			res.Action = ActionUnchanged
			return nil
		}
		changes["last_synced"] = r.now()
		if err := tx.Model(&models.Tour{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
			return fmt.Errorf("update tour %d: %w", existing.ID, err)
		}
		res.Action = ActionUpdated
		res.GroupAffected = groupAffected && existing.GroupID != nil
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Reconciler) match(tx *gorm.DB, nb *NormalizedBooking) (*models.Tour, error) {
	var byID []models.Tour
	if err := tx.Where("external_id = ?", nb.ExternalID).Limit(2).Find(&byID).Error; err != nil {
		return nil, fmt.Errorf("lookup tour by external id: %w", err)
	}
	if len(byID) == 1 {
		return &byID[0], nil
	}
	if nb.ConfirmationCode == "" {
		return nil, nil
	}

	var byCode []models.Tour
	if err := tx.Where("confirmation_code = ?", nb.ConfirmationCode).Limit(2).Find(&byCode).Error; err != nil {
		return nil, fmt.Errorf("lookup tour by confirmation code: %w", err)
	}
	switch {
	case len(byCode) == 0:
		return nil, nil
	case len(byCode) > 1:
		return nil, &ConflictError{ExternalID: nb.ExternalID, ConfirmationCode: nb.ConfirmationCode, Reason: "several tours share this confirmation code"}
	}
	found := &byCode[0]
	if found.ExternalID != nil && *found.ExternalID != "" && *found.ExternalID != nb.ExternalID {
		return nil, &ConflictError{
			ExternalID:       nb.ExternalID,
			ConfirmationCode: nb.ConfirmationCode,
			Reason:           fmt.Sprintf("tour %d is already linked to external id %s", found.ID, *found.ExternalID),
		}
	}
	return found, nil
}

func (r *Reconciler) newTour(nb *NormalizedBooking) models.Tour {
	now := r.now()
	extID := nb.ExternalID
	tour := models.Tour{
		ExternalID:           &extID,
		ConfirmationCode:     nb.ConfirmationCode,
		ExternalSource:       models.SourceChannel,
		Title:                nb.Title,
		TourDate:             nb.TourDate,
		TourTime:             nb.TourTime,
		DurationMinutes:      nb.DurationMinutes,
		Participants:         nb.Participants,
		AdultCount:           nb.AdultCount,
		ChildCount:           nb.ChildCount,
		InfantCount:          nb.InfantCount,
		CustomerName:         nb.CustomerName,
		CustomerEmail:        nb.CustomerEmail,
		CustomerPhone:        nb.CustomerPhone,
		Language:             nb.Language,
		SpecialRequests:      nb.SpecialRequests,
		BookingChannel:       nb.BookingChannel,
		ChannelStatus:        nb.ChannelStatus,
		NeedsGuideAssignment: true,
		PaymentStatus:        models.PaymentUnpaid,
		ExpectedAmount:       nb.ExpectedAmount,
		Currency:             nb.Currency,
		RawPayload:           datatypes.JSON(nb.RawPayload),
		LastSynced:           &now,
		Cancelled:            nb.Cancelled,
	}
	if nb.ExternalBookingID != "" {
		bid := nb.ExternalBookingID
		tour.ExternalBookingID = &bid
	}
	if nb.Cancelled {
		tour.CancelledAt = &now
	}
	return tour
}

// diff returns the channel-owned columns that differ. The raw payload is
// compared by value since JSON columns may be re-serialized by the database;
// a payload-only change still updates the row so it can be re-derived later.
func (r *Reconciler) diff(t *models.Tour, nb *NormalizedBooking) (map[string]interface{}, bool) {
	changes := map[string]interface{}{}
	set := func(col string, changed bool, v interface{}) {
		if changed {
			changes[col] = v
		}
	}

	if t.ExternalID == nil || *t.ExternalID != nb.ExternalID {
		changes["external_id"] = nb.ExternalID
	}
	if nb.ExternalBookingID != "" && (t.ExternalBookingID == nil || *t.ExternalBookingID != nb.ExternalBookingID) {
		changes["external_booking_id"] = nb.ExternalBookingID
	}
	set("confirmation_code", t.ConfirmationCode != nb.ConfirmationCode, nb.ConfirmationCode)
	set("external_source", t.ExternalSource != models.SourceChannel, models.SourceChannel)
	set("title", t.Title != nb.Title, nb.Title)
	set("duration_minutes", t.DurationMinutes != nb.DurationMinutes, nb.DurationMinutes)
	set("participants", t.Participants != nb.Participants, nb.Participants)
	set("adult_count", t.AdultCount != nb.AdultCount, nb.AdultCount)
	set("child_count", t.ChildCount != nb.ChildCount, nb.ChildCount)
	set("infant_count", t.InfantCount != nb.InfantCount, nb.InfantCount)
	set("customer_name", t.CustomerName != nb.CustomerName, nb.CustomerName)
	set("customer_email", t.CustomerEmail != nb.CustomerEmail, nb.CustomerEmail)
	set("customer_phone", t.CustomerPhone != nb.CustomerPhone, nb.CustomerPhone)
	set("special_requests", t.SpecialRequests != nb.SpecialRequests, nb.SpecialRequests)
	set("booking_channel", t.BookingChannel != nb.BookingChannel, nb.BookingChannel)
	set("channel_status", t.ChannelStatus != nb.ChannelStatus, nb.ChannelStatus)
	if !sameString(t.Language, nb.Language) {
		changes["language"] = nb.Language
	}
	if !samePayload(t.RawPayload, nb.RawPayload) {
		changes["raw_payload"] = datatypes.JSON(nb.RawPayload)
	}

	slotChanged := t.TourDate != nb.TourDate || t.TourTime != nb.TourTime
	if slotChanged {
		changes["tour_date"] = nb.TourDate
		changes["tour_time"] = nb.TourTime
		changes["rescheduled"] = true
		if t.OriginalDate == "" {
			changes["original_date"] = t.TourDate
			changes["original_time"] = t.TourTime
		}
	}

	if t.Cancelled != nb.Cancelled {
		changes["cancelled"] = nb.Cancelled
		if nb.Cancelled {
			changes["cancelled_at"] = r.now()
		} else {
			changes["cancelled_at"] = nil
		}
	}

	groupAffected := slotChanged ||
		t.Participants != nb.Participants ||
		t.Cancelled != nb.Cancelled ||
		t.Title != nb.Title
	return changes, groupAffected
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// samePayload reports whether two JSON documents hold the same value.
// Undecodable documents fall back to a byte comparison.
func samePayload(stored, incoming []byte) bool {
	if bytes.Equal(stored, incoming) {
		return true
	}
	if len(stored) == 0 || len(incoming) == 0 {
		return false
	}
	var a, b interface{}
	if json.Unmarshal(stored, &a) != nil || json.Unmarshal(incoming, &b) != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
