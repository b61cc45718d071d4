package models

import (
	"time"

	"gorm.io/datatypes"
)

// Base model with common fields. Tours and groups are hard-deleted when
// dissolved, so there is no soft-delete column.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Guide model
type Guide struct {
	BaseModel
	Name       string `json:"name" gorm:"size:200;not null"`
	Email      string `json:"email" gorm:"size:255;uniqueIndex"`
	Phone      string `json:"phone" gorm:"size:30"`
	Languages  string `json:"languages" gorm:"size:255"` // comma-separated, e.g. "English,Spanish"
	LineUserID string `json:"line_user_id" gorm:"size:100"`
	Active     bool   `json:"active" gorm:"not null"`
}

// Tour is one booking as the business sees it. Channel-owned columns are
// refreshed on every sync; assignment, payment and note columns belong to
// dispatchers and the payment ledger.
type Tour struct {
	BaseModel

	// Identity
	ExternalID        *string        `json:"external_id" gorm:"size:64;uniqueIndex"`
	ExternalBookingID *string        `json:"external_booking_id" gorm:"size:64;index"`
	ConfirmationCode  string         `json:"confirmation_code" gorm:"size:100;index"`
	ExternalSource    ExternalSource `json:"external_source" gorm:"size:20;not null;default:'manual'"`

	// Scheduling
	Title           string `json:"title" gorm:"size:255;not null"`
	TourDate        string `json:"tour_date" gorm:"size:10;not null;index:idx_tours_slot"` // YYYY-MM-DD, local
	TourTime        string `json:"tour_time" gorm:"size:8;not null;index:idx_tours_slot"`  // HH:MM:SS, local
	DurationMinutes int    `json:"duration_minutes"`

	// Party
	Participants int `json:"participants" gorm:"not null;default:0"`
	AdultCount   int `json:"adult_count" gorm:"not null;default:0"`
	ChildCount   int `json:"child_count" gorm:"not null;default:0"`
	InfantCount  int `json:"infant_count" gorm:"not null;default:0"`

	// Customer
	CustomerName    string  `json:"customer_name" gorm:"size:200"`
	CustomerEmail   string  `json:"customer_email" gorm:"size:255"`
	CustomerPhone   string  `json:"customer_phone" gorm:"size:50"`
	Language        *string `json:"language" gorm:"size:50"`
	SpecialRequests string  `json:"special_requests" gorm:"type:text"`
	BookingChannel  string  `json:"booking_channel" gorm:"size:100"`
	ChannelStatus   string  `json:"channel_status" gorm:"size:30"`

	// Assignment
	GuideID              *uint `json:"guide_id" gorm:"index"`
	GroupID              *uint `json:"group_id" gorm:"index"`
	NeedsGuideAssignment bool  `json:"needs_guide_assignment" gorm:"not null"`

	// Payment (derived from the ledger)
	PaymentStatus   PaymentStatus `json:"payment_status" gorm:"size:20;not null;default:'unpaid'"`
	TotalAmountPaid float64       `json:"total_amount_paid" gorm:"type:decimal(12,2);not null;default:0"`
	ExpectedAmount  float64       `json:"expected_amount" gorm:"type:decimal(12,2);not null;default:0"`
	Currency        string        `json:"currency" gorm:"size:3"`

	Notes string `json:"notes" gorm:"type:text"`

	// Sync bookkeeping
	RawPayload datatypes.JSON `json:"-" gorm:"type:json"`
	LastSynced *time.Time     `json:"last_synced"`

	// Lifecycle
	Cancelled    bool       `json:"cancelled" gorm:"not null;default:false;index"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	Rescheduled  bool       `json:"rescheduled" gorm:"not null;default:false"`
	OriginalDate string     `json:"original_date,omitempty" gorm:"size:10"`
	OriginalTime string     `json:"original_time,omitempty" gorm:"size:8"`

	// Relationships
	Guide    *Guide     `json:"guide,omitempty" gorm:"foreignKey:GuideID"`
	Group    *TourGroup `json:"group,omitempty" gorm:"foreignKey:GroupID"`
	Payments []Payment  `json:"payments,omitempty" gorm:"foreignKey:TourID"`
}

// TourGroup consolidates same-slot tours under one guide.
type TourGroup struct {
	BaseModel
	Name          string `json:"name" gorm:"size:255;not null"`
	TourDate      string `json:"tour_date" gorm:"size:10;not null;index"`
	TourTime      string `json:"tour_time" gorm:"size:5;not null"` // HH:MM
	Title         string `json:"title" gorm:"size:255"`
	TotalPax      int    `json:"total_pax" gorm:"not null;default:0"`
	MaxPax        int    `json:"max_pax" gorm:"not null;default:9"`
	GuideID       *uint  `json:"guide_id" gorm:"index"`
	IsManualMerge bool   `json:"is_manual_merge" gorm:"not null;default:false"`
	Notes         string `json:"notes" gorm:"type:text"`

	// Relationships
	Guide *Guide `json:"guide,omitempty" gorm:"foreignKey:GuideID"`
	Tours []Tour `json:"tours,omitempty" gorm:"foreignKey:GroupID"`
}

// Payment is one ledger entry. Negative amounts record refunds.
type Payment struct {
	BaseModel
	TourID    uint      `json:"tour_id" gorm:"not null;index"`
	Amount    float64   `json:"amount" gorm:"type:decimal(12,2);not null"`
	Method    string    `json:"method" gorm:"size:30"`
	Reference string    `json:"reference" gorm:"size:100"`
	PaidAt    time.Time `json:"paid_at"`
	Note      string    `json:"note" gorm:"type:text"`
}

// SyncHistory records one orchestrator run.
type SyncHistory struct {
	BaseModel
	RunID           string         `json:"run_id" gorm:"size:36;uniqueIndex;not null"`
	TenantID        string         `json:"tenant_id" gorm:"size:64;index"`
	Trigger         SyncTrigger    `json:"trigger" gorm:"size:20;not null"`
	Status          SyncStatus     `json:"status" gorm:"size:20;not null;index"`
	RangeStart      string         `json:"range_start" gorm:"size:10"`
	RangeEnd        string         `json:"range_end" gorm:"size:10"`
	StartedAt       time.Time      `json:"started_at" gorm:"index"`
	FinishedAt      *time.Time     `json:"finished_at"`
	PagesFetched    int            `json:"pages_fetched"`
	TotalBookings   int            `json:"total_bookings"`
	SyncedCount     int            `json:"synced_count"`
	Inserted        int            `json:"inserted"`
	Updated         int            `json:"updated"`
	Unchanged       int            `json:"unchanged"`
	ErrorCount      int            `json:"error_count"`
	GroupsCreated   int            `json:"groups_created"`
	GroupsDissolved int            `json:"groups_dissolved"`
	Errors          datatypes.JSON `json:"errors" gorm:"type:json"`
	FailureReason   string         `json:"failure_reason" gorm:"type:text"`
}

// SyncArchive tracks sync history exported to S3.
type SyncArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:20;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}

// Notification model
type Notification struct {
	BaseModel
	GuideID *uint          `json:"guide_id" gorm:"index"` // nil = dispatch desk
	Title   string         `json:"title" gorm:"size:255;not null"`
	Message string         `json:"message" gorm:"type:text;not null"`
	Type    string         `json:"type" gorm:"size:20;not null"` // info, warning, error, success
	Read    bool           `json:"read" gorm:"default:false"`
	ReadAt  *time.Time     `json:"read_at"`
	Data    datatypes.JSON `json:"data" gorm:"type:json"`

	// Relationships
	Guide *Guide `json:"guide,omitempty" gorm:"foreignKey:GuideID"`
}
