package utils

import (
	"strings"
	"time"

	"tourdesk_go/models"
)

// Compact representations used across APIs
type GuideShort struct {
	ID        uint     `json:"id"`
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
}

type GroupShort struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	IsManualMerge bool   `json:"is_manual_merge"`
}

type TourDTO struct {
	ID                   uint                  `json:"id"`
	ExternalID           *string               `json:"external_id,omitempty"`
	ConfirmationCode     string                `json:"confirmation_code"`
	Source               models.ExternalSource `json:"source"`
	Title                string                `json:"title"`
	TourDate             string                `json:"tour_date"`
	TourTime             string                `json:"tour_time"`
	DurationMinutes      int                   `json:"duration_minutes"`
	Participants         int                   `json:"participants"`
	AdultCount           int                   `json:"adult_count"`
	ChildCount           int                   `json:"child_count"`
	InfantCount          int                   `json:"infant_count"`
	CustomerName         string                `json:"customer_name"`
	CustomerEmail        string                `json:"customer_email,omitempty"`
	CustomerPhone        string                `json:"customer_phone,omitempty"`
	Language             *string               `json:"language"`
	SpecialRequests      string                `json:"special_requests,omitempty"`
	BookingChannel       string                `json:"booking_channel,omitempty"`
	NeedsGuideAssignment bool                  `json:"needs_guide_assignment"`
	PaymentStatus        models.PaymentStatus  `json:"payment_status"`
	TotalAmountPaid      float64               `json:"total_amount_paid"`
	ExpectedAmount       float64               `json:"expected_amount"`
	Notes                string                `json:"notes,omitempty"`
	Cancelled            bool                  `json:"cancelled"`
	Rescheduled          bool                  `json:"rescheduled"`
	LastSynced           *time.Time            `json:"last_synced,omitempty"`
	Guide                *GuideShort           `json:"guide,omitempty"`
	Group                *GroupShort           `json:"group,omitempty"`
	GuideID              *uint                 `json:"guide_id"`
	GroupID              *uint                 `json:"group_id"`
}

type GroupDTO struct {
	ID            uint        `json:"id"`
	Name          string      `json:"name"`
	TourDate      string      `json:"tour_date"`
	TourTime      string      `json:"tour_time"`
	Title         string      `json:"title"`
	TotalPax      int         `json:"total_pax"`
	MaxPax        int         `json:"max_pax"`
	OverCapacity  bool        `json:"over_capacity"`
	IsManualMerge bool        `json:"is_manual_merge"`
	Notes         string      `json:"notes,omitempty"`
	GuideID       *uint       `json:"guide_id"`
	Guide         *GuideShort `json:"guide,omitempty"`
	Tours         []TourDTO   `json:"tours,omitempty"`
}

type NotificationDTO struct {
	ID        uint        `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	GuideID   *uint       `json:"guide_id,omitempty"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Type      string      `json:"type"`
	Read      bool        `json:"read"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	Guide     *GuideShort `json:"guide,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// SplitLanguages turns the comma-separated languages column into a slice.
func SplitLanguages(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := CompactSpaces(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ToGuideShort(g *models.Guide) *GuideShort {
	if g == nil || g.ID == 0 {
		return nil
	}
	return &GuideShort{ID: g.ID, Name: g.Name, Languages: SplitLanguages(g.Languages)}
}

// ToTourDTO maps a models.Tour to its API shape. Guide and Group are
// included when preloaded.
func ToTourDTO(t models.Tour) TourDTO {
	dto := TourDTO{
		ID:                   t.ID,
		ExternalID:           t.ExternalID,
		ConfirmationCode:     t.ConfirmationCode,
		Source:               t.ExternalSource,
		Title:                t.Title,
		TourDate:             t.TourDate,
		TourTime:             t.TourTime,
		DurationMinutes:      t.DurationMinutes,
		Participants:         t.Participants,
		AdultCount:           t.AdultCount,
		ChildCount:           t.ChildCount,
		InfantCount:          t.InfantCount,
		CustomerName:         t.CustomerName,
		CustomerEmail:        t.CustomerEmail,
		CustomerPhone:        t.CustomerPhone,
		Language:             t.Language,
		SpecialRequests:      t.SpecialRequests,
		BookingChannel:       t.BookingChannel,
		NeedsGuideAssignment: t.NeedsGuideAssignment,
		PaymentStatus:        t.PaymentStatus,
		TotalAmountPaid:      t.TotalAmountPaid,
		ExpectedAmount:       t.ExpectedAmount,
		Notes:                t.Notes,
		Cancelled:            t.Cancelled,
		Rescheduled:          t.Rescheduled,
		LastSynced:           t.LastSynced,
		Guide:                ToGuideShort(t.Guide),
		GuideID:              t.GuideID,
		GroupID:              t.GroupID,
	}
	if t.Group != nil && t.Group.ID != 0 {
		dto.Group = &GroupShort{ID: t.Group.ID, Name: t.Group.Name, IsManualMerge: t.Group.IsManualMerge}
	}
	return dto
}

func ToTourDTOs(tours []models.Tour) []TourDTO {
	out := make([]TourDTO, 0, len(tours))
	for _, t := range tours {
		out = append(out, ToTourDTO(t))
	}
	return out
}

func ToGroupDTO(g models.TourGroup) GroupDTO {
	dto := GroupDTO{
		ID:            g.ID,
		Name:          g.Name,
		TourDate:      g.TourDate,
		TourTime:      g.TourTime,
		Title:         g.Title,
		TotalPax:      g.TotalPax,
		MaxPax:        g.MaxPax,
		OverCapacity:  g.MaxPax > 0 && g.TotalPax > g.MaxPax,
		IsManualMerge: g.IsManualMerge,
		Notes:         g.Notes,
		GuideID:       g.GuideID,
		Guide:         ToGuideShort(g.Guide),
	}
	if len(g.Tours) > 0 {
		dto.Tours = ToTourDTOs(g.Tours)
	}
	return dto
}

func ToGroupDTOs(groups []models.TourGroup) []GroupDTO {
	out := make([]GroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, ToGroupDTO(g))
	}
	return out
}

// ToNotificationDTO maps a models.Notification to the compact DTO.
func ToNotificationDTO(n models.Notification) NotificationDTO {
	dto := NotificationDTO{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		GuideID:   n.GuideID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
		Guide:     ToGuideShort(n.Guide),
	}
	if len(n.Data) > 0 {
		dto.Data = n.Data
	}
	return dto
}
