package booking

import (
	"fmt"
	"strings"
	"time"

	"tourdesk_go/services/channel"
	"tourdesk_go/utils"
)

const statusCancelled = "CANCELLED"

// NormalizedBooking is a channel booking mapped onto local tour fields.
type NormalizedBooking struct {
	ExternalID        string
	ExternalBookingID string
	ConfirmationCode  string
	Title             string
	TourDate          string // YYYY-MM-DD, local
	TourTime          string // HH:MM:SS, local
	DurationMinutes   int
	Participants      int
	AdultCount        int
	ChildCount        int
	InfantCount       int
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	Language          *string
	SpecialRequests   string
	BookingChannel    string
	ChannelStatus     string
	Cancelled         bool
	ExpectedAmount    float64
	Currency          string
	RawPayload        []byte
}

// Normalizer maps raw channel bookings to NormalizedBooking. It has no side
// effects; the only configuration is the local timezone.
type Normalizer struct {
	loc *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize maps one booking or returns a *NormalizationError.
func (n *Normalizer) Normalize(raw channel.RawBooking) (*NormalizedBooking, error) {
	id := raw.ID.String()
	if raw.DecodeErr != nil {
		return nil, &NormalizationError{ExternalID: id, Field: "payload", Reason: raw.DecodeErr.Error()}
	}
	if id == "" {
		return nil, &NormalizationError{ExternalID: "?", Field: "id"}
	}

	title := ""
	if raw.Product != nil {
		title = utils.CompactSpaces(raw.Product.Title)
	}
	if title == "" {
		return nil, &NormalizationError{ExternalID: id, Field: "title"}
	}

	date, clock, err := n.schedule(raw)
	if err != nil {
		err.ExternalID = id
		return nil, err
	}

	nb := &NormalizedBooking{
		ExternalID:        id,
		ExternalBookingID: raw.BookingID.String(),
		ConfirmationCode:  strings.TrimSpace(raw.ProductConfirmationCode),
		Title:             title,
		TourDate:          date,
		TourTime:          clock,
		DurationMinutes:   raw.DurationMinutes,
		ChannelStatus:     strings.ToUpper(strings.TrimSpace(raw.Status)),
		ExpectedAmount:    raw.TotalPrice,
		Currency:          strings.ToUpper(strings.TrimSpace(raw.Currency)),
		RawPayload:        raw.Raw,
	}
	if nb.ConfirmationCode == "" {
		nb.ConfirmationCode = strings.TrimSpace(raw.ConfirmationCode)
	}
	nb.Cancelled = nb.ChannelStatus == statusCancelled

	nb.AdultCount, nb.ChildCount, nb.InfantCount = countParticipants(raw)
	nb.Participants = nb.AdultCount + nb.ChildCount

	contact := raw.Customer
	if contact.Empty() {
		contact = raw.MainContactDetails
	}
	if !contact.Empty() {
		nb.CustomerName = utils.CompactSpaces(contact.FirstName + " " + contact.LastName)
		nb.CustomerEmail = strings.TrimSpace(contact.Email)
		nb.CustomerPhone = strings.TrimSpace(contact.PhoneNumber)
	}

	noteBodies := make([]string, 0, len(raw.Notes))
	for _, note := range raw.Notes {
		noteBodies = append(noteBodies, note.Body)
	}
	lang := languageFromNotes(noteBodies)
	if lang == "" {
		lang = languageFromTitles(raw.Product.Title, raw.RateTitle)
	}
	if lang != "" {
		nb.Language = &lang
	}

	nb.SpecialRequests = joinRequests(raw.SpecialRequests, raw.CustomerNote, noteBodies)

	switch {
	case raw.Channel != nil && strings.TrimSpace(raw.Channel.Title) != "":
		nb.BookingChannel = strings.TrimSpace(raw.Channel.Title)
	case raw.Affiliate != nil:
		nb.BookingChannel = strings.TrimSpace(raw.Affiliate.Title)
	}

	return nb, nil
}

// schedule resolves the local date and time. A full start timestamp wins;
// otherwise the calendar date is combined with the startTime clock string.
func (n *Normalizer) schedule(raw channel.RawBooking) (string, string, *NormalizationError) {
	if raw.StartDateTime > 0 {
		t := time.UnixMilli(raw.StartDateTime).In(n.loc)
		return t.Format(utils.DateLayout), t.Format("15:04:05"), nil
	}
	if raw.Date <= 0 {
		return "", "", &NormalizationError{Field: "date"}
	}
	// Date-only values are midnight UTC of the calendar day.
	date := time.UnixMilli(raw.Date).UTC().Format(utils.DateLayout)
	if strings.TrimSpace(raw.StartTime) == "" {
		return "", "", &NormalizationError{Field: "time"}
	}
	h, m, err := utils.ParseHourMinute(raw.StartTime)
	if err != nil {
		return "", "", &NormalizationError{Field: "time", Reason: err.Error()}
	}
	return date, fmt.Sprintf("%02d:%02d:00", h, m), nil
}

// countParticipants sums price categories. Infants ride free and are not
// participants; CHILD, YOUTH and TEEN count as children, everything else as
// adults. Without categories the channel's own total is trusted.
func countParticipants(raw channel.RawBooking) (adults, children, infants int) {
	if len(raw.PriceCategoryBookings) == 0 {
		if raw.TotalParticipants > 0 {
			return raw.TotalParticipants, 0, 0
		}
		return 0, 0, 0
	}
	for _, pcb := range raw.PriceCategoryBookings {
		qty := pcb.Quantity
		if qty <= 0 {
			continue
		}
		category := strings.ToUpper(strings.TrimSpace(pcb.PricingCategory.TicketCategory))
		if category == "" {
			category = strings.ToUpper(strings.TrimSpace(pcb.PricingCategory.Title))
		}
		switch {
		case strings.Contains(category, "INFANT"):
			infants += qty
		case strings.Contains(category, "CHILD"), strings.Contains(category, "YOUTH"), strings.Contains(category, "TEEN"):
			children += qty
		default:
			adults += qty
		}
	}
	return adults, children, infants
}

func joinRequests(special, customerNote string, notes []string) string {
	parts := make([]string, 0, 2+len(notes))
	for _, p := range append([]string{special, customerNote}, notes...) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}
