package channel

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// FlexibleID accepts ids the channel sends either as numbers or strings.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexibleID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string { return string(f) }

// RawBooking is the subset of the channel's booking document the service reads.
type RawBooking struct {
	ID                      FlexibleID             `json:"id"`
	BookingID               FlexibleID             `json:"bookingId"`
	ConfirmationCode        string                 `json:"confirmationCode"`
	ProductConfirmationCode string                 `json:"productConfirmationCode"`
	Status                  string                 `json:"status"`
	Product                 *Product               `json:"product"`
	RateTitle               string                 `json:"rateTitle"`
	StartDateTime           int64                  `json:"startDateTime"` // epoch ms
	Date                    int64                  `json:"date"`          // epoch ms, calendar date only
	StartTime               string                 `json:"startTime"`     // "HH:MM"
	DurationMinutes         int                    `json:"durationMinutes"`
	PriceCategoryBookings   []PriceCategoryBooking `json:"priceCategoryBookings"`
	TotalParticipants       int                    `json:"totalParticipants"`
	TotalPrice              float64                `json:"totalPrice"`
	Currency                string                 `json:"currency"`
	Customer                *Contact               `json:"customer"`
	MainContactDetails      *Contact               `json:"mainContactDetails"`
	Notes                   []Note                 `json:"notes"`
	SpecialRequests         string                 `json:"specialRequests"`
	CustomerNote            string                 `json:"customerNote"`
	Channel                 *Named                 `json:"channel"`
	Affiliate               *Named                 `json:"affiliate"`

	// Raw is the item exactly as received, compacted.
	Raw []byte `json:"-"`
	// DecodeErr is set when the item could not be decoded into this shape.
	DecodeErr error `json:"-"`
}

type Product struct {
	ID    FlexibleID `json:"id"`
	Title string     `json:"title"`
}

type PriceCategoryBooking struct {
	PricingCategory PricingCategory `json:"pricingCategory"`
	Quantity        int             `json:"quantity"`
}

type PricingCategory struct {
	ID             FlexibleID `json:"id"`
	Title          string     `json:"title"`
	TicketCategory string     `json:"ticketCategory"`
}

type Contact struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// Empty reports whether the contact carries nothing usable.
func (c *Contact) Empty() bool {
	return c == nil || strings.TrimSpace(c.FirstName+c.LastName+c.Email+c.PhoneNumber) == ""
}

type Note struct {
	Body string `json:"body"`
}

type Named struct {
	ID    FlexibleID `json:"id"`
	Title string     `json:"title"`
}

// SearchRequest selects one page of bookings by start date.
type SearchRequest struct {
	From     string // YYYY-MM-DD
	To       string // YYYY-MM-DD
	Page     int    // 1-based
	PageSize int
}

type searchBody struct {
	VendorID       string    `json:"vendorId,omitempty"`
	StartDateRange dateRange `json:"startDateRange"`
	Page           int       `json:"page"`
	PageSize       int       `json:"pageSize"`
}

type dateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SearchResponse is one decoded page.
type SearchResponse struct {
	TotalHits int
	Items     []RawBooking
}

type searchEnvelope struct {
	TotalHits int               `json:"totalHits"`
	Items     []json.RawMessage `json:"items"`
}

// decodeSearchResponse decodes the envelope strictly and each item leniently:
// an item that does not fit RawBooking is kept with DecodeErr set so the
// caller can report it without losing the rest of the page.
func decodeSearchResponse(body []byte) (*SearchResponse, error) {
	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	out := &SearchResponse{TotalHits: env.TotalHits, Items: make([]RawBooking, 0, len(env.Items))}
	for _, item := range env.Items {
		var rb RawBooking
		if err := json.Unmarshal(item, &rb); err != nil {
			rb = RawBooking{DecodeErr: err}
			var probe struct {
				ID FlexibleID `json:"id"`
			}
			if json.Unmarshal(item, &probe) == nil {
				rb.ID = probe.ID
			}
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, item); err == nil {
			rb.Raw = compact.Bytes()
		} else {
			rb.Raw = append([]byte(nil), item...)
		}
		out.Items = append(out.Items, rb)
	}
	return out, nil
}
