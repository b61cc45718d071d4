package channel

import (
	"context"
	"time"
)

// Pager yields bookings one page at a time. Next returns ErrNoMorePages once
// the sequence is exhausted; Reset starts again from the first page.
type Pager interface {
	Next(ctx context.Context) ([]RawBooking, error)
	Reset()
}

// BookingPager pages through a booking search. It is lazy: nothing is
// fetched until Next is called.
type BookingPager struct {
	client    *Client
	from      string
	to        string
	pageSize  int
	page      int
	totalHits int
	done      bool
}

// FetchBookings returns a pager over bookings starting between start and end
// (inclusive calendar dates in the caller's location).
func (c *Client) FetchBookings(start, end time.Time) Pager {
	return &BookingPager{
		client:   c,
		from:     start.Format("2006-01-02"),
		to:       end.Format("2006-01-02"),
		pageSize: c.pageSize,
	}
}

func (p *BookingPager) Next(ctx context.Context) ([]RawBooking, error) {
	if p.done {
		return nil, ErrNoMorePages
	}
	page := p.page + 1
	res, err := p.client.SearchBookings(ctx, SearchRequest{
		From:     p.from,
		To:       p.to,
		Page:     page,
		PageSize: p.pageSize,
	})
	if err != nil {
		// page is not advanced, so a later Next retries the same page
		return nil, err
	}
	p.page = page
	p.totalHits = res.TotalHits
	if len(res.Items) == 0 {
		p.done = true
		return nil, ErrNoMorePages
	}
	if page*p.pageSize >= res.TotalHits {
		p.done = true
	}
	return res.Items, nil
}

func (p *BookingPager) Reset() {
	p.page = 0
	p.totalHits = 0
	p.done = false
}

// Page is the last page successfully fetched (0 before the first call).
func (p *BookingPager) Page() int { return p.page }

// TotalHits is the total reported by the last response.
func (p *BookingPager) TotalHits() int { return p.totalHits }
