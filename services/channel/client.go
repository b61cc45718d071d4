package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	searchPath       = "/booking.json/booking-search"
	opSearch         = "booking-search"
	maxTimeout       = 30 * time.Second
	maxResponseBytes = 32 << 20
	defaultPageSize  = 50
	breakerName      = "booking-channel"
)

// Config configures a Client. Limiter and HTTPClient are optional; each
// client owns its own limiter so tests and tenants never share state.
type Config struct {
	BaseURL        string
	AccessKey      string
	SecretKey      string
	VendorID       string
	PageSize       int
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Limiter        *rate.Limiter
	HTTPClient     *http.Client
	Logger         *logrus.Entry
}

// Client talks to the booking channel's search API.
type Client struct {
	baseURL        string
	vendorID       string
	pageSize       int
	signer         Signer
	http           *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	cb             *gobreaker.CircuitBreaker[*SearchResponse]
	log            *logrus.Entry
}

// NewClient builds a client with a timeout of at most 30s, no redirect
// following and a circuit breaker that only counts transient failures.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > maxTimeout {
		timeout = maxTimeout
	}

	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	}
	if hc.Timeout <= 0 || hc.Timeout > timeout {
		hc.Timeout = timeout
	}
	// A 303 must reach classification instead of being followed.
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("component", "channel")
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		vendorID:       cfg.VendorID,
		pageSize:       pageSize,
		signer:         Signer{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey},
		http:           &hc,
		limiter:        cfg.Limiter,
		maxRetries:     maxRetries,
		retryBaseDelay: baseDelay,
		log:            logger,
	}

	c.cb = gobreaker.NewCircuitBreaker[*SearchResponse](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("channel circuit breaker state change")
		},
	})

	return c
}

// PageSize is the page size used by FetchBookings.
func (c *Client) PageSize() int { return c.pageSize }

// BreakerState reports the circuit breaker state for health checks.
func (c *Client) BreakerState() string { return c.cb.State().String() }

// SearchBookings fetches one page of bookings whose start date falls in
// [From, To].
func (c *Client) SearchBookings(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	if sr.Page < 1 {
		sr.Page = 1
	}
	if sr.PageSize <= 0 {
		sr.PageSize = c.pageSize
	}
	body, err := json.Marshal(searchBody{
		VendorID:       c.vendorID,
		StartDateRange: dateRange{From: sr.From, To: sr.To},
		Page:           sr.Page,
		PageSize:       sr.PageSize,
	})
	if err != nil {
		return nil, &ChannelError{Kind: KindProtocol, Op: opSearch, Err: err}
	}

	res, err := c.cb.Execute(func() (*SearchResponse, error) {
		return c.doWithRetry(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &ChannelError{Kind: KindTransient, Op: opSearch, Err: err}
	}
	return res, err
}

// doWithRetry retries transient failures with doubling delays, honouring
// Retry-After on 429. Every wait observes ctx.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (*SearchResponse, error) {
	var lastErr *ChannelError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, retryAfter, err := c.do(ctx, body)
		if err == nil {
			return res, nil
		}
		var ce *ChannelError
		if !errors.As(err, &ce) || ce.Kind != KindTransient {
			return nil, err
		}
		ce.Attempts = attempt + 1
		lastErr = ce
		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter > 0 {
			delay = retryAfter
		}
		c.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"status":  ce.StatusCode,
		}).WithError(ce.Err).Warn("channel request failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (*SearchResponse, time.Duration, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, ctxErr
			}
			return nil, 0, &ChannelError{Kind: KindTransient, Op: opSearch, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &ChannelError{Kind: KindProtocol, Op: opSearch, Err: err}
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	c.signer.Apply(req, body)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, &ChannelError{Kind: KindTransient, Op: opSearch, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, &ChannelError{Kind: KindTransient, Op: opSearch, StatusCode: resp.StatusCode, Err: err}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusSeeOther:
		return nil, 0, &ChannelError{Kind: KindPermission, Op: opSearch, StatusCode: code, Body: truncateBody(payload)}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, 0, &ChannelError{Kind: KindAuth, Op: opSearch, StatusCode: code, Body: truncateBody(payload)}
	case code == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			&ChannelError{Kind: KindTransient, Op: opSearch, StatusCode: code, Body: truncateBody(payload)}
	case code >= 500:
		return nil, 0, &ChannelError{Kind: KindTransient, Op: opSearch, StatusCode: code, Body: truncateBody(payload)}
	case code < 200 || code >= 300:
		return nil, 0, &ChannelError{Kind: KindProtocol, Op: opSearch, StatusCode: code, Body: truncateBody(payload)}
	}

	out, err := decodeSearchResponse(payload)
	if err != nil {
		return nil, 0, &ChannelError{
			Kind:       KindProtocol,
			Op:         opSearch,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return out, 0, nil
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
