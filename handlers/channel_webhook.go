package handlers

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"tourdesk_go/models"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/channelsync"
)

const (
	webhookMaxSkew    = 5 * time.Minute
	webhookTimeout    = 10 * time.Minute
	webhookRetryDelay = 30 * time.Second
	webhookMaxRetries = 5
)

// SyncRunner starts a sync run.
type SyncRunner interface {
	Run(ctx context.Context, req channelsync.Request) (*channelsync.Summary, error)
}

// ChannelWebhookHandler accepts booking notifications from the channel and
// syncs the affected day in the background.
type ChannelWebhookHandler struct {
	signer     channel.Signer
	syncer     SyncRunner
	loc        *time.Location
	dispatch   func(req channelsync.Request)
	retryDelay time.Duration
}

type webhookPayload struct {
	Event   string              `json:"event"`
	Booking *channel.RawBooking `json:"booking"`
}

// NewChannelWebhookHandler verifies requests with secret. An empty secret
// disables the endpoint.
func NewChannelWebhookHandler(secret string, syncer SyncRunner, loc *time.Location) *ChannelWebhookHandler {
	if loc == nil {
		loc = time.UTC
	}
	h := &ChannelWebhookHandler{
		signer:     channel.Signer{SecretKey: secret},
		syncer:     syncer,
		loc:        loc,
		retryDelay: webhookRetryDelay,
	}
	h.dispatch = h.runAsync
	return h
}

// Handle verifies the signature, works out the booking's day and answers
// 202 before the sync runs.
func (h *ChannelWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.signer.SecretKey == "" || h.syncer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Channel webhook is not configured"})
	}

	body := c.Body()
	ts := c.Get(channel.HeaderDate)
	sig := c.Get(channel.HeaderSignature)
	if !h.signer.Verify(c.Method(), c.OriginalURL(), ts, body, sig, webhookMaxSkew) {
		logrus.WithField("ip", c.IP()).Warn("Channel webhook signature rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Booking == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid webhook payload"})
	}
	day, err := h.bookingDay(payload.Booking)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.dispatch(channelsync.Request{Trigger: models.TriggerWebhook, From: day, To: day})

	logrus.WithFields(logrus.Fields{
		"event":       payload.Event,
		"external_id": payload.Booking.ID.String(),
		"date":        day.Format("2006-01-02"),
	}).Info("Channel webhook accepted")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
		"date":   day.Format("2006-01-02"),
	})
}

// bookingDay mirrors the normalizer: the start instant in the tour timezone,
// else the date-only field read as a UTC calendar date.
func (h *ChannelWebhookHandler) bookingDay(b *channel.RawBooking) (time.Time, error) {
	switch {
	case b.StartDateTime > 0:
		t := time.UnixMilli(b.StartDateTime).In(h.loc)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, h.loc), nil
	case b.Date > 0:
		t := time.UnixMilli(b.Date).UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, h.loc), nil
	}
	return time.Time{}, errors.New("booking has no start date")
}

func (h *ChannelWebhookHandler) runAsync(req channelsync.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		sum, err := h.runWithRetry(ctx, req)
		switch {
		case errors.Is(err, channelsync.ErrSyncInProgress):
			logrus.WithField("date", req.From.Format("2006-01-02")).Warn("Webhook sync dropped: tenant lock stayed busy")
		case err != nil:
			logrus.WithError(err).Error("Webhook sync failed")
		default:
			logrus.WithFields(logrus.Fields{"run_id": sum.RunID, "status": sum.Status}).Info("Webhook sync finished")
		}
	}()
}

// runWithRetry waits out a sync that is already running, doubling the delay
// between attempts, so the booking's day is still synced afterwards.
func (h *ChannelWebhookHandler) runWithRetry(ctx context.Context, req channelsync.Request) (*channelsync.Summary, error) {
	delay := h.retryDelay
	for attempt := 0; ; attempt++ {
		sum, err := h.syncer.Run(ctx, req)
		if !errors.Is(err, channelsync.ErrSyncInProgress) || attempt >= webhookMaxRetries {
			return sum, err
		}
		logrus.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay.String()}).Info("Webhook sync waiting for running sync")
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(delay):
		}
		delay *= 2
	}
}
