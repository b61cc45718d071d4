package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"tourdesk_go/models"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/channelsync"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, channelsync.Request) (*channelsync.Summary, error) {
	return &channelsync.Summary{}, nil
}

func newWebhookApp(t *testing.T, secret string) (*fiber.App, *[]channelsync.Request) {
	t.Helper()
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	h := NewChannelWebhookHandler(secret, noopRunner{}, madrid)
	var got []channelsync.Request
	h.dispatch = func(req channelsync.Request) { got = append(got, req) }

	app := fiber.New()
	app.Post("/webhooks/channel", h.Handle)
	return app, &got
}

type signedWebhook struct {
	body, date, sig string
}

func signedRequest(secret, body string, ts time.Time) *signedWebhook {
	stamp := ts.UTC().Format(channel.DateLayout)
	sig := channel.Signer{SecretKey: secret}.Sign("POST", "/webhooks/channel", stamp, []byte(body))
	return &signedWebhook{body: body, date: stamp, sig: sig}
}

func (r *signedWebhook) build() *http.Request {
	req := httptest.NewRequest("POST", "/webhooks/channel", bytes.NewBufferString(r.body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(channel.HeaderDate, r.date)
	req.Header.Set(channel.HeaderSignature, r.sig)
	return req
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func TestChannelWebhook(t *testing.T) {
	const secret = "whsec"
	// 2026-06-11 23:30 UTC is already 2026-06-12 in Madrid.
	startMs := time.Date(2026, 6, 11, 23, 30, 0, 0, time.UTC).UnixMilli()
	dateOnlyMs := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name     string
		body     string
		tamper   bool
		stale    bool
		want     int
		wantDate string
	}{
		{name: "start instant", body: `{"event":"BOOKING_CONFIRMED","booking":{"id":101,"startDateTime":` + itoa(startMs) + `}}`, want: 202, wantDate: "2026-06-12"},
		{name: "date only", body: `{"event":"BOOKING_UPDATED","booking":{"id":"102","date":` + itoa(dateOnlyMs) + `}}`, want: 202, wantDate: "2026-06-20"},
		{name: "bad signature", body: `{"booking":{"id":1,"date":` + itoa(dateOnlyMs) + `}}`, tamper: true, want: 401},
		{name: "stale timestamp", body: `{"booking":{"id":1,"date":` + itoa(dateOnlyMs) + `}}`, stale: true, want: 401},
		{name: "no booking", body: `{"event":"PING"}`, want: 400},
		{name: "no date", body: `{"booking":{"id":1}}`, want: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, got := newWebhookApp(t, secret)
			ts := time.Now()
			if tt.stale {
				ts = ts.Add(-time.Hour)
			}
			r := signedRequest(secret, tt.body, ts)
			if tt.tamper {
				r.sig = "AAAA" + r.sig
			}
			resp, err := app.Test(r.build())
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != 202 {
				if len(*got) != 0 {
					t.Fatalf("rejected webhook must not start a sync")
				}
				return
			}
			if len(*got) != 1 {
				t.Fatalf("expected one dispatched sync, got %d", len(*got))
			}
			req := (*got)[0]
			if req.Trigger != models.TriggerWebhook {
				t.Fatalf("trigger = %s", req.Trigger)
			}
			if d := req.From.Format("2006-01-02"); d != tt.wantDate || !req.From.Equal(req.To) {
				t.Fatalf("range %v..%v, want single day %s", req.From, req.To, tt.wantDate)
			}
		})
	}
}

func TestChannelWebhookDisabledWithoutSecret(t *testing.T) {
	app, _ := newWebhookApp(t, "")
	resp, err := app.Test(httptest.NewRequest("POST", "/webhooks/channel", bytes.NewBufferString(`{}`)))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

type busyRunner struct {
	busy  int
	calls int
}

func (r *busyRunner) Run(context.Context, channelsync.Request) (*channelsync.Summary, error) {
	r.calls++
	if r.calls <= r.busy {
		return nil, channelsync.ErrSyncInProgress
	}
	return &channelsync.Summary{RunID: "after-wait", Status: models.SyncSucceeded}, nil
}

func TestWebhookSyncWaitsForRunningSync(t *testing.T) {
	runner := &busyRunner{busy: 2}
	h := NewChannelWebhookHandler("secret", runner, time.UTC)
	h.retryDelay = time.Millisecond

	sum, err := h.runWithRetry(context.Background(), channelsync.Request{Trigger: models.TriggerWebhook})
	if err != nil {
		t.Fatalf("expected run after the busy lock cleared, got %v", err)
	}
	if runner.calls != 3 || sum.RunID != "after-wait" {
		t.Fatalf("expected 3 attempts ending in a run, got %d (%+v)", runner.calls, sum)
	}

	stuck := &busyRunner{busy: 100}
	h = NewChannelWebhookHandler("secret", stuck, time.UTC)
	h.retryDelay = time.Millisecond
	if _, err := h.runWithRetry(context.Background(), channelsync.Request{}); !errors.Is(err, channelsync.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress once retries run out, got %v", err)
	}
	if stuck.calls != webhookMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", webhookMaxRetries+1, stuck.calls)
	}
}
