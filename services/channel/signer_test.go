package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"
	"time"
)

func TestSignerMatchesCanonicalString(t *testing.T) {
	s := Signer{AccessKey: "ak", SecretKey: "secret"}
	body := []byte(`{"page":1}`)
	got := s.Sign("post", "/booking.json/booking-search", "2026-05-01 10:00:00", body)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("POST\n/booking.json/booking-search\n2026-05-01 10:00:00\n{\"page\":1}"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
}

func TestSignerApplyAndVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := Signer{AccessKey: "ak", SecretKey: "secret", Now: func() time.Time { return now }}
	body := []byte(`{}`)
	req, err := http.NewRequest(http.MethodPost, "https://channel.test/api/booking.json/booking-search?lang=EN", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	s.Apply(req, body)

	if req.Header.Get(HeaderDate) != "2026-05-01 10:00:00" {
		t.Fatalf("unexpected date header %q", req.Header.Get(HeaderDate))
	}
	sig := req.Header.Get(HeaderSignature)
	if !s.Verify(http.MethodPost, "/api/booking.json/booking-search?lang=EN", "2026-05-01 10:00:00", body, sig, time.Minute) {
		t.Fatalf("expected signature to verify")
	}
	if s.Verify(http.MethodPost, "/api/booking.json/booking-search?lang=EN", "2026-05-01 10:00:00", []byte(`{"x":1}`), sig, time.Minute) {
		t.Fatalf("tampered body must not verify")
	}

	later := Signer{SecretKey: "secret", Now: func() time.Time { return now.Add(10 * time.Minute) }}
	if later.Verify(http.MethodPost, "/api/booking.json/booking-search?lang=EN", "2026-05-01 10:00:00", body, sig, 5*time.Minute) {
		t.Fatalf("stale timestamp must not verify")
	}
}
