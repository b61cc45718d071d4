package models

import (
	"errors"
	"testing"
)

func TestDerivePaymentStatus(t *testing.T) {
	tests := []struct {
		name     string
		paid     float64
		expected float64
		want     PaymentStatus
	}{
		{name: "nothing paid", paid: 0, expected: 120, want: PaymentUnpaid},
		{name: "refunded below zero", paid: -10, expected: 120, want: PaymentUnpaid},
		{name: "deposit", paid: 40, expected: 120, want: PaymentPartial},
		{name: "exact", paid: 120, expected: 120, want: PaymentPaid},
		{name: "float noise", paid: 0.1 + 0.2, expected: 0.3, want: PaymentPaid},
		{name: "overpaid", paid: 130, expected: 120, want: PaymentOverpaid},
		{name: "no price known", paid: 15, expected: 0, want: PaymentPaid},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := DerivePaymentStatus(tc.paid, tc.expected); got != tc.want {
				t.Fatalf("DerivePaymentStatus(%v, %v) = %s, want %s", tc.paid, tc.expected, got, tc.want)
			}
		})
	}
}

func TestParseEnumsRejectUnknownValues(t *testing.T) {
	if _, err := ParsePaymentStatus("refunded"); err == nil {
		t.Fatalf("expected error for unknown payment status")
	}
	if _, err := ParseExternalSource("email"); err == nil {
		t.Fatalf("expected error for unknown external source")
	}
	if _, err := ParseSyncTrigger("cron"); err == nil {
		t.Fatalf("expected error for unknown sync trigger")
	}
	_, err := ParseSyncStatus("done")
	var enumErr *InvalidEnumError
	if !errors.As(err, &enumErr) {
		t.Fatalf("expected InvalidEnumError, got %v", err)
	}
	if enumErr.Value != "done" {
		t.Fatalf("expected offending value in error, got %q", enumErr.Value)
	}

	s, err := ParsePaymentStatus("  PAID ")
	if err != nil || s != PaymentPaid {
		t.Fatalf("expected paid, got %q (%v)", s, err)
	}
}

func TestEnumDatabaseBoundary(t *testing.T) {
	if _, err := PaymentStatus("bogus").Value(); err == nil {
		t.Fatalf("expected Value to refuse invalid payment status")
	}
	var s PaymentStatus
	if err := s.Scan([]byte("partial")); err != nil || s != PaymentPartial {
		t.Fatalf("expected partial, got %q (%v)", s, err)
	}
	if err := s.Scan("weird"); err == nil {
		t.Fatalf("expected Scan to refuse invalid payment status")
	}
	var st SyncStatus
	if err := st.Scan(nil); err == nil {
		t.Fatalf("expected Scan to refuse NULL")
	}
	if !SyncCancelled.Terminal() || SyncRunning.Terminal() {
		t.Fatalf("unexpected Terminal results")
	}
}
