package services

import (
	"context"
	"errors"
	"testing"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
	"tourdesk_go/services/grouping"
)

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ interface{}) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestPaymentLedgerDerivesStatus(t *testing.T) {
	db := dbtest.Open(t)
	pub := &recordingPublisher{}
	svc := NewPaymentService(db, pub)
	ctx := context.Background()

	tour := seedTour(t, db, "Old Town", "2026-06-12", "10:30:00", 2, nil, false)
	db.Model(&tour).Update("expected_amount", 120.00)

	steps := []struct {
		amount float64
		total  float64
		want   models.PaymentStatus
	}{
		{50, 50, models.PaymentPartial},
		{70, 120, models.PaymentPaid},
		{10.004, 130, models.PaymentOverpaid},
		{-130, 0, models.PaymentUnpaid},
	}
	var ids []uint
	for _, st := range steps {
		p, updated, err := svc.RecordPayment(ctx, tour.ID, PaymentInput{Amount: st.amount, Method: "card"})
		if err != nil {
			t.Fatalf("RecordPayment(%v): %v", st.amount, err)
		}
		ids = append(ids, p.ID)
		if updated.TotalAmountPaid != st.total || updated.PaymentStatus != st.want {
			t.Fatalf("after %v: total %v status %s, want %v %s", st.amount, updated.TotalAmountPaid, updated.PaymentStatus, st.total, st.want)
		}
	}

	// Removing the refund brings back the overpayment.
	updated, err := svc.DeletePayment(ctx, ids[3])
	if err != nil {
		t.Fatalf("DeletePayment: %v", err)
	}
	if updated.PaymentStatus != models.PaymentOverpaid || updated.TotalAmountPaid != 130 {
		t.Fatalf("after delete: %v %s", updated.TotalAmountPaid, updated.PaymentStatus)
	}

	var stored models.Tour
	db.First(&stored, tour.ID)
	if stored.PaymentStatus != models.PaymentOverpaid {
		t.Fatalf("stored status = %s", stored.PaymentStatus)
	}
	if len(pub.keys) != 5 {
		t.Fatalf("published %d events, want 5", len(pub.keys))
	}

	list, err := svc.ListPayments(ctx, tour.ID)
	if err != nil || len(list) != 3 {
		t.Fatalf("ListPayments = %d, %v", len(list), err)
	}
}

func TestPaymentTotalFloorsAtZero(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewPaymentService(db, nil)
	tour := seedTour(t, db, "Tapas", "2026-06-12", "19:00:00", 2, nil, false)

	_, updated, err := svc.RecordPayment(context.Background(), tour.ID, PaymentInput{Amount: -40})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if updated.TotalAmountPaid != 0 || updated.PaymentStatus != models.PaymentUnpaid {
		t.Fatalf("got %v %s", updated.TotalAmountPaid, updated.PaymentStatus)
	}
}

func TestPaymentErrors(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewPaymentService(db, nil)
	ctx := context.Background()
	tour := seedTour(t, db, "Tapas", "2026-06-12", "19:00:00", 2, nil, false)

	if _, _, err := svc.RecordPayment(ctx, tour.ID, PaymentInput{Amount: 0.001}); !errors.Is(err, ErrZeroPayment) {
		t.Fatalf("expected ErrZeroPayment, got %v", err)
	}
	if _, _, err := svc.RecordPayment(ctx, 999, PaymentInput{Amount: 10}); !errors.Is(err, grouping.ErrTourNotFound) {
		t.Fatalf("expected ErrTourNotFound, got %v", err)
	}
	if _, err := svc.DeletePayment(ctx, 999); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
