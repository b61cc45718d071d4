package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/services/events"
	"tourdesk_go/services/grouping"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrZeroPayment     = errors.New("payment amount must not be zero")
)

// PaymentInput is one ledger entry to record. Negative amounts are refunds.
type PaymentInput struct {
	Amount    float64
	Method    string
	Reference string
	PaidAt    time.Time
	Note      string
}

// PaymentService owns the payment ledger. Every mutation recomputes the
// tour's total and derived payment status in the same transaction.
type PaymentService struct {
	db        *gorm.DB
	publisher events.Publisher
	now       func() time.Time
}

func NewPaymentService(db *gorm.DB, publisher events.Publisher) *PaymentService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &PaymentService{db: db, publisher: publisher, now: time.Now}
}

// RecordPayment appends an entry and returns it with the updated tour.
func (s *PaymentService) RecordPayment(ctx context.Context, tourID uint, in PaymentInput) (*models.Payment, *models.Tour, error) {
	if math.Round(in.Amount*100) == 0 {
		return nil, nil, ErrZeroPayment
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}

	payment := models.Payment{
		TourID:    tourID,
		Amount:    math.Round(in.Amount*100) / 100,
		Method:    in.Method,
		Reference: in.Reference,
		PaidAt:    in.PaidAt,
		Note:      in.Note,
	}
	var tour models.Tour
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tour, tourID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return grouping.ErrTourNotFound
			}
			return err
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return refreshPaymentStatus(tx, &tour)
	})
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, &tour, payment.ID, payment.Amount)
	return &payment, &tour, nil
}

// DeletePayment removes an entry and returns the updated tour.
func (s *PaymentService) DeletePayment(ctx context.Context, paymentID uint) (*models.Tour, error) {
	var tour models.Tour
	var amount float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		amount = -payment.Amount
		if err := tx.Delete(&payment).Error; err != nil {
			return err
		}
		if err := tx.First(&tour, payment.TourID).Error; err != nil {
			return err
		}
		return refreshPaymentStatus(tx, &tour)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, &tour, paymentID, amount)
	return &tour, nil
}

// ListPayments returns a tour's ledger oldest first.
func (s *PaymentService) ListPayments(ctx context.Context, tourID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).Where("tour_id = ?", tourID).Order("paid_at").Order("id").Find(&payments).Error
	return payments, err
}

// refreshPaymentStatus recomputes the ledger total, floored at zero, and the
// derived status. tour is updated in place.
func refreshPaymentStatus(tx *gorm.DB, tour *models.Tour) error {
	var total float64
	if err := tx.Model(&models.Payment{}).Where("tour_id = ?", tour.ID).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error; err != nil {
		return fmt.Errorf("sum payments: %w", err)
	}
	total = math.Max(0, math.Round(total*100)/100)
	status := models.DerivePaymentStatus(total, tour.ExpectedAmount)

	if err := tx.Model(tour).Updates(map[string]interface{}{
		"total_amount_paid": total,
		"payment_status":    status,
	}).Error; err != nil {
		return err
	}
	tour.TotalAmountPaid = total
	tour.PaymentStatus = status
	return nil
}

func (s *PaymentService) publish(ctx context.Context, tour *models.Tour, paymentID uint, delta float64) {
	err := s.publisher.Publish(ctx, events.PaymentRecorded, map[string]interface{}{
		"tour_id":        tour.ID,
		"payment_id":     paymentID,
		"amount":         delta,
		"total_paid":     tour.TotalAmountPaid,
		"payment_status": tour.PaymentStatus,
	})
	if err != nil {
		logrus.WithError(err).WithField("tour_id", tour.ID).Warn("Failed to publish payment event")
	}
}
