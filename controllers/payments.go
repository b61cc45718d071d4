package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"tourdesk_go/services"
	"tourdesk_go/utils"
)

type PaymentController struct {
	payments *services.PaymentService
}

func NewPaymentController(payments *services.PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// RecordPaymentRequest is one ledger entry. Negative amounts are refunds.
type RecordPaymentRequest struct {
	Amount    float64    `json:"amount" validate:"required"`
	Method    string     `json:"method" validate:"omitempty,oneof=cash card transfer online voucher other"`
	Reference string     `json:"reference" validate:"max=100"`
	PaidAt    *time.Time `json:"paid_at"`
	Note      string     `json:"note"`
}

func (pc *PaymentController) RecordPayment(c *fiber.Ctx) error {
	tourID, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	var req RecordPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return respondError(c, err)
	}

	in := services.PaymentInput{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Note:      req.Note,
	}
	if req.PaidAt != nil {
		in.PaidAt = *req.PaidAt
	}
	payment, tour, err := pc.payments.RecordPayment(c.UserContext(), tourID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":           "Payment recorded",
		"payment":           payment,
		"payment_status":    tour.PaymentStatus,
		"total_amount_paid": tour.TotalAmountPaid,
	})
}

func (pc *PaymentController) ListPayments(c *fiber.Ctx) error {
	tourID, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	payments, err := pc.payments.ListPayments(c.UserContext(), tourID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (pc *PaymentController) DeletePayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badID(c)
	}
	tour, err := pc.payments.DeletePayment(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":           "Payment deleted",
		"tour_id":           tour.ID,
		"payment_status":    tour.PaymentStatus,
		"total_amount_paid": tour.TotalAmountPaid,
	})
}
