package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strings"
)

// PaymentStatus is derived from the payment ledger, never set by hand.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentOverpaid PaymentStatus = "overpaid"
)

// ExternalSource says where a tour row originated.
type ExternalSource string

const (
	SourceChannel ExternalSource = "channel"
	SourceManual  ExternalSource = "manual"
)

// SyncTrigger says what started a sync run.
type SyncTrigger string

const (
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerManual    SyncTrigger = "manual"
	TriggerWebhook   SyncTrigger = "webhook"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncSucceeded SyncStatus = "succeeded"
	SyncPartial   SyncStatus = "partial"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

// InvalidEnumError reports a value outside a closed set.
type InvalidEnumError struct {
	Enum  string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Enum, e.Value)
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPartial, PaymentPaid, PaymentOverpaid:
		return true
	}
	return false
}

func (s ExternalSource) Valid() bool {
	return s == SourceChannel || s == SourceManual
}

func (t SyncTrigger) Valid() bool {
	switch t {
	case TriggerScheduled, TriggerManual, TriggerWebhook:
		return true
	}
	return false
}

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncRunning, SyncSucceeded, SyncPartial, SyncFailed, SyncCancelled:
		return true
	}
	return false
}

// Terminal reports whether the run has finished.
func (s SyncStatus) Terminal() bool {
	return s.Valid() && s != SyncRunning
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &InvalidEnumError{Enum: "payment status", Value: raw}
	}
	return s, nil
}

func ParseExternalSource(raw string) (ExternalSource, error) {
	s := ExternalSource(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &InvalidEnumError{Enum: "external source", Value: raw}
	}
	return s, nil
}

func ParseSyncTrigger(raw string) (SyncTrigger, error) {
	t := SyncTrigger(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", &InvalidEnumError{Enum: "sync trigger", Value: raw}
	}
	return t, nil
}

func ParseSyncStatus(raw string) (SyncStatus, error) {
	s := SyncStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &InvalidEnumError{Enum: "sync status", Value: raw}
	}
	return s, nil
}

// Value and Scan refuse anything outside the closed set so a bad value can
// neither be written nor silently read back.

func (s PaymentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, &InvalidEnumError{Enum: "payment status", Value: string(s)}
	}
	return string(s), nil
}

func (s *PaymentStatus) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParsePaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s ExternalSource) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, &InvalidEnumError{Enum: "external source", Value: string(s)}
	}
	return string(s), nil
}

func (s *ExternalSource) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseExternalSource(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (t SyncTrigger) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, &InvalidEnumError{Enum: "sync trigger", Value: string(t)}
	}
	return string(t), nil
}

func (t *SyncTrigger) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseSyncTrigger(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (s SyncStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, &InvalidEnumError{Enum: "sync status", Value: string(s)}
	}
	return string(s), nil
}

func (s *SyncStatus) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseSyncStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func scanString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected NULL enum value")
	default:
		return "", fmt.Errorf("unsupported enum column type %T", value)
	}
}

// DerivePaymentStatus maps ledger totals onto a payment status. Amounts are
// compared in cents. A tour with no known price counts as paid once anything
// has been received.
func DerivePaymentStatus(totalPaid, expected float64) PaymentStatus {
	paid := toCents(totalPaid)
	want := toCents(expected)
	switch {
	case paid <= 0:
		return PaymentUnpaid
	case want <= 0:
		return PaymentPaid
	case paid < want:
		return PaymentPartial
	case paid == want:
		return PaymentPaid
	default:
		return PaymentOverpaid
	}
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}
