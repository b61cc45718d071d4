package booking

import "fmt"

// NormalizationError reports a booking whose required fields are missing or
// unparseable. The booking is skipped; the run continues.
type NormalizationError struct {
	ExternalID string
	Field      string
	Reason     string
}

func (e *NormalizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("booking %s: invalid %s: %s", e.ExternalID, e.Field, e.Reason)
	}
	return fmt.Sprintf("booking %s: missing %s", e.ExternalID, e.Field)
}

// ConflictError reports a booking that matches local rows ambiguously.
type ConflictError struct {
	ExternalID       string
	ConfirmationCode string
	Reason           string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking %s (confirmation %s): reconciliation conflict: %s", e.ExternalID, e.ConfirmationCode, e.Reason)
}
