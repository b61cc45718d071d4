package utils

import (
	"errors"
	"testing"
)

type mergeBody struct {
	TourIDs []uint `json:"tour_ids" validate:"required,min=2,dive,gt=0"`
	From    string `json:"from" validate:"omitempty,isodate"`
	Role    string `json:"role" validate:"omitempty,oneof=owner admin"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name   string
		body   mergeBody
		fields []string
	}{
		{name: "valid", body: mergeBody{TourIDs: []uint{1, 2}, From: "2026-06-12"}},
		{name: "too few ids", body: mergeBody{TourIDs: []uint{1}}, fields: []string{"tour_ids"}},
		{name: "missing ids", body: mergeBody{}, fields: []string{"tour_ids"}},
		{name: "bad date and role", body: mergeBody{TourIDs: []uint{1, 2}, From: "12/06/2026", Role: "guest"}, fields: []string{"from", "role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.body)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected *ValidationErrors, got %v", err)
			}
			for _, f := range tt.fields {
				if _, ok := verrs.Fields[f]; !ok {
					t.Fatalf("expected failure on %q, got %v", f, verrs.Fields)
				}
			}
		})
	}
}
