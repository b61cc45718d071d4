package seeders

import (
	"testing"

	"tourdesk_go/database/dbtest"
	"tourdesk_go/models"
)

func TestSeedGuidesOnlyOnce(t *testing.T) {
	db := dbtest.Open(t)

	if n := SeedGuides(db); n != 4 {
		t.Fatalf("first seed = %d, want 4", n)
	}
	if n := SeedGuides(db); n != 0 {
		t.Fatalf("second seed = %d, want 0", n)
	}
	var active int64
	db.Model(&models.Guide{}).Where("active = ?", true).Count(&active)
	if active != 4 {
		t.Fatalf("active guides = %d", active)
	}
}
