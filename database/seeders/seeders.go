package seeders

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tourdesk_go/models"
)

// SeedAll runs all seeders
func SeedAll(db *gorm.DB) {
	logrus.Info("Starting database seeding...")

	SeedGuides(db)

	logrus.Info("Database seeding completed successfully!")
}

// SeedGuides adds a starter guide roster to an empty guides table. Tours
// and groups come from the booking channel and are never seeded.
func SeedGuides(db *gorm.DB) int {
	var count int64
	db.Model(&models.Guide{}).Count(&count)
	if count > 0 {
		logrus.Info("Guides already seeded, skipping...")
		return 0
	}

	guides := []models.Guide{
		{Name: "Lucia Fernandez", Email: "lucia@tourdesk.local", Phone: "+34 600 100 001", Languages: "Spanish,English", Active: true},
		{Name: "Marco Rossi", Email: "marco@tourdesk.local", Phone: "+34 600 100 002", Languages: "Italian,English,Spanish", Active: true},
		{Name: "Sophie Martin", Email: "sophie@tourdesk.local", Phone: "+34 600 100 003", Languages: "French,English", Active: true},
		{Name: "Hannah Weber", Email: "hannah@tourdesk.local", Phone: "+34 600 100 004", Languages: "German,English", Active: true},
	}

	seeded := 0
	for i := range guides {
		if err := db.Create(&guides[i]).Error; err != nil {
			logrus.WithError(err).WithField("email", guides[i].Email).Error("Error seeding guide")
			continue
		}
		seeded++
	}

	logrus.WithField("count", seeded).Info("Guides seeded successfully")
	return seeded
}
