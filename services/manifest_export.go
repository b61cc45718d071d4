package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"tourdesk_go/models"
	"tourdesk_go/utils"
)

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

const (
	manifestGroupsSheet = "Groups"
	manifestToursSheet  = "Tours"
)

// ManifestSummary describes what a manifest contains.
type ManifestSummary struct {
	Date       string `json:"date"`
	FileName   string `json:"file_name"`
	Groups     int    `json:"groups"`
	Tours      int    `json:"tours"`
	TotalPax   int    `json:"total_pax"`
	Unassigned int    `json:"unassigned"`
}

// ManifestService builds the daily dispatch workbook.
type ManifestService struct {
	db *gorm.DB
}

func NewManifestService(db *gorm.DB) *ManifestService {
	return &ManifestService{db: db}
}

// BuildManifest renders live tours on date into an XLSX workbook with one
// sheet of groups and one of tours.
func (s *ManifestService) BuildManifest(ctx context.Context, date string) (*bytes.Buffer, ManifestSummary, error) {
	sum := ManifestSummary{Date: date, FileName: fmt.Sprintf("manifest_%s.xlsx", date)}
	if _, err := time.Parse(utils.DateLayout, date); err != nil {
		return nil, sum, ErrInvalidDate
	}

	var groups []models.TourGroup
	if err := s.db.WithContext(ctx).Preload("Guide").
		Preload("Tours", "cancelled = ?", false).
		Where("tour_date = ?", date).
		Order("tour_time").Order("id").
		Find(&groups).Error; err != nil {
		return nil, sum, fmt.Errorf("load groups: %w", err)
	}
	var tours []models.Tour
	if err := s.db.WithContext(ctx).Preload("Guide").Preload("Group").
		Where("tour_date = ? AND cancelled = ?", date, false).
		Order("tour_time").Order("group_id").Order("id").
		Find(&tours).Error; err != nil {
		return nil, sum, fmt.Errorf("load tours: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", manifestGroupsSheet); err != nil {
		return nil, sum, err
	}
	if _, err := f.NewSheet(manifestToursSheet); err != nil {
		return nil, sum, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DCE6F1"}, Pattern: 1},
	})
	if err != nil {
		return nil, sum, err
	}

	groupRows := [][]interface{}{{"Group", "Time", "Title", "Guide", "Pax", "Max", "Tours", "Manual merge", "Notes"}}
	for _, g := range groups {
		groupRows = append(groupRows, []interface{}{
			g.Name, g.TourTime, g.Title, guideName(g.Guide), g.TotalPax, g.MaxPax, len(g.Tours), yesNo(g.IsManualMerge), g.Notes,
		})
	}
	tourRows := [][]interface{}{{"Time", "Title", "Confirmation", "Customer", "Phone", "Language", "Pax",
		"Adults", "Children", "Infants", "Group", "Guide", "Payment", "Paid", "Expected", "Requests"}}
	for _, t := range tours {
		groupName := ""
		if t.Group != nil {
			groupName = t.Group.Name
		}
		lang := ""
		if t.Language != nil {
			lang = *t.Language
		}
		tourRows = append(tourRows, []interface{}{
			utils.ClockHHMM(t.TourTime), t.Title, t.ConfirmationCode, t.CustomerName, t.CustomerPhone, lang,
			t.Participants, t.AdultCount, t.ChildCount, t.InfantCount, groupName, guideName(t.Guide),
			string(t.PaymentStatus), t.TotalAmountPaid, t.ExpectedAmount, t.SpecialRequests,
		})
		sum.TotalPax += t.Participants
		if t.GuideID == nil {
			sum.Unassigned++
		}
	}

	if err := writeSheet(f, manifestGroupsSheet, groupRows, header); err != nil {
		return nil, sum, err
	}
	if err := writeSheet(f, manifestToursSheet, tourRows, header); err != nil {
		return nil, sum, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, sum, fmt.Errorf("render workbook: %w", err)
	}
	sum.Groups = len(groups)
	sum.Tours = len(tours)
	return buf, sum, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
		return err
	}
	return f.SetRowStyle(sheet, 1, 1, headerStyle)
}

func guideName(g *models.Guide) string {
	if g == nil {
		return ""
	}
	return strings.TrimSpace(g.Name)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
