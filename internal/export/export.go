package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"pavilion/internal/calendar"
	"pavilion/internal/domain"
	"pavilion/internal/models"
)

const (
	cellFree     = "Free"
	iconPaid     = "✅"
	iconHalfPaid = "⏳"
)

// Exporter renders the occupancy grid of all resources over a date range into
// an XLSX file for the club office. Rows are resources, columns are days.
type Exporter struct {
	repo   domain.Repository
	cal    *calendar.Calendar
	path   string
	logger zerolog.Logger
}

func New(repo domain.Repository, cal *calendar.Calendar, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		repo:   repo,
		cal:    cal,
		path:   path,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// ExportSchedule writes the grid for [startDate, endDate] and returns the
// file path.
func (e *Exporter) ExportSchedule(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if endDate.Before(startDate) {
		return "", fmt.Errorf("invalid date range: %s after %s", e.cal.DayKey(startDate), e.cal.DayKey(endDate))
	}

	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	resources, err := e.repo.ListResources(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting resources: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Schedule"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s",
		e.cal.DayKey(startDate), e.cal.DayKey(endDate)))

	days := e.cal.DaysInclusive(startDate, endDate)
	dateCols := e.writeDateHeaders(f, sheetName, days)
	e.writeResourceHeaders(f, sheetName, resources)

	for row, res := range resources {
		if err := e.writeResourceRow(ctx, f, sheetName, res, days, dateCols, row+3); err != nil {
			e.logger.Error().Err(err).Int64("resource_id", res.ID).Msg("failed to render resource row")
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	for i := 'B'; i <= 'Z'; i++ {
		_ = f.SetColWidth(sheetName, string(i), string(i), 20)
	}

	lastCol, _ := excelize.ColumnNumberToName(len(days) + 1)
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")

	style, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", style)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("schedule_%s_to_%s.xlsx",
		e.cal.DayKey(startDate), e.cal.DayKey(endDate))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("schedule export created")
	return filePath, nil
}

func (e *Exporter) writeDateHeaders(f *excelize.File, sheetName string, days []time.Time) map[string]int {
	dateCols := make(map[string]int)
	col := 2

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for _, day := range days {
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(sheetName, cell, day.Format("02.01"))
		_ = f.SetCellStyle(sheetName, cell, cell, style)
		dateCols[e.cal.DayKey(day)] = col
		col++
	}
	return dateCols
}

func (e *Exporter) writeResourceHeaders(f *excelize.File, sheetName string, resources []*models.Resource) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	row := 3
	for _, res := range resources {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, cell, fmt.Sprintf("%s (%s)", res.Name, res.Type))
		_ = f.SetCellStyle(sheetName, cell, cell, style)
		row++
	}
}

func (e *Exporter) writeResourceRow(
	ctx context.Context, f *excelize.File, sheetName string,
	res *models.Resource, days []time.Time, dateCols map[string]int, row int,
) error {
	fromKey := e.cal.DayKey(days[0])
	toKey := e.cal.DayKey(days[len(days)-1])

	bookings, err := e.repo.GetBookingsForResource(ctx, res.ID, fromKey, toKey)
	if err != nil {
		return fmt.Errorf("failed to get bookings: %w", err)
	}
	reservations, err := e.repo.GetReservationsForResource(ctx, res.ID, fromKey, toKey)
	if err != nil {
		return fmt.Errorf("failed to get reservations: %w", err)
	}

	for _, day := range days {
		col, ok := dateCols[e.cal.DayKey(day)]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col, row)

		value, fill := e.renderCell(res, day, bookings, reservations)
		_ = f.SetCellValue(sheetName, cell, value)

		styleID, err := e.cellStyle(f, fill)
		if err == nil {
			_ = f.SetCellStyle(sheetName, cell, cell, styleID)
		}
	}
	return nil
}

// renderCell builds the text and fill color of one resource-day cell. Out of
// service windows outrank bookings, bookings outrank reservations.
func (e *Exporter) renderCell(
	res *models.Resource, day time.Time,
	bookings []*models.Booking, reservations []*models.Reservation,
) (string, string) {
	if e.outOfServiceOn(res, day) {
		value := "Out of service"
		if res.OutReason != "" {
			value += "\n" + res.OutReason
		}
		return value, "#D9D9D9"
	}

	var value string
	var hasPending bool
	for _, b := range bookings {
		if !e.bookingCovers(b, day) {
			continue
		}
		icon := iconPaid
		if b.PaymentStatus == models.PaymentHalfPaid {
			icon = iconHalfPaid
			hasPending = true
		}
		value += fmt.Sprintf("%s %s%s\n", icon, b.MemberName, e.bookingDetail(b))
	}

	if value != "" {
		if hasPending {
			return value, "#FFEB9C"
		}
		return value, "#FFC7CE"
	}

	for _, r := range reservations {
		if r.Covers(day) {
			value = "Reserved"
			if r.Note != "" {
				value += " (" + r.Note + ")"
			}
			return value, "#FFEB9C"
		}
	}

	return cellFree, ""
}

func (e *Exporter) bookingCovers(b *models.Booking, day time.Time) bool {
	switch b.ResourceType {
	case models.ResourceRoom:
		if b.CheckIn == nil || b.CheckOut == nil {
			return false
		}
		key := e.cal.DayKey(day)
		return e.cal.DayKey(*b.CheckIn) <= key && key < e.cal.DayKey(*b.CheckOut)
	default:
		return b.Date != nil && e.cal.DayKey(*b.Date) == e.cal.DayKey(day)
	}
}

func (e *Exporter) bookingDetail(b *models.Booking) string {
	switch b.ResourceType {
	case models.ResourceHall, models.ResourceLawn:
		return fmt.Sprintf(" [%s]", b.Slot)
	case models.ResourcePhotoshoot:
		return fmt.Sprintf(" [%02d:00-%02d:00]", b.StartHour, b.StartHour+2)
	default:
		return ""
	}
}

func (e *Exporter) outOfServiceOn(res *models.Resource, day time.Time) bool {
	if res.OutFrom != nil && res.OutTo != nil {
		key := e.cal.DayKey(day)
		return e.cal.DayKey(*res.OutFrom) <= key && key <= e.cal.DayKey(*res.OutTo)
	}
	return res.IsOutOfService && e.cal.DayKey(day) == e.cal.DayKey(e.cal.Today())
}

func (e *Exporter) cellStyle(f *excelize.File, fill string) (int, error) {
	style := &excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
			WrapText:   true,
		},
	}
	if fill == "" {
		fill = "#FFFFFF"
	}
	style.Fill = excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1}
	return f.NewStyle(style)
}
