package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"closer/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetBookings = "Bookings"
	SheetStake    = "Stake by year"
)

// StakeLedger builds a workbook listing an account's on-chain bookings and
// the stake committed per year. The caller closes the file.
func StakeLedger(account string, records []models.ChainBookingRecord, stakeByYear models.StakeByYear) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetBookings)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(SheetStake); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	writeBookings(f, headerStyle, account, records)
	writeStake(f, headerStyle, stakeByYear)

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeBookings(f *excelize.File, headerStyle int, account string, records []models.ChainBookingRecord) {
	_ = f.SetCellValue(SheetBookings, "A1", "Account: "+account)
	_ = f.MergeCell(SheetBookings, "A1", "F1")

	headers := []string{"Year", "Day", "Date", "Status", "Price", "Booked at"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(SheetBookings, cell, header)
		_ = f.SetCellStyle(SheetBookings, cell, cell, headerStyle)
	}

	sorted := append([]models.ChainBookingRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Year != sorted[j].Year {
			return sorted[i].Year < sorted[j].Year
		}
		return sorted[i].DayOfYear < sorted[j].DayOfYear
	})

	for i, r := range sorted {
		row := i + 3
		_ = f.SetCellValue(SheetBookings, fmt.Sprintf("A%d", row), int(r.Year))
		_ = f.SetCellValue(SheetBookings, fmt.Sprintf("B%d", row), int(r.DayOfYear))
		_ = f.SetCellValue(SheetBookings, fmt.Sprintf("C%d", row), r.Night().Date().Format("2006-01-02"))
		_ = f.SetCellValue(SheetBookings, fmt.Sprintf("D%d", row), r.Status.String())
		_ = f.SetCellValue(SheetBookings, fmt.Sprintf("E%d", row), r.Price.String())
		if !r.Timestamp.IsZero() {
			_ = f.SetCellValue(SheetBookings, fmt.Sprintf("F%d", row), r.Timestamp.UTC().Format("2006-01-02 15:04"))
		}
	}

	_ = f.SetColWidth(SheetBookings, "A", "B", 8)
	_ = f.SetColWidth(SheetBookings, "C", "D", 14)
	_ = f.SetColWidth(SheetBookings, "E", "F", 20)
}

func writeStake(f *excelize.File, headerStyle int, stakeByYear models.StakeByYear) {
	_ = f.SetCellValue(SheetStake, "A1", "Year")
	_ = f.SetCellValue(SheetStake, "B1", "Stake")
	_ = f.SetCellStyle(SheetStake, "A1", "B1", headerStyle)

	years := make([]uint16, 0, len(stakeByYear))
	for y := range stakeByYear {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })

	for i, y := range years {
		row := i + 2
		_ = f.SetCellValue(SheetStake, fmt.Sprintf("A%d", row), int(y))
		_ = f.SetCellValue(SheetStake, fmt.Sprintf("B%d", row), stakeByYear[y].String())
	}

	last := len(years) + 2
	_ = f.SetCellValue(SheetStake, fmt.Sprintf("A%d", last), "Max")
	_ = f.SetCellValue(SheetStake, fmt.Sprintf("B%d", last), stakeByYear.Max().String())
	_ = f.SetColWidth(SheetStake, "A", "B", 20)
}

// FileName returns the download name for an account's ledger.
func FileName(account string, at time.Time) string {
	return fmt.Sprintf("stake_%s_%s.xlsx", strings.ToLower(account), at.UTC().Format("2006-01-02_15-04-05"))
}

// Archive saves a copy of the workbook under dir and returns its path.
func Archive(f *excelize.File, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
