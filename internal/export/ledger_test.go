package export

import (
	"path/filepath"
	"testing"
	"time"

	"closer/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestStakeLedger(t *testing.T) {
	records := []models.ChainBookingRecord{
		{Status: models.ChainStatusConfirmed, Year: 2025, DayOfYear: 33, Price: decimal.NewFromInt(10)},
		{Status: models.ChainStatusPending, Year: 2024, DayOfYear: 366, Price: decimal.NewFromInt(50), Timestamp: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	stake := models.FoldStakeByYear(records)

	f, err := StakeLedger("0xABC", records, stake)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetBookings, SheetStake}, f.GetSheetList())

	rows, err := f.GetRows(SheetBookings)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Account: 0xABC", rows[0][0])
	assert.Equal(t, []string{"Year", "Day", "Date", "Status", "Price", "Booked at"}, rows[1])
	assert.Equal(t, []string{"2024", "366", "2024-12-31", "pending", "50", "2024-06-01 10:00"}, rows[2])
	assert.Equal(t, []string{"2025", "33", "2025-02-02", "confirmed", "10"}, rows[3])

	stakeRows, err := f.GetRows(SheetStake)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Year", "Stake"},
		{"2024", "50"},
		{"2025", "10"},
		{"Max", "50"},
	}, stakeRows)
}

func TestStakeLedger_Empty(t *testing.T) {
	f, err := StakeLedger("0xabc", nil, models.StakeByYear{})
	require.NoError(t, err)
	defer f.Close()

	stakeRows, err := f.GetRows(SheetStake)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Year", "Stake"}, {"Max", "0"}}, stakeRows)
}

func TestArchive(t *testing.T) {
	f, err := StakeLedger("0xabc", nil, nil)
	require.NoError(t, err)
	defer f.Close()

	name := FileName("0xABC", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "stake_0xabc_2025-01-02_03-04-05.xlsx", name)

	path, err := Archive(f, filepath.Join(t.TempDir(), "exports"), name)
	require.NoError(t, err)

	reopened, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Contains(t, reopened.GetSheetList(), SheetBookings)
}
