package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBookingNight(t *testing.T) {
	t.Run("FromDate", func(t *testing.T) {
		n := NightFromDate(time.Date(2025, 11, 26, 15, 0, 0, 0, time.UTC))
		assert.Equal(t, BookingNight{Year: 2025, Day: 330}, n)
		assert.Equal(t, time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC), n.Date())
	})

	t.Run("Valid", func(t *testing.T) {
		assert.True(t, BookingNight{Year: 2024, Day: 366}.Valid())
		assert.False(t, BookingNight{Year: 2025, Day: 366}.Valid())
		assert.False(t, BookingNight{Year: 2025, Day: 0}.Valid())
		assert.False(t, BookingNight{}.Valid())
	})

	t.Run("TuplesAndYears", func(t *testing.T) {
		nights := []BookingNight{{2025, 365}, {2026, 1}, {2026, 2}}
		assert.Equal(t, [][2]uint16{{2025, 365}, {2026, 1}, {2026, 2}}, Tuples(nights))
		assert.Equal(t, []uint16{2025, 2026}, Years(nights))
		assert.Nil(t, Years(nil))
	})
}

func TestStakeByYear(t *testing.T) {
	records := []ChainBookingRecord{
		{Year: 2024, DayOfYear: 10, Price: decimal.NewFromInt(30)},
		{Year: 2024, DayOfYear: 11, Price: decimal.NewFromInt(20)},
		{Year: 2025, DayOfYear: 5, Price: decimal.NewFromInt(20)},
	}

	stakes := FoldStakeByYear(records)
	assert.True(t, stakes.For(2024).Equal(decimal.NewFromInt(50)))
	assert.True(t, stakes.For(2025).Equal(decimal.NewFromInt(20)))
	assert.True(t, stakes.For(2030).IsZero())
	assert.True(t, stakes.Max().Equal(decimal.NewFromInt(50)))
	assert.True(t, StakeByYear{}.Max().IsZero())
}

func TestChainBookingStatus(t *testing.T) {
	assert.Equal(t, StatusConfirmed, ChainStatusConfirmed.String())
	assert.Equal(t, "unknown(9)", ChainBookingStatus(9).String())
}

func TestTxResult(t *testing.T) {
	failed := TxFailed(errors.New("user rejected"))
	assert.False(t, failed.OK())
	assert.Nil(t, failed.Success)
	assert.Equal(t, "user rejected", failed.Error)

	ok := TxSucceeded("0xabc")
	assert.True(t, ok.OK())
	assert.Equal(t, "0xabc", ok.TxHash)
}
