package repository

import (
	"context"
	"testing"
	"time"

	"closer/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChainCache(t *testing.T) {
	repo := NewMemoryChainCache(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("Bookings", func(t *testing.T) {
		records := []models.ChainBookingRecord{{Year: 2025, DayOfYear: 1, Price: decimal.NewFromInt(10)}}
		require.NoError(t, repo.SetBookings(ctx, testAccount, 2025, records))

		records[0].DayOfYear = 99 // caller mutations do not leak into the cache
		got, ok, err := repo.GetBookings(ctx, testAccount, 2025)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint16(1), got[0].DayOfYear)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, repo.SetAmount(ctx, testAccount, "balance", decimal.NewFromInt(5)))
		now = now.Add(2 * time.Minute)
		_, ok, err := repo.GetAmount(ctx, testAccount, "balance")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvalidateAccount", func(t *testing.T) {
		require.NoError(t, repo.SetAmount(ctx, testAccount, "balance", decimal.NewFromInt(5)))
		require.NoError(t, repo.SetBlob(ctx, "config:x", []byte("1"), 0))
		require.NoError(t, repo.InvalidateAccount(ctx, testAccount))

		_, ok, _ := repo.GetAmount(ctx, testAccount, "balance")
		assert.False(t, ok)
		_, ok, _ = repo.GetBlob(ctx, "config:x")
		assert.True(t, ok)
	})

	t.Run("RateLimit", func(t *testing.T) {
		allowed, _ := repo.CheckRateLimit(ctx, "k", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "k", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "k", 2, time.Second)
		assert.False(t, allowed)

		now = now.Add(2 * time.Second)
		allowed, _ = repo.CheckRateLimit(ctx, "k", 2, time.Second)
		assert.True(t, allowed)
	})
}
