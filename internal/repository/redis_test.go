package repository

import (
	"context"
	"testing"
	"time"

	"closer/internal/config"
	"closer/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x00000000000000000000000000000000000000A1"

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisChainCache(t *testing.T) {
	s, client := newMiniredis(t)
	repo := NewRedisChainCache(client, time.Minute)
	ctx := context.Background()

	records := []models.ChainBookingRecord{
		{Status: models.ChainStatusConfirmed, Year: 2025, DayOfYear: 330, Price: decimal.RequireFromString("12.5"), Timestamp: time.Unix(1_700_000_000, 0).UTC()},
	}

	t.Run("SetAndGetBookings", func(t *testing.T) {
		require.NoError(t, repo.SetBookings(ctx, testAccount, 2025, records))

		got, ok, err := repo.GetBookings(ctx, testAccount, 2025)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Equal(t, records[0].Night(), got[0].Night())
		assert.True(t, got[0].Price.Equal(records[0].Price))
		assert.True(t, got[0].Timestamp.Equal(records[0].Timestamp))
	})

	t.Run("EmptyBookingsAreCached", func(t *testing.T) {
		require.NoError(t, repo.SetBookings(ctx, testAccount, 2026, nil))

		got, ok, err := repo.GetBookings(ctx, testAccount, 2026)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("Miss", func(t *testing.T) {
		got, ok, err := repo.GetBookings(ctx, testAccount, 1999)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("Amounts", func(t *testing.T) {
		require.NoError(t, repo.SetAmount(ctx, testAccount, "balance", decimal.RequireFromString("7.25")))
		v, ok, err := repo.GetAmount(ctx, testAccount, "balance")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "7.25", v.String())
	})

	t.Run("InvalidateAccountIsCaseInsensitive", func(t *testing.T) {
		require.NoError(t, repo.SetAmount(ctx, "0xother", "balance", decimal.NewFromInt(1)))
		require.NoError(t, repo.InvalidateAccount(ctx, "0x00000000000000000000000000000000000000a1"))

		_, ok, _ := repo.GetBookings(ctx, testAccount, 2025)
		assert.False(t, ok)
		_, ok, _ = repo.GetAmount(ctx, testAccount, "balance")
		assert.False(t, ok)
		_, ok, _ = repo.GetAmount(ctx, "0xother", "balance")
		assert.True(t, ok)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, repo.SetAmount(ctx, testAccount, "staked", decimal.NewFromInt(3)))
		s.FastForward(2 * time.Minute)
		_, ok, err := repo.GetAmount(ctx, testAccount, "staked")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Blobs", func(t *testing.T) {
		require.NoError(t, repo.SetBlob(ctx, "config:booking", []byte(`{"enabled":true}`), time.Second))
		v, ok, err := repo.GetBlob(ctx, "config:booking")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"enabled":true}`, string(v))
	})

	t.Run("RateLimit", func(t *testing.T) {
		allowed, err := repo.CheckRateLimit(ctx, "tx:"+testAccount, 2, time.Second)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, _ = repo.CheckRateLimit(ctx, "tx:"+testAccount, 2, time.Second)
		assert.True(t, allowed)

		allowed, _ = repo.CheckRateLimit(ctx, "tx:"+testAccount, 2, time.Second)
		assert.False(t, allowed)

		s.FastForward(2 * time.Second)
		allowed, _ = repo.CheckRateLimit(ctx, "tx:"+testAccount, 2, time.Second)
		assert.True(t, allowed)
	})
}

func TestRedisChainCacheUnavailable(t *testing.T) {
	s, client := newMiniredis(t)
	repo := NewRedisChainCache(client, time.Minute)
	s.Close()

	_, _, err := repo.GetBookings(context.Background(), testAccount, 2025)
	assert.Error(t, err)

	nilRepo := NewRedisChainCache(nil, time.Minute)
	assert.Error(t, nilRepo.InvalidateAccount(context.Background(), testAccount))
}

func TestPingAndClose(t *testing.T) {
	_, client := newMiniredis(t)
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(nil))
}
