package repository

import (
	"context"
	"sync/atomic"
	"time"

	"closer/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const recoveryInterval = time.Minute

// FailoverChainCache uses primary until it fails, then serves from fallback
// and retries primary once per recoveryInterval.
type FailoverChainCache struct {
	primary   Store
	fallback  Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverChainCache(primary, fallback Store, logger *zerolog.Logger) *FailoverChainCache {
	return &FailoverChainCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// do runs op against primary while it is healthy or due for a recovery
// attempt, and against fallback otherwise.
func (r *FailoverChainCache) do(op string, fn func(Store) error) error {
	if !r.isDown.Load() || time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval {
		err := fn(r.primary)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Str("op", op).Msg("Primary chain cache recovered")
			}
			return nil
		}
		if !r.isDown.Swap(true) {
			r.logger.Error().Err(err).Str("op", op).Msg("Primary chain cache failed, falling back to memory")
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}
	return fn(r.fallback)
}

func (r *FailoverChainCache) GetBookings(ctx context.Context, account string, year uint16) (records []models.ChainBookingRecord, ok bool, err error) {
	err = r.do("get_bookings", func(s Store) error {
		var e error
		records, ok, e = s.GetBookings(ctx, account, year)
		return e
	})
	return records, ok, err
}

func (r *FailoverChainCache) SetBookings(ctx context.Context, account string, year uint16, records []models.ChainBookingRecord) error {
	return r.do("set_bookings", func(s Store) error {
		return s.SetBookings(ctx, account, year, records)
	})
}

func (r *FailoverChainCache) GetAmount(ctx context.Context, account, name string) (value decimal.Decimal, ok bool, err error) {
	err = r.do("get_amount", func(s Store) error {
		var e error
		value, ok, e = s.GetAmount(ctx, account, name)
		return e
	})
	return value, ok, err
}

func (r *FailoverChainCache) SetAmount(ctx context.Context, account, name string, value decimal.Decimal) error {
	return r.do("set_amount", func(s Store) error {
		return s.SetAmount(ctx, account, name, value)
	})
}

// InvalidateAccount clears both backends so a recovered primary does not
// serve reads cached before the failover.
func (r *FailoverChainCache) InvalidateAccount(ctx context.Context, account string) error {
	if err := r.fallback.InvalidateAccount(ctx, account); err != nil {
		return err
	}
	return r.do("invalidate", func(s Store) error {
		return s.InvalidateAccount(ctx, account)
	})
}

func (r *FailoverChainCache) GetBlob(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = r.do("get_blob", func(s Store) error {
		var e error
		value, ok, e = s.GetBlob(ctx, key)
		return e
	})
	return value, ok, err
}

func (r *FailoverChainCache) SetBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.do("set_blob", func(s Store) error {
		return s.SetBlob(ctx, key, value, ttl)
	})
}

func (r *FailoverChainCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, err error) {
	err = r.do("rate_limit", func(s Store) error {
		var e error
		allowed, e = s.CheckRateLimit(ctx, key, limit, window)
		return e
	})
	return allowed, err
}
