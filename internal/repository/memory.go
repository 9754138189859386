package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"closer/internal/models"

	"github.com/shopspring/decimal"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryChainCache is the in-process fallback of RedisChainCache.
type MemoryChainCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	rateLimits map[string]*rateLimitEntry
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryChainCache(ttl time.Duration) *MemoryChainCache {
	return &MemoryChainCache{
		entries:    make(map[string]memoryEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemoryChainCache) GetBookings(ctx context.Context, account string, year uint16) ([]models.ChainBookingRecord, bool, error) {
	v, ok := r.load(bookingsKey(account, year))
	if !ok {
		return nil, false, nil
	}
	records := v.([]models.ChainBookingRecord)
	return append(make([]models.ChainBookingRecord, 0, len(records)), records...), true, nil
}

func (r *MemoryChainCache) SetBookings(ctx context.Context, account string, year uint16, records []models.ChainBookingRecord) error {
	r.store(bookingsKey(account, year), append([]models.ChainBookingRecord{}, records...), r.ttl)
	return nil
}

func (r *MemoryChainCache) GetAmount(ctx context.Context, account, name string) (decimal.Decimal, bool, error) {
	v, ok := r.load(amountKey(account, name))
	if !ok {
		return decimal.Zero, false, nil
	}
	return v.(decimal.Decimal), true, nil
}

func (r *MemoryChainCache) SetAmount(ctx context.Context, account, name string, value decimal.Decimal) error {
	r.store(amountKey(account, name), value, r.ttl)
	return nil
}

func (r *MemoryChainCache) InvalidateAccount(ctx context.Context, account string) error {
	prefix := accountPrefix(account)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if strings.HasPrefix(k, prefix) {
			delete(r.entries, k)
		}
	}
	return nil
}

func (r *MemoryChainCache) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := r.load(blobKey(key))
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v.([]byte)...), true, nil
}

func (r *MemoryChainCache) SetBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.store(blobKey(key), append([]byte(nil), value...), ttl)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryChainCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}

func (r *MemoryChainCache) load(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(r.now()) {
		delete(r.entries, key)
		return nil, false
	}
	return e.value, true
}

func (r *MemoryChainCache) store(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = r.now().Add(ttl)
	}
	r.mu.Lock()
	r.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	r.mu.Unlock()
}
