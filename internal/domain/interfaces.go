package domain

import (
	"context"
	"time"

	"closer/internal/chain"
	"closer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// BookingContracts is the booking side of the contract bindings.
type BookingContracts interface {
	Addresses() chain.Addresses
	Signer() (common.Address, bool)
	GetAccommodationBookings(ctx context.Context, account common.Address, year uint16) ([]models.ChainBookingRecord, error)
	StakedBalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error)
	UnlockedStake(ctx context.Context, account common.Address) (decimal.Decimal, error)
	BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error)
	Approve(ctx context.Context, token, spender common.Address, amount decimal.Decimal) (common.Hash, error)
	BookAccommodation(ctx context.Context, nights []models.BookingNight) (common.Hash, error)
}

// SaleContracts is the token sale side of the contract bindings.
type SaleContracts interface {
	Addresses() chain.Addresses
	Signer() (common.Address, bool)
	BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error)
	CalculateTotalCost(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
	SaleHardCap(ctx context.Context) (decimal.Decimal, error)
	Approve(ctx context.Context, token, spender common.Address, amount decimal.Decimal) (common.Hash, error)
	Buy(ctx context.Context, amount decimal.Decimal) (common.Hash, error)
}

// ReceiptSource looks up transaction receipts.
type ReceiptSource interface {
	WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

// ChainCache caches contract reads per account.
type ChainCache interface {
	GetBookings(ctx context.Context, account string, year uint16) ([]models.ChainBookingRecord, bool, error)
	SetBookings(ctx context.Context, account string, year uint16, records []models.ChainBookingRecord) error
	GetAmount(ctx context.Context, account, name string) (decimal.Decimal, bool, error)
	SetAmount(ctx context.Context, account, name string, value decimal.Decimal) error
	InvalidateAccount(ctx context.Context, account string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobCache stores opaque values such as platform config documents.
type BlobCache interface {
	GetBlob(ctx context.Context, key string) ([]byte, bool, error)
	SetBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TxStore persists pending transactions.
type TxStore interface {
	CreatePendingTransaction(ctx context.Context, tx *models.PendingTransaction) error
	GetPendingTransactions(ctx context.Context, limit int) ([]models.PendingTransaction, error)
	GetPendingTransactionByHash(ctx context.Context, hash string) (*models.PendingTransaction, error)
	UpdatePendingTransactionStatus(ctx context.Context, hash, status, errMsg string, block *uint64, nextPollAt *time.Time) error
	CountPendingTransactions(ctx context.Context) (int, error)
}

// TxTracker records submitted transactions until their receipt resolves.
type TxTracker interface {
	Track(ctx context.Context, hash common.Hash, kind, account string) error
	Resolve(ctx context.Context, hash common.Hash, receipt *gethtypes.Receipt, waitErr error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ReferralSubmitter forwards referral attributions to the platform API.
type ReferralSubmitter interface {
	SubmitReferral(ctx context.Context, attribution models.ReferralAttribution) error
}
