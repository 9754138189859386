package service

import (
	"context"
	"io"
	"time"

	"closer/internal/chain"
	"closer/internal/models"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

const testChainID = int64(44787)

var (
	testAccount   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testAddresses = chain.Addresses{
		DAOToken:     common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Diamond:      common.HexToAddress("0x0000000000000000000000000000000000000002"),
		DynamicSale:  common.HexToAddress("0x0000000000000000000000000000000000000003"),
		PaymentToken: common.HexToAddress("0x0000000000000000000000000000000000000004"),
	}
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func linkedSession() session.Session {
	return session.Session{
		Wallet: session.Wallet{Connected: true, ChainID: testChainID, Account: testAccount.Hex()},
		User:   session.User{ID: "user-1", SavedAddress: testAccount.Hex()},
	}
}

type mockContracts struct {
	mock.Mock
}

func (m *mockContracts) Addresses() chain.Addresses { return testAddresses }

func (m *mockContracts) Signer() (common.Address, bool) { return testAccount, true }

func (m *mockContracts) GetAccommodationBookings(ctx context.Context, account common.Address, year uint16) ([]models.ChainBookingRecord, error) {
	args := m.Called(ctx, account, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChainBookingRecord), args.Error(1)
}

func (m *mockContracts) StakedBalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) UnlockedStake(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, token, owner, spender)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) Approve(ctx context.Context, token, spender common.Address, amount decimal.Decimal) (common.Hash, error) {
	args := m.Called(ctx, token, spender, amount)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *mockContracts) BookAccommodation(ctx context.Context, nights []models.BookingNight) (common.Hash, error) {
	args := m.Called(ctx, nights)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *mockContracts) CalculateTotalCost(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) SaleHardCap(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockContracts) Buy(ctx context.Context, amount decimal.Decimal) (common.Hash, error) {
	args := m.Called(ctx, amount)
	return args.Get(0).(common.Hash), args.Error(1)
}

type mockReceipts struct {
	mock.Mock
}

func (m *mockReceipts) WaitForTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gethtypes.Receipt), args.Error(1)
}

func (m *mockReceipts) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gethtypes.Receipt), args.Error(1)
}

func successReceipt() *gethtypes.Receipt {
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful}
}

type mockReferrals struct {
	mock.Mock
}

func (m *mockReferrals) SubmitReferral(ctx context.Context, a models.ReferralAttribution) error {
	return m.Called(ctx, a).Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetBookings(ctx context.Context, account string, year uint16) ([]models.ChainBookingRecord, bool, error) {
	args := m.Called(ctx, account, year)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]models.ChainBookingRecord), args.Bool(1), args.Error(2)
}

func (m *mockCache) SetBookings(ctx context.Context, account string, year uint16, records []models.ChainBookingRecord) error {
	return m.Called(ctx, account, year, records).Error(0)
}

func (m *mockCache) GetAmount(ctx context.Context, account, name string) (decimal.Decimal, bool, error) {
	args := m.Called(ctx, account, name)
	return args.Get(0).(decimal.Decimal), args.Bool(1), args.Error(2)
}

func (m *mockCache) SetAmount(ctx context.Context, account, name string, value decimal.Decimal) error {
	return m.Called(ctx, account, name, value).Error(0)
}

func (m *mockCache) InvalidateAccount(ctx context.Context, account string) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decEq matches decimals by value regardless of exponent.
func decEq(s string) interface{} {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}
