package service

import (
	"context"
	"errors"
	"testing"

	"closer/internal/bondingcurve"
	"closer/internal/events"
	"closer/internal/models"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPurchaseService(contracts *mockContracts, receipts *mockReceipts) *PurchaseService {
	return NewPurchaseService(PurchaseDeps{
		Contracts: contracts,
		Receipts:  receipts,
		Curve:     bondingcurve.New(1e6, 1e9, 200),
		ChainID:   testChainID,
		Logger:    testLogger(),
	})
}

func TestPurchaseReads(t *testing.T) {
	ctx := context.Background()
	contracts := new(mockContracts)
	contracts.On("Allowance", ctx, testAddresses.PaymentToken, testAccount, testAddresses.DynamicSale).Return(dec("100"), nil)
	contracts.On("CalculateTotalCost", ctx, decEq("3")).Return(dec("606.5"), nil).Once()
	contracts.On("TotalSupply", ctx).Return(dec("1000"), nil)
	contracts.On("SaleHardCap", ctx).Return(dec("5000"), nil)

	svc := newPurchaseService(contracts, nil)

	ok, err := svc.CheckAllowance(ctx, testAccount, dec("100"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckAllowance(ctx, testAccount, dec("100.01"))
	require.NoError(t, err)
	assert.False(t, ok)

	cost, err := svc.GetTotalCost(ctx, dec("3"))
	require.NoError(t, err)
	assert.True(t, cost.Equal(dec("606.5")))

	info, err := svc.Sale(ctx)
	require.NoError(t, err)
	assert.True(t, info.UnitPrice.Equal(dec("202")), info.UnitPrice.String())
	assert.True(t, info.Remaining.Equal(dec("4000")))
}

func TestBuyTokens(t *testing.T) {
	ctx := context.Background()
	approveHash := common.HexToHash("0xa2")
	buyHash := common.HexToHash("0xb2")

	t.Run("AllowanceSufficient", func(t *testing.T) {
		contracts := new(mockContracts)
		receipts := new(mockReceipts)
		contracts.On("CalculateTotalCost", ctx, decEq("3")).Return(dec("606"), nil).Once()
		contracts.On("Allowance", ctx, testAddresses.PaymentToken, testAccount, testAddresses.DynamicSale).Return(dec("1000"), nil).Once()
		contracts.On("Buy", ctx, decEq("3")).Return(buyHash, nil).Once()
		receipts.On("WaitForTransactionReceipt", ctx, buyHash).Return(successReceipt(), nil).Once()

		bus := events.NewEventBus(nil)
		var purchased []byte
		bus.Subscribe(events.EventTokensPurchased, func(e *events.Event) error { purchased = e.Payload; return nil })

		svc := newPurchaseService(contracts, receipts)
		svc.eventBus = bus

		res := svc.BuyTokens(ctx, linkedSession(), dec("3"))
		assert.True(t, res.OK())
		assert.Equal(t, buyHash.Hex(), res.TxHash)
		assert.Contains(t, string(purchased), `"cost":"606"`)
		contracts.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ApprovesCostFirst", func(t *testing.T) {
		contracts := new(mockContracts)
		receipts := new(mockReceipts)
		referrals := new(mockReferrals)
		contracts.On("CalculateTotalCost", ctx, decEq("3")).Return(dec("606"), nil).Once()
		contracts.On("Allowance", ctx, testAddresses.PaymentToken, testAccount, testAddresses.DynamicSale).Return(dec("10"), nil).Once()
		var order []string
		contracts.On("Approve", ctx, testAddresses.PaymentToken, testAddresses.DynamicSale, decEq("606")).
			Run(func(mock.Arguments) { order = append(order, "approve") }).
			Return(approveHash, nil).Once()
		receipts.On("WaitForTransactionReceipt", ctx, approveHash).
			Run(func(mock.Arguments) { order = append(order, "approve-receipt") }).
			Return(successReceipt(), nil).Once()
		contracts.On("Buy", ctx, decEq("3")).
			Run(func(mock.Arguments) { order = append(order, "buy") }).
			Return(buyHash, nil).Once()
		receipts.On("WaitForTransactionReceipt", ctx, buyHash).Return(successReceipt(), nil).Once()
		referrals.On("SubmitReferral", mock.Anything, mock.MatchedBy(func(a models.ReferralAttribution) bool {
			return a.Action == models.TxKindApprove
		})).Return(nil).Once()
		referrals.On("SubmitReferral", mock.Anything, mock.MatchedBy(func(a models.ReferralAttribution) bool {
			return a.Action == models.TxKindBuy
		})).Return(nil).Once()

		svc := newPurchaseService(contracts, receipts)
		svc.referrals = referrals

		res := svc.BuyTokens(ctx, linkedSession(), dec("3"))
		assert.True(t, res.OK())
		assert.Equal(t, []string{"approve", "approve-receipt", "buy"}, order)
		contracts.AssertExpectations(t)
		referrals.AssertExpectations(t)
	})

	t.Run("ApproveFailureNeverBuys", func(t *testing.T) {
		contracts := new(mockContracts)
		receipts := new(mockReceipts)
		contracts.On("CalculateTotalCost", ctx, decEq("3")).Return(dec("606"), nil).Once()
		contracts.On("Allowance", ctx, testAddresses.PaymentToken, testAccount, testAddresses.DynamicSale).Return(dec("0"), nil).Once()
		contracts.On("Approve", ctx, testAddresses.PaymentToken, testAddresses.DynamicSale, decEq("606")).Return(approveHash, nil).Once()
		receipts.On("WaitForTransactionReceipt", ctx, approveHash).Return(nil, errors.New("user rejected")).Once()

		res := newPurchaseService(contracts, receipts).BuyTokens(ctx, linkedSession(), dec("3"))
		assert.Nil(t, res.Success)
		assert.Contains(t, res.Error, "approve")
		contracts.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything)
	})

	t.Run("CostReadFails", func(t *testing.T) {
		contracts := new(mockContracts)
		contracts.On("CalculateTotalCost", ctx, decEq("3")).Return(dec("0"), errors.New("rpc down")).Once()

		res := newPurchaseService(contracts, nil).BuyTokens(ctx, linkedSession(), dec("3"))
		assert.Contains(t, res.Error, "rpc down")
		contracts.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		res := newPurchaseService(new(mockContracts), nil).BuyTokens(ctx, linkedSession(), dec("0"))
		assert.Equal(t, "amount must be positive", res.Error)
	})

	t.Run("Disconnected", func(t *testing.T) {
		res := newPurchaseService(new(mockContracts), nil).BuyTokens(ctx, session.Session{}, dec("3"))
		assert.Equal(t, session.ReasonWalletNotConnected, res.Error)
		assert.Nil(t, res.Success)
	})
}

func TestBuyTokensPendingFlag(t *testing.T) {
	ctx := context.Background()
	contracts := new(mockContracts)
	receipts := new(mockReceipts)
	svc := newPurchaseService(contracts, receipts)

	var pendingDuringCall bool
	contracts.On("CalculateTotalCost", ctx, decEq("1")).
		Run(func(mock.Arguments) { pendingDuringCall = svc.IsPending() }).
		Return(dec("200"), nil).Once()
	contracts.On("Allowance", ctx, testAddresses.PaymentToken, testAccount, testAddresses.DynamicSale).Return(dec("200"), nil).Once()
	contracts.On("Buy", ctx, decEq("1")).Return(common.HexToHash("0x01"), nil).Once()
	receipts.On("WaitForTransactionReceipt", ctx, common.HexToHash("0x01")).Return(successReceipt(), nil).Once()

	assert.False(t, svc.IsPending())
	res := svc.BuyTokens(ctx, linkedSession(), dec("1"))
	assert.True(t, res.OK())
	assert.True(t, pendingDuringCall)
	assert.False(t, svc.IsPending())
}
