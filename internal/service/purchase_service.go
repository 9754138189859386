package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"closer/internal/bondingcurve"
	"closer/internal/domain"
	"closer/internal/events"
	"closer/internal/metrics"
	"closer/internal/models"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SaleInfo is a snapshot of the token sale.
type SaleInfo struct {
	TotalSupply decimal.Decimal `json:"total_supply"`
	HardCap     decimal.Decimal `json:"hard_cap"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Remaining   decimal.Decimal `json:"remaining"`
}

type PurchaseDeps struct {
	Contracts domain.SaleContracts
	Receipts  domain.ReceiptSource
	Cache     domain.ChainCache
	Tracker   domain.TxTracker
	Events    domain.EventPublisher
	Referrals domain.ReferralSubmitter
	Curve     bondingcurve.Curve
	ChainID   int64
	Logger    *zerolog.Logger
}

// PurchaseService buys DAO tokens from the dynamic sale contract.
type PurchaseService struct {
	contracts domain.SaleContracts
	cache     domain.ChainCache
	eventBus  domain.EventPublisher
	referrals domain.ReferralSubmitter
	curve     bondingcurve.Curve
	txs       txRunner
	chainID   int64
	pending   atomic.Bool
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewPurchaseService(deps PurchaseDeps) *PurchaseService {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PurchaseService{
		contracts: deps.Contracts,
		cache:     deps.Cache,
		eventBus:  deps.Events,
		referrals: deps.Referrals,
		curve:     deps.Curve,
		txs:       txRunner{receipts: deps.Receipts, tracker: deps.Tracker, logger: logger},
		chainID:   deps.ChainID,
		now:       time.Now,
		logger:    logger,
	}
}

// IsPending is true while BuyTokens is running. Concurrent calls are not
// deduplicated; the flag clears when any of them finishes.
func (s *PurchaseService) IsPending() bool {
	return s.pending.Load()
}

// CheckAllowance reports whether owner allows the sale contract to pull
// amount of the payment token.
func (s *PurchaseService) CheckAllowance(ctx context.Context, owner common.Address, amount decimal.Decimal) (bool, error) {
	addrs := s.contracts.Addresses()
	allowance, err := s.contracts.Allowance(ctx, addrs.PaymentToken, owner, addrs.DynamicSale)
	metrics.IncChainRead("allowance", err)
	if err != nil {
		return false, err
	}
	return allowance.GreaterThanOrEqual(amount), nil
}

// GetTotalCost returns the payment token cost of amount DAO tokens as
// computed by the sale contract.
func (s *PurchaseService) GetTotalCost(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	cost, err := s.contracts.CalculateTotalCost(ctx, amount)
	metrics.IncChainRead("calculateTotalCost", err)
	return cost, err
}

func (s *PurchaseService) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	key := accountKey(owner)
	if s.cache != nil {
		if v, ok, err := s.cache.GetAmount(ctx, key, "balance"); err == nil && ok {
			return v, nil
		}
	}
	balance, err := s.contracts.BalanceOf(ctx, owner)
	metrics.IncChainRead("balanceOf", err)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		if err := s.cache.SetAmount(ctx, key, "balance", balance); err != nil {
			s.logger.Debug().Err(err).Msg("chain cache write")
		}
	}
	return balance, nil
}

func (s *PurchaseService) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	supply, err := s.contracts.TotalSupply(ctx)
	metrics.IncChainRead("totalSupply", err)
	return supply, err
}

func (s *PurchaseService) SaleHardCap(ctx context.Context) (decimal.Decimal, error) {
	hardCap, err := s.contracts.SaleHardCap(ctx)
	metrics.IncChainRead("saleHardCap", err)
	return hardCap, err
}

// Sale reads supply and hard cap and prices the next token on the curve.
func (s *PurchaseService) Sale(ctx context.Context) (*SaleInfo, error) {
	supply, err := s.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	hardCap, err := s.SaleHardCap(ctx)
	if err != nil {
		return nil, err
	}
	info := &SaleInfo{TotalSupply: supply, HardCap: hardCap, Remaining: decimal.Max(hardCap.Sub(supply), decimal.Zero)}
	if supply.IsPositive() {
		price, err := s.curve.CurrentUnitPrice(supply)
		if err != nil {
			return nil, err
		}
		info.UnitPrice = price
		metrics.SetSale(supply.InexactFloat64(), price.InexactFloat64())
	}
	return info, nil
}

// BuyTokens approves the payment token to the sale contract when the
// allowance does not cover the cost, then buys amount DAO tokens. When the
// approval fails buy is not attempted.
func (s *PurchaseService) BuyTokens(ctx context.Context, sess session.Session, amount decimal.Decimal) models.TxResult {
	if reason := sess.Check(s.chainID); reason != "" {
		return models.TxResult{Error: reason}
	}
	if !amount.IsPositive() {
		return models.TxResult{Error: "amount must be positive"}
	}

	account := sess.Address()
	if err := signerMatches(s.contracts.Signer, account); err != nil {
		return models.TxFailed(err)
	}

	s.pending.Store(true)
	defer s.pending.Store(false)

	cost, err := s.GetTotalCost(ctx, amount)
	if err != nil {
		s.logger.Error().Err(err).Str("amount", amount.String()).Msg("calculate total cost")
		return models.TxFailed(err)
	}

	enough, err := s.CheckAllowance(ctx, account, cost)
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Msg("read payment allowance")
		return models.TxFailed(err)
	}

	addrs := s.contracts.Addresses()
	if !enough {
		hash, err := s.txs.run(ctx, models.TxKindApprove, account, func() (common.Hash, error) {
			return s.contracts.Approve(ctx, addrs.PaymentToken, addrs.DynamicSale, cost)
		})
		if err != nil {
			s.logger.Error().Err(err).Str("account", account.Hex()).Str("tx", hash.Hex()).Msg("approve payment token")
			return models.TxFailed(fmt.Errorf("approve: %w", err))
		}
		attributeReferral(ctx, s.logger, s.referrals, s.now(), sess, hash, models.TxKindApprove, cost)
	}

	hash, err := s.txs.run(ctx, models.TxKindBuy, account, func() (common.Hash, error) {
		return s.contracts.Buy(ctx, amount)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Str("tx", hash.Hex()).Msg("buy tokens")
		return models.TxFailed(fmt.Errorf("buy: %w", err))
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAccount(ctx, accountKey(account)); err != nil {
			s.logger.Warn().Err(err).Str("account", account.Hex()).Msg("invalidate chain cache")
		}
	}
	if s.eventBus != nil {
		payload := events.TokensPurchasedPayload{
			Account: account.Hex(),
			TxHash:  hash.Hex(),
			Amount:  amount.String(),
			Cost:    cost.String(),
		}
		if err := s.eventBus.PublishJSON(events.EventTokensPurchased, payload); err != nil {
			s.logger.Warn().Err(err).Msg("publish tokens purchased")
		}
	}
	attributeReferral(ctx, s.logger, s.referrals, s.now(), sess, hash, models.TxKindBuy, amount)

	s.logger.Info().
		Str("account", account.Hex()).
		Str("tx", hash.Hex()).
		Str("amount", amount.String()).
		Str("cost", cost.String()).
		Msg("tokens purchased")
	return models.TxSucceeded(hash.Hex())
}
