package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"closer/internal/domain"
	"closer/internal/events"
	"closer/internal/metrics"
	"closer/internal/models"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var ErrInvalidNights = errors.New("invalid booking nights")

// StakeEstimate is the stake needed for a new booking in one year.
type StakeEstimate struct {
	Available   bool               `json:"available"`
	Reason      string             `json:"reason,omitempty"`
	Needed      *decimal.Decimal   `json:"needed"`
	StakeByYear models.StakeByYear `json:"stake_by_year,omitempty"`
}

// AccountStake summarises an account's stake position.
type AccountStake struct {
	Account     string                      `json:"account"`
	Bookings    []models.ChainBookingRecord `json:"bookings"`
	StakeByYear models.StakeByYear          `json:"stake_by_year"`
	Staked      decimal.Decimal             `json:"staked"`
	Unlocked    decimal.Decimal             `json:"unlocked"`
	Balance     decimal.Decimal             `json:"balance"`
}

type BookingStakeDeps struct {
	Contracts   domain.BookingContracts
	Receipts    domain.ReceiptSource
	Cache       domain.ChainCache
	Tracker     domain.TxTracker
	Events      domain.EventPublisher
	Referrals   domain.ReferralSubmitter
	ChainID     int64
	WindowYears int
	Logger      *zerolog.Logger
}

// BookingStakeService reconciles bookings with the booking contract and
// stakes DAO tokens for new ones.
type BookingStakeService struct {
	contracts   domain.BookingContracts
	cache       domain.ChainCache
	eventBus    domain.EventPublisher
	referrals   domain.ReferralSubmitter
	txs         txRunner
	chainID     int64
	windowYears int
	pending     atomic.Bool
	now         func() time.Time
	logger      *zerolog.Logger
}

func NewBookingStakeService(deps BookingStakeDeps) *BookingStakeService {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.WindowYears <= 0 {
		deps.WindowYears = models.DefaultBookingWindowYears
	}
	return &BookingStakeService{
		contracts:   deps.Contracts,
		cache:       deps.Cache,
		eventBus:    deps.Events,
		referrals:   deps.Referrals,
		txs:         txRunner{receipts: deps.Receipts, tracker: deps.Tracker, logger: logger},
		chainID:     deps.ChainID,
		windowYears: deps.WindowYears,
		now:         time.Now,
		logger:      logger,
	}
}

// IsPending reports whether a stake transaction is in flight.
func (s *BookingStakeService) IsPending() bool {
	return s.pending.Load()
}

// CheckContract reports whether every requested night is already booked on
// chain for the session account. It always reads the contract directly.
func (s *BookingStakeService) CheckContract(ctx context.Context, sess session.Session, nights []models.BookingNight) models.ReconcileResult {
	if len(nights) == 0 {
		return models.ReconcileResult{Reason: "no nights requested"}
	}
	if reason := sess.Check(s.chainID); reason != "" {
		return models.ReconcileResult{Reason: reason}
	}
	if err := validateNights(nights); err != nil {
		return models.ReconcileResult{Reason: err.Error()}
	}

	account := sess.Address()
	onChain := make(map[models.BookingNight]struct{})
	for _, year := range models.Years(nights) {
		records, err := s.readBookings(ctx, account, year)
		if err != nil {
			s.logger.Error().Err(err).Str("account", account.Hex()).Uint16("year", year).Msg("read bookings for reconcile")
			return models.ReconcileResult{Reason: fmt.Sprintf("chain read failed: %v", err)}
		}
		for _, r := range records {
			onChain[r.Night()] = struct{}{}
		}
	}

	var missing []models.BookingNight
	for _, n := range nights {
		if _, ok := onChain[n]; !ok {
			missing = append(missing, n)
		}
	}

	res := models.ReconcileResult{Available: true, Matched: len(missing) == 0, Missing: missing}
	if !res.Matched {
		s.logger.Warn().
			Str("account", account.Hex()).
			Int("requested", len(nights)).
			Int("missing", len(missing)).
			Msg("booking dates do not match contract")
	}
	return res
}

// EstimateNeededStakeForNewBooking returns the tokens that must be newly
// staked to cover totalBookingTokenCost in bookingYear, given the account's
// existing bookings. It returns nil when the input cannot be evaluated.
func EstimateNeededStakeForNewBooking(bookedDates []models.ChainBookingRecord, bookingYear uint16, totalBookingTokenCost decimal.Decimal) *decimal.Decimal {
	if bookedDates == nil || bookingYear == 0 || !totalBookingTokenCost.IsPositive() {
		return nil
	}
	stakes := models.FoldStakeByYear(bookedDates)
	covered := decimal.Max(stakes.Max(), stakes.For(bookingYear))
	needed := totalBookingTokenCost.Sub(covered)
	if needed.IsNegative() {
		needed = decimal.Zero
	}
	return &needed
}

// NeededStake reads the account's bookings across the booking window and
// estimates the stake for a new booking.
func (s *BookingStakeService) NeededStake(ctx context.Context, sess session.Session, bookingYear uint16, totalCost decimal.Decimal) StakeEstimate {
	if reason := sess.Check(s.chainID); reason != "" {
		return StakeEstimate{Reason: reason}
	}
	records, err := s.windowBookings(ctx, sess.Address(), bookingYear)
	if err != nil {
		s.logger.Error().Err(err).Str("account", sess.Address().Hex()).Msg("read bookings for stake estimate")
		return StakeEstimate{Reason: fmt.Sprintf("chain read failed: %v", err)}
	}
	return StakeEstimate{
		Available:   true,
		Needed:      EstimateNeededStakeForNewBooking(records, bookingYear, totalCost),
		StakeByYear: models.FoldStakeByYear(records),
	}
}

// AccountStake collects bookings and balances for an account.
func (s *BookingStakeService) AccountStake(ctx context.Context, account common.Address) (*AccountStake, error) {
	records, err := s.windowBookings(ctx, account, 0)
	if err != nil {
		return nil, err
	}
	staked, err := s.cachedAmount(ctx, account, "staked", s.contracts.StakedBalanceOf)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.cachedAmount(ctx, account, "unlocked", s.contracts.UnlockedStake)
	if err != nil {
		return nil, err
	}
	balance, err := s.cachedAmount(ctx, account, "balance", s.contracts.BalanceOf)
	if err != nil {
		return nil, err
	}
	return &AccountStake{
		Account:     account.Hex(),
		Bookings:    records,
		StakeByYear: models.FoldStakeByYear(records),
		Staked:      staked,
		Unlocked:    unlocked,
		Balance:     balance,
	}, nil
}

// StakeTokens approves the DAO token to the booking contract when the
// allowance is short, then books the nights. Failures come back in the
// result and are never retried.
func (s *BookingStakeService) StakeTokens(ctx context.Context, sess session.Session, nights []models.BookingNight, amount decimal.Decimal) models.TxResult {
	if reason := sess.Check(s.chainID); reason != "" {
		return models.TxResult{Error: reason}
	}
	if len(nights) == 0 {
		return models.TxFailed(ErrInvalidNights)
	}
	if err := validateNights(nights); err != nil {
		return models.TxFailed(err)
	}
	if amount.IsNegative() {
		return models.TxResult{Error: "amount must not be negative"}
	}

	account := sess.Address()
	if err := signerMatches(s.contracts.Signer, account); err != nil {
		return models.TxFailed(err)
	}

	s.pending.Store(true)
	defer s.pending.Store(false)

	addrs := s.contracts.Addresses()
	allowance, err := s.contracts.Allowance(ctx, addrs.DAOToken, account, addrs.Diamond)
	metrics.IncChainRead("allowance", err)
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Msg("read dao token allowance")
		return models.TxFailed(err)
	}

	if allowance.LessThan(amount) {
		hash, err := s.txs.run(ctx, models.TxKindApprove, account, func() (common.Hash, error) {
			return s.contracts.Approve(ctx, addrs.DAOToken, addrs.Diamond, amount)
		})
		if err != nil {
			s.logger.Error().Err(err).Str("account", account.Hex()).Str("tx", hash.Hex()).Msg("approve dao token")
			return models.TxFailed(err)
		}
	}

	hash, err := s.txs.run(ctx, models.TxKindBook, account, func() (common.Hash, error) {
		return s.contracts.BookAccommodation(ctx, nights)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account", account.Hex()).Str("tx", hash.Hex()).Msg("book accommodation")
		return models.TxFailed(err)
	}

	s.invalidate(ctx, account)

	if s.eventBus != nil {
		payload := events.BookingStakedPayload{
			Account: account.Hex(),
			TxHash:  hash.Hex(),
			Nights:  models.Tuples(nights),
			Amount:  amount.String(),
		}
		if err := s.eventBus.PublishJSON(events.EventBookingStaked, payload); err != nil {
			s.logger.Warn().Err(err).Msg("publish booking staked")
		}
	}

	attributeReferral(ctx, s.logger, s.referrals, s.now(), sess, hash, models.TxKindBook, amount)

	s.logger.Info().
		Str("account", account.Hex()).
		Str("tx", hash.Hex()).
		Int("nights", len(nights)).
		Str("amount", amount.String()).
		Msg("booking staked")
	return models.TxSucceeded(hash.Hex())
}

func (s *BookingStakeService) invalidate(ctx context.Context, account common.Address) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAccount(ctx, accountKey(account)); err != nil {
		s.logger.Warn().Err(err).Str("account", account.Hex()).Msg("invalidate chain cache")
	}
}

func (s *BookingStakeService) readBookings(ctx context.Context, account common.Address, year uint16) ([]models.ChainBookingRecord, error) {
	records, err := s.contracts.GetAccommodationBookings(ctx, account, year)
	metrics.IncChainRead("getAccommodationBookings", err)
	return records, err
}

// windowBookings returns the account's bookings for the booking window and
// extraYear when it is outside of it. The result is never nil on success.
func (s *BookingStakeService) windowBookings(ctx context.Context, account common.Address, extraYear uint16) ([]models.ChainBookingRecord, error) {
	years := s.windowYearsFrom(s.now())
	if extraYear != 0 && !containsYear(years, extraYear) {
		years = append(years, extraYear)
	}

	out := make([]models.ChainBookingRecord, 0)
	for _, year := range years {
		records, err := s.cachedBookings(ctx, account, year)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *BookingStakeService) windowYearsFrom(now time.Time) []uint16 {
	first := uint16(now.Year())
	years := make([]uint16, 0, s.windowYears)
	for i := 0; i < s.windowYears; i++ {
		years = append(years, first+uint16(i))
	}
	return years
}

func (s *BookingStakeService) cachedBookings(ctx context.Context, account common.Address, year uint16) ([]models.ChainBookingRecord, error) {
	key := accountKey(account)
	if s.cache != nil {
		records, ok, err := s.cache.GetBookings(ctx, key, year)
		if err == nil && ok {
			return records, nil
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("chain cache read")
		}
	}

	records, err := s.readBookings(ctx, account, year)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetBookings(ctx, key, year, records); err != nil {
			s.logger.Debug().Err(err).Msg("chain cache write")
		}
	}
	return records, nil
}

func (s *BookingStakeService) cachedAmount(
	ctx context.Context,
	account common.Address,
	name string,
	read func(context.Context, common.Address) (decimal.Decimal, error),
) (decimal.Decimal, error) {
	key := accountKey(account)
	if s.cache != nil {
		if v, ok, err := s.cache.GetAmount(ctx, key, name); err == nil && ok {
			return v, nil
		}
	}
	v, err := read(ctx, account)
	metrics.IncChainRead(name, err)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		if err := s.cache.SetAmount(ctx, key, name, v); err != nil {
			s.logger.Debug().Err(err).Msg("chain cache write")
		}
	}
	return v, nil
}

func validateNights(nights []models.BookingNight) error {
	for _, n := range nights {
		if !n.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidNights, n)
		}
	}
	return nil
}

func containsYear(years []uint16, year uint16) bool {
	for _, y := range years {
		if y == year {
			return true
		}
	}
	return false
}
