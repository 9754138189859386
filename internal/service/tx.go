package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"closer/internal/chain"
	"closer/internal/domain"
	"closer/internal/metrics"
	"closer/internal/models"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// txRunner submits one transaction and waits for its receipt.
type txRunner struct {
	receipts domain.ReceiptSource
	tracker  domain.TxTracker
	logger   *zerolog.Logger
}

func (r txRunner) run(ctx context.Context, kind string, account common.Address, send func() (common.Hash, error)) (common.Hash, error) {
	hash, err := send()
	if err != nil {
		metrics.IncTx(kind, "failed")
		return common.Hash{}, err
	}
	metrics.IncTx(kind, "submitted")

	if r.tracker != nil {
		if err := r.tracker.Track(ctx, hash, kind, strings.ToLower(account.Hex())); err != nil {
			r.logger.Warn().Err(err).Str("tx", hash.Hex()).Msg("track transaction")
		}
	}

	receipt, waitErr := r.receipts.WaitForTransactionReceipt(ctx, hash)
	if r.tracker != nil {
		r.tracker.Resolve(ctx, hash, receipt, waitErr)
	}
	if waitErr != nil {
		if errors.Is(waitErr, chain.ErrTransactionReverted) {
			metrics.IncTx(kind, models.TxStatusReverted)
		}
		return hash, waitErr
	}
	metrics.IncTx(kind, models.TxStatusConfirmed)
	return hash, nil
}

// signerMatches checks that transactions will be sent from the session wallet.
func signerMatches(signer func() (common.Address, bool), account common.Address) error {
	addr, ok := signer()
	if !ok {
		return chain.ErrWalletUnavailable
	}
	if addr != account {
		return fmt.Errorf("signer %s does not match wallet %s", addr.Hex(), account.Hex())
	}
	return nil
}

func accountKey(account common.Address) string {
	return strings.ToLower(account.Hex())
}

// attributeReferral reports a successful transaction to the platform as a
// non-critical task.
func attributeReferral(ctx context.Context, logger *zerolog.Logger, referrals domain.ReferralSubmitter, at time.Time, sess session.Session, hash common.Hash, action string, amount decimal.Decimal) NonCriticalResult {
	if referrals == nil {
		return NonCriticalResult{Name: "referral", OK: true}
	}
	return RunNonCritical(ctx, logger, "referral", func(ctx context.Context) error {
		return referrals.SubmitReferral(ctx, models.ReferralAttribution{
			UserID:    sess.User.ID,
			Account:   sess.Address().Hex(),
			TxHash:    hash.Hex(),
			Action:    action,
			Amount:    amount.String(),
			CreatedAt: at.UTC(),
		})
	})
}
