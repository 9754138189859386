package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"closer/internal/database"
	"closer/internal/domain"
	"closer/internal/events"
	"closer/internal/metrics"
	"closer/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ReceiptPoller looks up a receipt without waiting for it.
type ReceiptPoller interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

// TrackerOptions tunes the sweep loop.
type TrackerOptions struct {
	Retry        RetryPolicy
	PollInterval time.Duration
	BatchSize    int
	QueueKey     string
	// Grace is how long a freshly tracked transaction is left to the
	// submitting request before the sweep polls it.
	Grace time.Duration
}

// TxTrackerDeps wires the tracker.
type TxTrackerDeps struct {
	Store    domain.TxStore
	Receipts ReceiptPoller
	Cache    domain.ChainCache
	Events   domain.EventPublisher
	Redis    *redis.Client
	Options  TrackerOptions
	Logger   *zerolog.Logger
}

// TxTracker persists submitted transactions and resolves the ones whose
// receipt was not seen inline (timeouts, restarts).
type TxTracker struct {
	store         domain.TxStore
	receipts      ReceiptPoller
	cache         domain.ChainCache
	events        domain.EventPublisher
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan string
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	grace         time.Duration
	logger        *zerolog.Logger
	now           func() time.Time
}

func NewTxTracker(deps TxTrackerDeps) *TxTracker {
	opts := deps.Options
	retry := opts.Retry.withDefaults()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 20
	}
	if opts.QueueKey == "" {
		opts.QueueKey = "closer:pending_tx"
	}
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &TxTracker{
		store:         deps.Store,
		receipts:      deps.Receipts,
		cache:         deps.Cache,
		events:        deps.Events,
		redis:         deps.Redis,
		retryPolicy:   retry,
		queue:         make(chan string, models.TrackerQueueSize),
		redisQueueKey: opts.QueueKey,
		deadLetterKey: opts.QueueKey + ":dropped",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		grace:         opts.Grace,
		logger:        logger,
		now:           time.Now,
	}
}

// Track records a submitted transaction. The sweep only looks at it after
// the grace period.
func (t *TxTracker) Track(ctx context.Context, hash common.Hash, kind, account string) error {
	if hash == (common.Hash{}) {
		return errors.New("transaction hash is required")
	}
	if kind == "" {
		return errors.New("transaction kind is required")
	}

	next := t.now().Add(t.grace)
	tx := models.PendingTransaction{
		Hash:       hash.Hex(),
		Kind:       kind,
		Account:    strings.ToLower(account),
		Status:     models.TxStatusPending,
		NextPollAt: &next,
	}
	if err := t.store.CreatePendingTransaction(ctx, &tx); err != nil {
		return fmt.Errorf("persist pending transaction: %w", err)
	}

	t.publish(events.EventTxSubmitted, &tx, 0)
	t.refreshPending(ctx)
	return nil
}

// Resolve records the outcome of an inline receipt wait. A transaction with
// no receipt stays pending and is handed to the sweep.
func (t *TxTracker) Resolve(ctx context.Context, hash common.Hash, receipt *gethtypes.Receipt, waitErr error) {
	tx, err := t.store.GetPendingTransactionByHash(ctx, hash.Hex())
	if err != nil {
		t.logger.Warn().Err(err).Str("tx", hash.Hex()).Msg("resolve: load transaction")
		return
	}
	if tx.Status != models.TxStatusPending {
		return
	}

	if receipt != nil {
		t.applyReceipt(ctx, tx, receipt)
		return
	}

	msg := "receipt not found"
	if waitErr != nil {
		msg = waitErr.Error()
	}
	next := t.now()
	if err := t.store.UpdatePendingTransactionStatus(ctx, tx.Hash, models.TxStatusPending, msg, nil, &next); err != nil {
		if errors.Is(err, database.ErrAlreadyResolved) {
			return
		}
		t.logger.Warn().Err(err).Str("tx", tx.Hash).Msg("resolve: schedule receipt poll")
	}
	t.enqueue(ctx, tx.Hash)
}

// Start launches the sweep loop; stops when ctx is done.
func (t *TxTracker) Start(ctx context.Context) {
	t.logger.Info().Msg("tx tracker started")
	defer t.logger.Info().Msg("tx tracker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if hash, ok := t.tryLocalQueue(); ok {
			t.processHash(ctx, hash)
			continue
		}

		if hash, ok := t.tryRedis(ctx); ok {
			t.processHash(ctx, hash)
			continue
		}

		if n := t.sweep(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.pollInterval):
			}
		}
	}
}

// sweep polls every due transaction once and returns how many it looked at.
func (t *TxTracker) sweep(ctx context.Context) int {
	txs, err := t.store.GetPendingTransactions(ctx, t.batchSize)
	if err != nil {
		t.logger.Error().Err(err).Msg("fetch pending transactions")
		return 0
	}
	for i := range txs {
		t.processTx(ctx, &txs[i])
	}
	return len(txs)
}

func (t *TxTracker) processHash(ctx context.Context, hash string) {
	tx, err := t.store.GetPendingTransactionByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			t.logger.Error().Err(err).Str("tx", hash).Msg("load queued transaction")
		}
		return
	}
	if tx.Status != models.TxStatusPending {
		return
	}
	t.processTx(ctx, tx)
}

func (t *TxTracker) processTx(ctx context.Context, tx *models.PendingTransaction) {
	receipt, err := t.receipts.TransactionReceipt(ctx, common.HexToHash(tx.Hash))
	if err == nil && receipt != nil {
		t.applyReceipt(ctx, tx, receipt)
		return
	}
	if err == nil || errors.Is(err, ethereum.NotFound) {
		err = errors.New("receipt not found")
	}
	t.retryOrDrop(ctx, tx, err)
}

func (t *TxTracker) applyReceipt(ctx context.Context, tx *models.PendingTransaction, receipt *gethtypes.Receipt) {
	status := models.TxStatusConfirmed
	eventType := events.EventTxConfirmed
	errMsg := ""
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		status = models.TxStatusReverted
		eventType = events.EventTxReverted
		errMsg = "execution reverted"
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	if err := t.store.UpdatePendingTransactionStatus(ctx, tx.Hash, status, errMsg, &block, nil); err != nil {
		if errors.Is(err, database.ErrAlreadyResolved) {
			t.logger.Debug().Str("tx", tx.Hash).Msg("transaction resolved elsewhere")
			return
		}
		t.logger.Error().Err(err).Str("tx", tx.Hash).Msg("mark transaction " + status)
		return
	}
	tx.Status = status

	if t.cache != nil {
		if err := t.cache.InvalidateAccount(ctx, tx.Account); err != nil {
			t.logger.Warn().Err(err).Str("account", tx.Account).Msg("invalidate cache")
		}
	}

	t.logger.Info().Str("tx", tx.Hash).Str("kind", tx.Kind).Str("status", status).Uint64("block", block).Msg("transaction resolved")
	t.publish(eventType, tx, block)
	t.refreshPending(ctx)
}

func (t *TxTracker) retryOrDrop(ctx context.Context, tx *models.PendingTransaction, cause error) {
	attempt := tx.PollCount + 1
	if t.retryPolicy.Exhausted(attempt) {
		if err := t.store.UpdatePendingTransactionStatus(ctx, tx.Hash, models.TxStatusDropped, cause.Error(), nil, nil); err != nil {
			if !errors.Is(err, database.ErrAlreadyResolved) {
				t.logger.Error().Err(err).Str("tx", tx.Hash).Msg("mark transaction dropped")
			}
			return
		}
		tx.Status = models.TxStatusDropped
		t.logger.Warn().Str("tx", tx.Hash).Int("polls", attempt).Msg("transaction dropped")
		t.pushDeadLetter(ctx, tx.Hash)
		t.publish(events.EventTxDropped, tx, 0)
		t.refreshPending(ctx)
		return
	}

	next := t.retryPolicy.NextPollAt(t.now(), attempt)
	if err := t.store.UpdatePendingTransactionStatus(ctx, tx.Hash, models.TxStatusPending, cause.Error(), nil, &next); err != nil && !errors.Is(err, database.ErrAlreadyResolved) {
		t.logger.Error().Err(err).Str("tx", tx.Hash).Msg("schedule receipt poll")
	}
}

func (t *TxTracker) enqueue(ctx context.Context, hash string) {
	if t.redis != nil {
		if err := t.redis.LPush(ctx, t.redisQueueKey, hash).Err(); err != nil {
			t.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return
		}
	}

	select {
	case t.queue <- hash:
	default:
		t.logger.Warn().Str("tx", hash).Msg("in-memory queue full, transaction left to polling")
	}
}

func (t *TxTracker) tryLocalQueue() (string, bool) {
	select {
	case hash := <-t.queue:
		return hash, true
	default:
		return "", false
	}
}

func (t *TxTracker) tryRedis(ctx context.Context) (string, bool) {
	if t.redis == nil {
		return "", false
	}
	res, err := t.redis.BRPop(ctx, time.Second, t.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return "", false
		}
		t.logger.Error().Err(err).Msg("redis BRPOP")
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

func (t *TxTracker) pushDeadLetter(ctx context.Context, hash string) {
	if t.redis == nil {
		return
	}
	if err := t.redis.LPush(ctx, t.deadLetterKey, hash).Err(); err != nil {
		t.logger.Error().Err(err).Str("tx", hash).Msg("deadletter push")
	}
}

func (t *TxTracker) publish(eventType string, tx *models.PendingTransaction, block uint64) {
	if t.events == nil {
		return
	}
	payload := events.TxEventPayload{
		Hash:        tx.Hash,
		Kind:        tx.Kind,
		Account:     tx.Account,
		Status:      tx.Status,
		BlockNumber: block,
	}
	if err := t.events.PublishJSON(eventType, payload); err != nil {
		t.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}

func (t *TxTracker) refreshPending(ctx context.Context) {
	n, err := t.store.CountPendingTransactions(ctx)
	if err != nil {
		return
	}
	metrics.SetPending(n)
}
