package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"closer/internal/models"
)

const pendingTxColumns = `id, hash, kind, account, status, poll_count, last_error, block_number, created_at, resolved_at, next_poll_at`

func (db *DB) CreatePendingTransaction(ctx context.Context, tx *models.PendingTransaction) error {
	query := `INSERT INTO pending_transactions (hash, kind, account, status, poll_count, created_at, next_poll_at)
              VALUES (?, ?, ?, ?, 0, ?, ?)
              ON CONFLICT(hash) DO NOTHING`
	now := time.Now()
	if tx.Status == "" {
		tx.Status = models.TxStatusPending
	}
	result, err := db.ExecContext(ctx, query,
		strings.ToLower(tx.Hash),
		tx.Kind,
		strings.ToLower(tx.Account),
		tx.Status,
		now,
		tx.NextPollAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := db.GetPendingTransactionByHash(ctx, tx.Hash)
		if err != nil {
			return err
		}
		*tx = *existing
		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tx.ID = id
	tx.CreatedAt = now
	return nil
}

// GetPendingTransactions returns unresolved transactions that are due for a
// receipt poll, oldest first.
func (db *DB) GetPendingTransactions(ctx context.Context, limit int) ([]models.PendingTransaction, error) {
	query := `SELECT ` + pendingTxColumns + `
              FROM pending_transactions
              WHERE status = ? AND (next_poll_at IS NULL OR next_poll_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.TxStatusPending, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transactions: %w", err)
	}
	defer rows.Close()
	return scanPendingTransactions(rows)
}

// ListTransactions returns the most recent transactions, optionally filtered
// by account and status.
func (db *DB) ListTransactions(ctx context.Context, account, status string, limit int) ([]models.PendingTransaction, error) {
	query := `SELECT ` + pendingTxColumns + ` FROM pending_transactions WHERE 1=1`
	var args []interface{}
	if account != "" {
		query += ` AND account = ?`
		args = append(args, strings.ToLower(account))
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return scanPendingTransactions(rows)
}

func (db *DB) GetPendingTransactionByHash(ctx context.Context, hash string) (*models.PendingTransaction, error) {
	row := db.QueryRowContext(ctx, `SELECT `+pendingTxColumns+` FROM pending_transactions WHERE hash = ?`, strings.ToLower(hash))
	tx, err := scanPendingTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	return tx, nil
}

// UpdatePendingTransactionStatus moves a transaction to status. A pending
// status counts one more poll and schedules the next at nextPollAt; any
// other status resolves the transaction. Only pending rows are touched, so
// of two concurrent resolutions exactly one wins and the other gets
// ErrAlreadyResolved.
func (db *DB) UpdatePendingTransactionStatus(ctx context.Context, hash, status, errMsg string, block *uint64, nextPollAt *time.Time) error {
	var query string
	var args []interface{}
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	switch status {
	case models.TxStatusPending:
		query = `UPDATE pending_transactions SET last_error = ?, next_poll_at = ?, poll_count = poll_count + 1 WHERE hash = ? AND status = ?`
		args = []interface{}{lastErr, nextPollAt, strings.ToLower(hash), models.TxStatusPending}
	default:
		now := time.Now()
		query = `UPDATE pending_transactions SET status = ?, last_error = ?, block_number = ?, next_poll_at = NULL, resolved_at = ? WHERE hash = ? AND status = ?`
		args = []interface{}{status, lastErr, block, &now, strings.ToLower(hash), models.TxStatusPending}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return db.missingOrResolved(ctx, hash)
	}
	return nil
}

func (db *DB) missingOrResolved(ctx context.Context, hash string) error {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM pending_transactions WHERE hash = ?`, strings.ToLower(hash)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load transaction status: %w", err)
	}
	return ErrAlreadyResolved
}

func (db *DB) CountPendingTransactions(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_transactions WHERE status = ?`, models.TxStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}

// DeleteResolvedBefore drops resolved transactions older than cutoff.
func (db *DB) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM pending_transactions WHERE status != ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		models.TxStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved transactions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingTransaction(row rowScanner) (*models.PendingTransaction, error) {
	var t models.PendingTransaction
	var block sql.NullInt64
	err := row.Scan(&t.ID, &t.Hash, &t.Kind, &t.Account, &t.Status, &t.PollCount, &t.LastError, &block, &t.CreatedAt, &t.ResolvedAt, &t.NextPollAt)
	if err != nil {
		return nil, err
	}
	if block.Valid {
		b := uint64(block.Int64)
		t.BlockNumber = &b
	}
	return &t, nil
}

func scanPendingTransactions(rows *sql.Rows) ([]models.PendingTransaction, error) {
	var out []models.PendingTransaction
	for rows.Next() {
		t, err := scanPendingTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
