package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved is returned when a transaction left the pending state
// before the update landed.
var ErrAlreadyResolved = errors.New("transaction already resolved")

// DB is the local sqlite store of pending transactions.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Создаем таблицы
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Отправленные транзакции, ожидающие квитанции
		`CREATE TABLE IF NOT EXISTS pending_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hash TEXT UNIQUE NOT NULL,
            kind TEXT NOT NULL,
            account TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            poll_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            block_number INTEGER,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            resolved_at DATETIME,
            next_poll_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_pending_tx_status ON pending_transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_tx_account ON pending_transactions(account)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_tx_next_poll ON pending_transactions(next_poll_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the sqlite file path.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}
