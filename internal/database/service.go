/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: *Service must satisfy every store interface.
var (
	_ store.UserStore           = (*Service)(nil)
	_ store.VaultStore          = (*Service)(nil)
	_ store.WalletStore         = (*Service)(nil)
	_ store.LedgerStore         = (*Service)(nil)
	_ store.ReconciliationStore = (*Service)(nil)
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	// Immediate transactions take the write lock up front so concurrent
	// writers queue on the busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate",
		cfg.Path, busyTimeout.Milliseconds())

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// Ping checks that the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		username TEXT UNIQUE,
		privacy_id TEXT NOT NULL UNIQUE,
		email_verified BOOLEAN NOT NULL DEFAULT 0,
		has_vault BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- One row while a worker is creating the provider vault for a user
	CREATE TABLE IF NOT EXISTS vault_claims (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		token TEXT NOT NULL,
		claimed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vaults (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		vault_id TEXT NOT NULL REFERENCES vaults(vault_id),
		address TEXT NOT NULL,
		currency TEXT NOT NULL,
		network TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, currency, network)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_address ON wallets(currency, network, address);

	-- Append-only ledger; amounts are decimal strings
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_id TEXT,
		provider TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('crypto_in', 'crypto_out', 'internal_in', 'internal_out', 'fiat_in', 'fiat_out', 'swap')),
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'failed', 'canceled')),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		fee_amount TEXT,
		fee_currency TEXT,
		balance_after TEXT,
		description TEXT,
		group_id TEXT,
		idempotency_key TEXT,
		provider_ref_id TEXT,
		chain TEXT,
		tx_hash TEXT,
		address_from TEXT,
		address_to TEXT,
		counterparty_user TEXT,
		iban_from TEXT,
		iban_to TEXT,
		payment_method TEXT,
		merchant_name TEXT,
		card_last4 TEXT,
		original_amount TEXT,
		original_currency TEXT,
		fx_rate TEXT,
		pay_amount TEXT,
		pay_currency TEXT,
		receive_amount TEXT,
		receive_currency TEXT,
		meta TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_wallet_created ON transactions(wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_provider_ref ON transactions(provider, provider_ref_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_ref ON transactions(provider_ref_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_group ON transactions(group_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_status ON transactions(type, status);
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency ON transactions(idempotency_key);

	-- A provider reference produces at most one row per leg
	CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_provider_leg
		ON transactions(provider, provider_ref_id, type, user_id)
		WHERE provider_ref_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reconciliation_items (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		provider_ref_id TEXT NOT NULL,
		idempotency_key TEXT,
		payload BLOB NOT NULL,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_open ON reconciliation_items(resolved_at, created_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}
