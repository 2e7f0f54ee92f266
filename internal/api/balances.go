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

package api

import (
	"context"
	"fmt"

	"custody-wallet-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// WalletBalance is one wallet with its provider balance. Err is set when the
// provider lookup failed; the other wallets are still reported.
type WalletBalance struct {
	Wallet   models.Wallet
	Balance  models.AssetBalance
	Err      error
	Mirrored *decimal.Decimal
}

// GetUserBalances reads the provider balance of every wallet the user holds.
// Balances are best effort: a failed lookup is reported on its entry.
func (s *LedgerService) GetUserBalances(ctx context.Context, userId string) ([]WalletBalance, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	wallets, err := s.wallets.ListWallets(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to list user wallets", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve wallets: %w", err)
	}

	result := make([]WalletBalance, len(wallets))
	for i, w := range wallets {
		result[i].Wallet = w
		result[i].Balance, result[i].Err = s.gateway.GetBalance(ctx, w.VaultId, w.Currency)
		if result[i].Err != nil {
			zap.L().Warn("Failed to read provider balance",
				zap.String("wallet_id", w.Id),
				zap.String("asset", w.Currency),
				zap.Error(result[i].Err))
		}
		result[i].Mirrored = s.mirroredBalance(ctx, userId, w.Currency)
	}
	return result, nil
}

func (s *LedgerService) mirroredBalance(ctx context.Context, userId, symbol string) *decimal.Decimal {
	if s.mirror == nil {
		return nil
	}
	asset, err := s.catalog.Describe(symbol)
	if err != nil {
		return nil
	}
	balance, err := s.mirror.UserBalance(ctx, userId, asset)
	if err != nil {
		zap.L().Warn("Failed to read mirrored balance",
			zap.String("user_id", userId),
			zap.String("asset", symbol),
			zap.Error(err))
		return nil
	}
	return &balance
}

// GetTransactionHistory returns a page of the user's ledger rows, newest first
func (s *LedgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.history.History(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("user_id", userId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}
	return transactions, nil
}
