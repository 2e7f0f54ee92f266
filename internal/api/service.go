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

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/shopspring/decimal"
)

// Wallets lists a user's provisioned wallets.
type Wallets interface {
	ListWallets(ctx context.Context, userId string) ([]models.Wallet, error)
}

// History reads a user's ledger rows, newest first.
type History interface {
	History(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
}

// Mirror reads a user's balance from an external ledger mirror.
type Mirror interface {
	UserBalance(ctx context.Context, userId string, asset assets.Asset) (decimal.Decimal, error)
}

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerServiceConfig contains the read-side dependencies.
type LedgerServiceConfig struct {
	Store   Pinger
	Wallets Wallets
	History History
	Gateway provider.Gateway
	Catalog *assets.Catalog
	// Mirror is optional.
	Mirror Mirror
}

// LedgerService answers balance and history queries for the command line tools
type LedgerService struct {
	store   Pinger
	wallets Wallets
	history History
	gateway provider.Gateway
	catalog *assets.Catalog
	mirror  Mirror
}

func NewLedgerService(cfg LedgerServiceConfig) *LedgerService {
	return &LedgerService{
		store:   cfg.Store,
		wallets: cfg.Wallets,
		history: cfg.History,
		gateway: cfg.Gateway,
		catalog: cfg.Catalog,
		mirror:  cfg.Mirror,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
