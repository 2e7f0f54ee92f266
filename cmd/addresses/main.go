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

package main

import (
	"context"
	"flag"
	"fmt"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"go.uber.org/zap"
)

type reportStats struct {
	totalUsers       int
	totalWallets     int
	usersWithWallets int
}

func printUserHeader(user common.UserInfo, walletCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s  Privacy ID: %s\n", user.Id, user.PrivacyId)
	if user.Username != "" {
		fmt.Printf("│  Username: %s\n", user.Username)
	}
	fmt.Printf("│  Wallets: %d\n", walletCount)
	common.PrintBoxSeparator(98)
}

func printWallets(wallets []models.Wallet) {
	for i, w := range wallets {
		isLast := i == len(wallets)-1
		assetNetwork := fmt.Sprintf("%s-%s", w.Currency, w.Network)
		fmt.Printf("%s %-30s → %s\n", common.BoxPrefix(isLast), assetNetwork, w.Address)
		fmt.Printf("%s   Wallet ID: %s  Vault: %s\n", common.BoxDetailPrefix(isLast), w.Id, w.VaultId)
	}
}

func processUser(ctx context.Context, user common.UserInfo, walletStore store.WalletStore) (int, error) {
	wallets, err := walletStore.ListWallets(ctx, user.Id)
	if err != nil {
		return 0, fmt.Errorf("failed to get wallets: %w", err)
	}

	if len(wallets) == 0 {
		return 0, nil
	}

	printUserHeader(user, len(wallets))
	printWallets(wallets)

	return len(wallets), nil
}

func processUsersAndGenerateReport(ctx context.Context, users []common.UserInfo, walletStore store.WalletStore, logger *zap.Logger) reportStats {
	stats := reportStats{}

	for _, user := range users {
		stats.totalUsers++

		walletCount, err := processUser(ctx, user, walletStore)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}

		if walletCount > 0 {
			stats.usersWithWallets++
			stats.totalWallets += walletCount
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	flag.Parse()

	logger.Info("Starting address query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no custody backend needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("DEPOSIT ADDRESSES REPORT", common.WideWidth)

	stats := processUsersAndGenerateReport(ctx, users, dbService, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with wallets (%d total wallets across %d users queried)",
		stats.usersWithWallets, stats.totalWallets, stats.totalUsers)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Address query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_wallets", stats.usersWithWallets),
		zap.Int("total_wallets", stats.totalWallets))
}
