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

	"custody-wallet-go/internal/api"
	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	totalBalances     int
	usersWithBalances int
	failedLookups     int
}

func printUserHeader(user common.UserInfo, walletCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s\n", user.Id)
	fmt.Printf("│  Assets: %d\n", walletCount)
	common.PrintBoxSeparator(78)
}

func printBalance(b api.WalletBalance, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	if b.Err != nil {
		fmt.Printf("%s %-15s: %20s (%v)\n", symbol, b.Wallet.Currency, "unavailable", b.Err)
		return
	}

	fmt.Printf("%s %-15s: %20s (available: %s, pending: %s)\n",
		symbol,
		b.Wallet.Currency,
		b.Balance.Balance.String(),
		b.Balance.Available.String(),
		b.Balance.Pending.String())
	if b.Mirrored != nil {
		fmt.Printf("%s %-15s  %20s (ledger mirror)\n", common.BoxDetailPrefix(isLast), "", b.Mirrored.String())
	}
}

func printHistory(txs []models.Transaction) {
	if len(txs) == 0 {
		return
	}
	fmt.Println("│  Recent transactions:")
	for i, tx := range txs {
		fmt.Printf("%s %s %-13s %-10s %s %s\n",
			common.BoxPrefix(i == len(txs)-1),
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.Type, tx.Status, tx.Amount.String(), tx.Currency)
	}
}

func processUser(ctx context.Context, ledger *api.LedgerService, user common.UserInfo, historyLimit int, stats *balanceStats) error {
	balances, err := ledger.GetUserBalances(ctx, user.Id)
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		return nil
	}

	printUserHeader(user, len(balances))
	for i, b := range balances {
		printBalance(b, i == len(balances)-1)
		if b.Err != nil {
			stats.failedLookups++
			continue
		}
		stats.totalBalances++
	}
	stats.usersWithBalances++

	if historyLimit > 0 {
		txs, err := ledger.GetTransactionHistory(ctx, user.Id, historyLimit, 0)
		if err != nil {
			return err
		}
		printHistory(txs)
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	historyFlag := flag.Int("history", 0, "Also show this many recent ledger rows per user")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.Ledger.HealthCheck(ctx); err != nil {
		logger.Fatal("Ledger store is not reachable", zap.Error(err))
	}

	users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, user := range users {
		stats.totalUsers++
		if err := processUser(ctx, services.Ledger, user, *historyFlag, &stats); err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d users with balances (%d balances, %d lookups failed, %d users queried)",
		stats.usersWithBalances, stats.totalBalances, stats.failedLookups, stats.totalUsers)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int("total_balances", stats.totalBalances))
}
