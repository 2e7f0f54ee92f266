package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"

	"go.uber.org/zap"
)

// selectAssets returns the catalog symbols named in filter, or all of them.
func selectAssets(services *common.Services, filter string) ([]string, error) {
	if filter == "" {
		return services.Catalog.Symbols(), nil
	}
	var symbols []string
	for _, part := range strings.Split(filter, ",") {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol == "" {
			continue
		}
		if _, err := services.Catalog.Describe(symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

// provisionUserAsset ensures one user has a wallet for one asset. The
// registry reuses existing rows, so reruns only fill in what is missing.
func provisionUserAsset(ctx context.Context, services *common.Services, user common.UserInfo, symbol string) error {
	zap.L().Info("Processing asset",
		zap.String("user_id", user.Id),
		zap.String("asset", symbol))

	w, err := services.Wallets.EnsureWallet(ctx, user.Id, symbol)
	if err != nil {
		zap.L().Error("Error provisioning wallet",
			zap.String("user_id", user.Id),
			zap.String("asset", symbol),
			zap.Error(err))
		return err
	}

	zap.L().Info("Wallet ready",
		zap.String("wallet_id", w.Id),
		zap.String("asset", symbol),
		zap.String("address", w.Address))
	return nil
}

func generateWallets(ctx context.Context, services *common.Services, users []common.UserInfo, symbols []string) {
	var total, failed int
	var failedAssets []string

	for _, user := range users {
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.String("name", user.Name),
			zap.String("email", user.Email))

		for _, symbol := range symbols {
			if err := provisionUserAsset(ctx, services, user, symbol); err != nil {
				failed++
				failedAssets = append(failedAssets, fmt.Sprintf("%s/%s", user.Name, symbol))
				continue
			}
			total++
		}
	}

	if failed > 0 {
		zap.L().Warn("Wallet provisioning completed with some failures",
			zap.Int("wallets_ready", total),
			zap.Int("failed", failed),
			zap.Strings("failed_user_assets", failedAssets))
	} else {
		zap.L().Info("Wallet provisioning completed successfully",
			zap.Int("wallets_ready", total))
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Only provision this user (optional)")
	assetsFlag := flag.String("assets", "", "Comma separated asset symbols (default: every catalog asset)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	symbols, err := selectAssets(services, *assetsFlag)
	if err != nil {
		zap.L().Fatal("Invalid asset selection", zap.Error(err))
	}

	users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	generateWallets(ctx, services, users, symbols)
}
