package main

import (
	"context"
	"flag"
	"strings"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/models"

	"go.uber.org/zap"
)

func printWallet(w *models.Wallet) {
	common.PrintField("Wallet ID", "%s", w.Id)
	common.PrintField("Vault", "%s", w.VaultId)
	common.PrintField("Asset", "%s (%s)", w.Currency, w.Network)
	common.PrintField("Address", "%s", w.Address)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User email, username or id (required)")
	assetFlag := flag.String("asset", "", "Asset symbol; omit to only ensure the vault")
	regenerateFlag := flag.Bool("regenerate", false, "Replace the wallet's deposit address with a new one")
	createFlag := flag.Bool("create", false, "Create the vault and fail if the user already has one")
	flag.Parse()

	if *userFlag == "" {
		zap.L().Fatal("Flag is required: --user")
	}
	if *regenerateFlag && *assetFlag == "" {
		zap.L().Fatal("--regenerate needs --asset")
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	user, err := common.FindUser(ctx, services.DbService, *userFlag)
	if err != nil {
		zap.L().Fatal("User not found", zap.String("user", *userFlag), zap.Error(err))
	}

	if *assetFlag == "" {
		ensure := services.Vaults.EnsureVault
		if *createFlag {
			ensure = services.Vaults.CreateVault
		}
		vaultId, err := ensure(ctx, user.Id)
		if err != nil {
			zap.L().Fatal("Failed to ensure vault", zap.String("user_id", user.Id), zap.Error(err))
		}
		common.PrintHeader("VAULT", common.DefaultWidth)
		common.PrintField("User", "%s (%s)", user.DisplayName(), user.Email)
		common.PrintField("Vault", "%s", vaultId)
		common.PrintSeparator("=", common.DefaultWidth)
		return
	}

	symbol := strings.ToUpper(*assetFlag)
	w, err := services.Wallets.EnsureWallet(ctx, user.Id, symbol)
	if err != nil {
		zap.L().Fatal("Failed to ensure wallet",
			zap.String("user_id", user.Id),
			zap.String("asset", symbol),
			zap.Error(err))
	}

	if !*regenerateFlag {
		common.PrintHeader("WALLET", common.DefaultWidth)
		common.PrintField("User", "%s (%s)", user.DisplayName(), user.Email)
		printWallet(w)
		common.PrintSeparator("=", common.DefaultWidth)
		return
	}

	previous := w.Address
	updated, err := services.Wallets.RegenerateAddress(ctx, user.Id, w.Id)
	if err != nil {
		zap.L().Fatal("Failed to regenerate address", zap.String("wallet_id", w.Id), zap.Error(err))
	}
	common.PrintHeader("WALLET ADDRESS REGENERATED", common.DefaultWidth)
	common.PrintField("User", "%s (%s)", user.DisplayName(), user.Email)
	printWallet(updated)
	common.PrintField("Previous address", "%s", previous)
	common.PrintSeparator("=", common.DefaultWidth)
}
