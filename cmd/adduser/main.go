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
	"regexp"
	"strings"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)
)

type generationStats struct {
	successCount int
	failedAssets []string
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return nil
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username must be 3-32 lowercase letters, digits or underscores: %s", username)
	}
	return nil
}

func generateWalletsForUser(ctx context.Context, services *common.Services, user *models.User) generationStats {
	symbols := services.Catalog.Symbols()
	fmt.Printf("Provisioning wallets for %d assets...\n\n", len(symbols))

	stats := generationStats{failedAssets: []string{}}
	for _, symbol := range symbols {
		w, err := services.Wallets.EnsureWallet(ctx, user.Id, symbol)
		if err != nil {
			zap.L().Error("Failed to provision wallet",
				zap.String("asset", symbol),
				zap.Error(err))
			fmt.Printf("✗ %s: %v\n", symbol, err)
			stats.failedAssets = append(stats.failedAssets, symbol)
			continue
		}
		fmt.Printf("✓ %s: %s\n", symbol, w.Address)
		stats.successCount++
	}
	return stats
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	usernameFlag := flag.String("username", "", "Unique username for internal transfers (optional)")
	verifiedFlag := flag.Bool("verified", false, "Mark the email as verified")
	provisionFlag := flag.Bool("provision", true, "Create the vault and a wallet for every catalog asset")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	username := strings.ToLower(strings.TrimSpace(*usernameFlag))
	if err := validateUsername(username); err != nil {
		zap.L().Fatal("Invalid username", zap.Error(err))
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	var services *common.Services
	var users store.UserStore
	if *provisionFlag {
		services, err = common.InitializeServices(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize services", zap.Error(err))
		}
		defer services.Close()
		users = services.DbService
	} else {
		dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize database", zap.Error(err))
		}
		defer dbService.Close()
		users = dbService
	}

	user, err := users.CreateUser(ctx, store.CreateUserParams{
		Id:            uuid.New().String(),
		Name:          *nameFlag,
		Email:         *emailFlag,
		Username:      username,
		EmailVerified: *verifiedFlag,
	})
	if err != nil {
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	common.PrintHeader("USER CREATED", common.DefaultWidth)
	common.PrintField("ID", "%s", user.Id)
	common.PrintField("Name", "%s", user.Name)
	common.PrintField("Email", "%s (verified: %t)", user.Email, user.EmailVerified)
	common.PrintField("Username", "%s", models.Deref(user.Username))
	common.PrintField("Privacy ID", "%s", user.PrivacyId)
	common.PrintSeparator("=", common.DefaultWidth)

	if services == nil {
		fmt.Println("Wallets not provisioned. Run setup to create them.")
		return
	}

	stats := generateWalletsForUser(ctx, services, user)

	fmt.Println()
	common.PrintHeader("WALLET PROVISIONING SUMMARY", common.DefaultWidth)
	common.PrintField("Total Assets", "%d", stats.successCount+len(stats.failedAssets))
	common.PrintField("Successful", "%d", stats.successCount)
	common.PrintField("Failed", "%d", len(stats.failedAssets))
	if len(stats.failedAssets) > 0 {
		common.PrintField("Failed Assets", "%s", strings.Join(stats.failedAssets, ", "))
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	if len(stats.failedAssets) > 0 {
		zap.L().Warn("User created but some wallets failed to provision",
			zap.String("user_id", user.Id),
			zap.Int("successful", stats.successCount),
			zap.Strings("failed_assets", stats.failedAssets))
		fmt.Println("You can re-run setup to retry: go run ./cmd/setup")
	} else {
		zap.L().Info("User and all wallets created successfully",
			zap.String("user_id", user.Id),
			zap.Int("wallets", stats.successCount))
	}
}
