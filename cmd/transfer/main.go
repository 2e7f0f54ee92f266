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
	"errors"
	"flag"
	"fmt"
	"strings"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	modeInternal = "internal"
	modeDonate   = "donate"
	modeExternal = "external"
)

type transferRequest struct {
	mode           string
	user           string
	walletId       string
	asset          string
	amount         decimal.Decimal
	to             string
	idempotencyKey string
	note           string
}

func parseAndValidateFlags() (*transferRequest, error) {
	modeFlag := flag.String("mode", modeInternal, "Transfer kind: internal, donate or external")
	userFlag := flag.String("user", "", "Sender email, username or id (required)")
	walletFlag := flag.String("wallet", "", "Source wallet id (default: the sender's wallet for --asset)")
	assetFlag := flag.String("asset", "", "Asset symbol (e.g., BTC, ETH, USDT_ERC20) (required)")
	amountFlag := flag.String("amount", "", "Amount to send (required)")
	toFlag := flag.String("to", "", "Recipient privacy id or username (internal) or destination address (external)")
	keyFlag := flag.String("key", "", "Idempotency key; reuse it to retry safely (default: new key)")
	noteFlag := flag.String("note", "", "Optional note")
	flag.Parse()

	mode := strings.ToLower(*modeFlag)
	if mode != modeInternal && mode != modeDonate && mode != modeExternal {
		return nil, fmt.Errorf("invalid --mode %q: want internal, donate or external", *modeFlag)
	}
	if *userFlag == "" || *assetFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("flags are required: --user, --asset, --amount")
	}
	if mode != modeDonate && *toFlag == "" {
		return nil, fmt.Errorf("--to is required for %s transfers", mode)
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	key := *keyFlag
	if key == "" {
		key = transfer.NewIdempotencyKey()
	}

	return &transferRequest{
		mode:           mode,
		user:           *userFlag,
		walletId:       *walletFlag,
		asset:          strings.ToUpper(*assetFlag),
		amount:         amount,
		to:             *toFlag,
		idempotencyKey: key,
		note:           *noteFlag,
	}, nil
}

func execute(ctx context.Context, services *common.Services, userId, walletId string, req *transferRequest) (*transfer.Result, error) {
	switch req.mode {
	case modeDonate:
		return services.Orchestrator.Donate(ctx, transfer.DonationRequest{
			UserId:         userId,
			WalletId:       walletId,
			Asset:          req.asset,
			Amount:         req.amount,
			IdempotencyKey: req.idempotencyKey,
			Note:           req.note,
		})
	case modeExternal:
		return services.Orchestrator.External(ctx, transfer.ExternalRequest{
			UserId:         userId,
			WalletId:       walletId,
			Asset:          req.asset,
			Amount:         req.amount,
			Destination:    req.to,
			IdempotencyKey: req.idempotencyKey,
			Note:           req.note,
		})
	default:
		return services.Orchestrator.Internal(ctx, transfer.InternalRequest{
			UserId:         userId,
			WalletId:       walletId,
			Asset:          req.asset,
			Amount:         req.amount,
			Recipient:      req.to,
			IdempotencyKey: req.idempotencyKey,
			Note:           req.note,
		})
	}
}

func printFailure(req *transferRequest, err error) {
	common.PrintHeader("TRANSFER FAILED", common.DefaultWidth)
	common.PrintField("Mode", "%s", req.mode)
	common.PrintField("Asset", "%s", req.asset)
	common.PrintField("Amount", "%s", req.amount.String())
	common.PrintField("Idempotency Key", "%s", req.idempotencyKey)
	common.PrintField("Error", "%v", err)
	var failure *transfer.ProviderFailure
	switch {
	case errors.Is(err, models.ErrReconciliationRequired):
		fmt.Println("The provider accepted the transfer; the listener will record it.")
	case errors.As(err, &failure):
		fmt.Printf("Retry with --key %s to avoid a duplicate transfer.\n", failure.IdempotencyKey)
	case !models.IsClientError(err):
		fmt.Println("Retry with the same --key to avoid a duplicate transfer.")
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func printResult(res *transfer.Result) {
	title := "TRANSFER SUBMITTED"
	if res.Replayed {
		title = "TRANSFER ALREADY RECORDED"
	}
	common.PrintHeader(title, common.DefaultWidth)
	common.PrintField("Route", "%s", res.Route)
	common.PrintField("Provider Tx", "%s (%s)", res.ProviderTxId, res.ProviderStatus)
	if res.GroupId != "" {
		common.PrintField("Group", "%s", res.GroupId)
	}
	common.PrintField("Idempotency Key", "%s", res.IdempotencyKey)
	for i, tx := range res.Transactions {
		balance := "n/a"
		if tx.BalanceAfter.Valid {
			balance = tx.BalanceAfter.Decimal.String()
		}
		fmt.Printf("%s %-13s %s %s (user %s, balance after %s)\n",
			common.BoxPrefix(i == len(res.Transactions)-1),
			tx.Type, tx.Amount.String(), tx.Currency, tx.UserId, balance)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting transfer",
		zap.String("mode", req.mode),
		zap.String("user", req.user),
		zap.String("asset", req.asset),
		zap.String("amount", req.amount.String()),
		zap.String("idempotency_key", req.idempotencyKey))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sender, err := common.FindUser(ctx, services.DbService, req.user)
	if err != nil {
		printFailure(req, err)
		zap.L().Fatal("Sender not found", zap.String("user", req.user), zap.Error(err))
	}

	walletId := req.walletId
	if walletId == "" {
		w, err := services.DbService.GetWallet(ctx, sender.Id, req.asset, cfg.Provider.NetworkTag)
		if err != nil {
			printFailure(req, err)
			zap.L().Fatal("Sender has no wallet for asset",
				zap.String("user_id", sender.Id),
				zap.String("asset", req.asset),
				zap.Error(err))
		}
		walletId = w.Id
	}

	res, err := execute(ctx, services, sender.Id, walletId, req)
	if err != nil {
		printFailure(req, err)
		zap.L().Fatal("Transfer failed",
			zap.String("idempotency_key", req.idempotencyKey),
			zap.Error(err))
	}

	printResult(res)
	zap.L().Info("Transfer completed",
		zap.String("route", string(res.Route)),
		zap.String("provider_tx_id", res.ProviderTxId),
		zap.Bool("replayed", res.Replayed))
}
