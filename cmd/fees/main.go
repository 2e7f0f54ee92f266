package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	callerFlag := flag.String("caller", "cli", "Caller id the rate limit is keyed on")
	assetFlag := flag.String("asset", "", "Asset symbol (required)")
	amountFlag := flag.String("amount", "", "Amount to send (required)")
	toFlag := flag.String("to", "", "Destination address (required)")
	jsonFlag := flag.Bool("json", false, "Print the quote as JSON")
	flag.Parse()

	if *assetFlag == "" || *amountFlag == "" || *toFlag == "" {
		zap.L().Fatal("Flags are required: --asset, --amount, --to")
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		zap.L().Fatal("Invalid amount", zap.Error(err))
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

	quote, err := services.Fees.Estimate(ctx, *callerFlag, strings.ToUpper(*assetFlag), amount, *toFlag)
	if err != nil {
		zap.L().Fatal("Fee estimate failed", zap.Error(err))
	}

	if *jsonFlag {
		out, err := json.MarshalIndent(quote, "", "  ")
		if err != nil {
			zap.L().Fatal("Failed to encode quote", zap.Error(err))
		}
		fmt.Println(string(out))
		return
	}

	common.PrintHeader(fmt.Sprintf("FEE ESTIMATE: %s %s", amount.String(), quote.Asset), common.DefaultWidth)
	common.PrintField("Low", "%s %s", quote.Low.String(), quote.Units)
	common.PrintField("Medium", "%s %s", quote.Medium.String(), quote.Units)
	common.PrintField("High", "%s %s", quote.High.String(), quote.Units)
	common.PrintField("ETA", "~%ds", quote.EtaSeconds)
	common.PrintField("Quoted At", "%s", quote.QuotedAt.Format("2006-01-02 15:04:05 MST"))
	common.PrintSeparator("=", common.DefaultWidth)
}
