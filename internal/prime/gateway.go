// Package prime implements provider.Gateway on Coinbase Prime. Prime has
// no vault accounts, so a vault is modeled as the set of portfolio wallets
// named "<vaultId>-<symbol>".
package prime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/coinbase-samples/core-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// API is the subset of Service the gateway uses.
type API interface {
	ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]Wallet, error)
	CreateWallet(ctx context.Context, portfolioId, name, symbol, walletType string) (string, error)
	CreateDepositAddress(ctx context.Context, portfolioId, walletId, network string) (string, error)
	GetWalletBalance(ctx context.Context, portfolioId, walletId string) (*WalletBalance, error)
	CreateWithdrawal(ctx context.Context, params WithdrawalParams) (string, error)
	CreateTransfer(ctx context.Context, params TransferParams) (string, error)
}

var _ API = (*Service)(nil)
var _ provider.Gateway = (*Gateway)(nil)

// submittedStatus is reported for accepted transfers; Prime only returns an activity id.
const submittedStatus = "SUBMITTED"

var errWalletMissing = errors.New("wallet not found in portfolio")

type Gateway struct {
	api         API
	catalog     *assets.Catalog
	portfolioId string
	walletType  string

	mu        sync.Mutex
	walletIds map[string]string // wallet name -> id
}

func NewGateway(api API, catalog *assets.Catalog, portfolioId, walletType string) *Gateway {
	if walletType == "" {
		walletType = "VAULT"
	}
	return &Gateway{
		api:         api,
		catalog:     catalog,
		portfolioId: portfolioId,
		walletType:  walletType,
		walletIds:   map[string]string{},
	}
}

func (g *Gateway) Name() string { return models.ProviderPrime }

func walletName(vaultId, symbol string) string {
	return vaultId + "-" + symbol
}

// networkOf splits a catalog network into Prime's network id and type,
// e.g. "ethereum" -> ("ethereum", "mainnet").
func networkOf(network string) (string, string) {
	if id, typ, ok := strings.Cut(network, "-"); ok {
		return id, typ
	}
	return network, "mainnet"
}

func (g *Gateway) describe(op, symbol string) (assets.Asset, string, error) {
	a, err := g.catalog.Describe(symbol)
	if err != nil {
		return assets.Asset{}, "", provider.NewRejected(op, "unsupported_asset", err.Error())
	}
	id, err := g.catalog.ProviderAssetId(a.Symbol, models.ProviderPrime)
	if err != nil {
		return assets.Asset{}, "", provider.NewRejected(op, "unsupported_asset", err.Error())
	}
	return a, id, nil
}

// walletFor resolves the portfolio wallet backing (vaultId, symbol).
func (g *Gateway) walletFor(ctx context.Context, op, vaultId string, a assets.Asset, primeSymbol string) (string, error) {
	name := walletName(vaultId, a.Symbol)

	g.mu.Lock()
	id, ok := g.walletIds[name]
	g.mu.Unlock()
	if ok {
		return id, nil
	}

	list, err := g.api.ListWallets(ctx, g.portfolioId, g.walletType, []string{primeSymbol})
	if err != nil {
		return "", classify(op, err)
	}
	for _, w := range list {
		if w.Name == name {
			g.mu.Lock()
			g.walletIds[name] = w.Id
			g.mu.Unlock()
			return w.Id, nil
		}
	}
	return "", errWalletMissing
}

func (g *Gateway) requireWallet(ctx context.Context, op, vaultId string, a assets.Asset, primeSymbol string) (string, error) {
	id, err := g.walletFor(ctx, op, vaultId, a, primeSymbol)
	if errors.Is(err, errWalletMissing) {
		return "", provider.NewRejected(op, "not_found", fmt.Sprintf("no %s wallet for vault %s", a.Symbol, vaultId))
	}
	return id, err
}

// CreateVaultAccount only reserves a naming prefix; wallets are created per asset.
func (g *Gateway) CreateVaultAccount(ctx context.Context, label string) (string, error) {
	if label == "" {
		return "", provider.NewRejected("create_vault_account", "invalid_label", "vault label is empty")
	}
	zap.L().Info("Using Prime wallet prefix as vault", zap.String("vault_id", label))
	return label, nil
}

func (g *Gateway) CreateAssetAddress(ctx context.Context, vaultId, asset string) (provider.AddressResult, error) {
	const op = "create_asset_address"
	a, primeSymbol, err := g.describe(op, asset)
	if err != nil {
		return provider.AddressResult{}, err
	}

	_, err = g.walletFor(ctx, op, vaultId, a, primeSymbol)
	switch {
	case err == nil:
		return provider.AddressResult{Outcome: provider.AlreadyExists}, nil
	case !errors.Is(err, errWalletMissing):
		return provider.AddressResult{}, err
	}

	activityId, err := g.api.CreateWallet(ctx, g.portfolioId, walletName(vaultId, a.Symbol), primeSymbol, g.walletType)
	if err != nil {
		return provider.AddressResult{}, classify(op, err)
	}
	zap.L().Info("Created Prime wallet",
		zap.String("vault_id", vaultId),
		zap.String("asset", a.Symbol),
		zap.String("activity_id", activityId))

	walletId, err := g.walletFor(ctx, op, vaultId, a, primeSymbol)
	if errors.Is(err, errWalletMissing) {
		return provider.AddressResult{}, provider.NewUnavailable(op, errors.New("created wallet is not listed yet"))
	}
	if err != nil {
		return provider.AddressResult{}, err
	}

	network, _ := networkOf(a.Network)
	addr, err := g.api.CreateDepositAddress(ctx, g.portfolioId, walletId, network)
	if err != nil {
		return provider.AddressResult{}, classify(op, err)
	}
	return provider.AddressResult{Outcome: provider.Created, Address: addr}, nil
}

func (g *Gateway) GenerateAddress(ctx context.Context, vaultId, asset string) (string, error) {
	const op = "generate_address"
	a, primeSymbol, err := g.describe(op, asset)
	if err != nil {
		return "", err
	}
	walletId, err := g.requireWallet(ctx, op, vaultId, a, primeSymbol)
	if err != nil {
		return "", err
	}
	network, _ := networkOf(a.Network)
	addr, err := g.api.CreateDepositAddress(ctx, g.portfolioId, walletId, network)
	if err != nil {
		return "", classify(op, err)
	}
	return addr, nil
}

func (g *Gateway) GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error) {
	const op = "get_balance"
	a, primeSymbol, err := g.describe(op, asset)
	if err != nil {
		return models.AssetBalance{}, err
	}
	walletId, err := g.requireWallet(ctx, op, vaultId, a, primeSymbol)
	if err != nil {
		return models.AssetBalance{}, err
	}
	bal, err := g.api.GetWalletBalance(ctx, g.portfolioId, walletId)
	if err != nil {
		return models.AssetBalance{}, classify(op, err)
	}

	total, err := parseAmount(bal.Amount)
	if err != nil {
		return models.AssetBalance{}, provider.NewUnavailable(op, err)
	}
	holds, err := parseAmount(bal.Holds)
	if err != nil {
		return models.AssetBalance{}, provider.NewUnavailable(op, err)
	}
	return models.AssetBalance{Balance: total, Pending: holds, Available: total.Sub(holds)}, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed amount %q: %w", s, err)
	}
	return d, nil
}

func (g *Gateway) CreateExternalTransfer(ctx context.Context, p provider.ExternalTransferParams) (models.TransferResult, error) {
	const op = "external_transfer"
	a, primeSymbol, err := g.describe(op, p.Asset)
	if err != nil {
		return models.TransferResult{}, err
	}
	walletId, err := g.requireWallet(ctx, op, p.VaultId, a, primeSymbol)
	if err != nil {
		return models.TransferResult{}, err
	}

	networkId, networkType := networkOf(a.Network)
	activityId, err := g.api.CreateWithdrawal(ctx, WithdrawalParams{
		PortfolioId:        g.portfolioId,
		WalletId:           walletId,
		DestinationAddress: p.DestinationAddress,
		Amount:             p.Amount.String(),
		Symbol:             primeSymbol,
		NetworkId:          networkId,
		NetworkType:        networkType,
		IdempotencyKey:     p.IdempotencyKey,
	})
	if err != nil {
		return models.TransferResult{}, classify(op, err)
	}
	return models.TransferResult{ProviderTxId: activityId, Status: submittedStatus}, nil
}

func (g *Gateway) CreateVaultToVaultTransfer(ctx context.Context, p provider.VaultTransferParams) (models.TransferResult, error) {
	const op = "vault_transfer"
	a, primeSymbol, err := g.describe(op, p.Asset)
	if err != nil {
		return models.TransferResult{}, err
	}
	source, err := g.requireWallet(ctx, op, p.SourceVaultId, a, primeSymbol)
	if err != nil {
		return models.TransferResult{}, err
	}
	dest, err := g.requireWallet(ctx, op, p.DestVaultId, a, primeSymbol)
	if err != nil {
		return models.TransferResult{}, err
	}

	activityId, err := g.api.CreateTransfer(ctx, TransferParams{
		PortfolioId:         g.portfolioId,
		SourceWalletId:      source,
		DestinationWalletId: dest,
		Amount:              p.Amount.String(),
		Symbol:              primeSymbol,
		IdempotencyKey:      p.IdempotencyKey,
	})
	if err != nil {
		return models.TransferResult{}, classify(op, err)
	}
	return models.TransferResult{ProviderTxId: activityId, Status: submittedStatus}, nil
}

func (g *Gateway) EstimateFee(ctx context.Context, asset string, amount decimal.Decimal) (models.FeeTiers, error) {
	return models.FeeTiers{}, provider.NewRejected("estimate_fee", "unsupported", "fee estimation is not available on Prime")
}

func (g *Gateway) GetTransfer(ctx context.Context, providerTxId string) (models.TransferStatus, error) {
	return models.TransferStatus{}, provider.NewRejected("get_transfer", "unsupported", "transfer status lookup is not available on Prime")
}

// classify maps an SDK failure onto the provider error kinds. The SDK reports
// HTTP failures as *core.ApiError; a zero status means the request never got
// a response.
func classify(op string, err error) error {
	var apiErr *core.ApiError
	if !errors.As(err, &apiErr) || apiErr.CodeReceived == 0 {
		return provider.Classify(op, err)
	}
	code := fmt.Sprintf("http_%d", apiErr.CodeReceived)
	switch {
	case apiErr.CodeReceived == http.StatusUnauthorized || apiErr.CodeReceived == http.StatusForbidden:
		return &provider.Error{Kind: provider.Auth, Op: op, Code: code, Message: apiErr.Message}
	case apiErr.CodeReceived >= 500:
		return &provider.Error{Kind: provider.Unavailable, Op: op, Code: code, Message: apiErr.Message, Err: err}
	default:
		return provider.NewRejected(op, code, apiErr.Message)
	}
}
