package assets

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"custody-wallet-go/internal/models"

	"github.com/shopspring/decimal"
)

// Format selects the address validator for an asset.
type Format string

const (
	FormatBitcoin        Format = "bitcoin"
	FormatBitcoinTestnet Format = "bitcoin-testnet"
	FormatEVM            Format = "evm"
	FormatTron           Format = "tron"
)

// Asset describes one supported symbol.
type Asset struct {
	Symbol   string `yaml:"symbol"`
	Network  string `yaml:"network"`
	Decimals int32  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
	Format   Format `yaml:"format"`
	// FeeAsset is the symbol network fees are paid in. Empty means the asset itself.
	FeeAsset string `yaml:"fee_asset"`
	// ProviderIds maps a custody backend name to its asset identifier.
	ProviderIds map[string]string `yaml:"provider_ids"`
}

// FeeUnits returns the symbol fee amounts are denominated in.
func (a Asset) FeeUnits() string {
	if a.FeeAsset != "" {
		return a.FeeAsset
	}
	return a.Symbol
}

// Catalog is an immutable registry of supported assets.
type Catalog struct {
	assets map[string]Asset
}

var defaultAssets = []Asset{
	{Symbol: "BTC", Network: "bitcoin", Decimals: 8, Native: true, Format: FormatBitcoin,
		ProviderIds: map[string]string{models.ProviderFireblocks: "BTC", models.ProviderPrime: "BTC"}},
	{Symbol: "BTC_TEST", Network: "bitcoin-testnet", Decimals: 8, Native: true, Format: FormatBitcoinTestnet,
		ProviderIds: map[string]string{models.ProviderFireblocks: "BTC_TEST"}},
	{Symbol: "ETH", Network: "ethereum", Decimals: 18, Native: true, Format: FormatEVM,
		ProviderIds: map[string]string{models.ProviderFireblocks: "ETH", models.ProviderPrime: "ETH"}},
	{Symbol: "ETH_TEST", Network: "ethereum-sepolia", Decimals: 18, Native: true, Format: FormatEVM,
		ProviderIds: map[string]string{models.ProviderFireblocks: "ETH_TEST5"}},
	{Symbol: "TRX", Network: "tron", Decimals: 6, Native: true, Format: FormatTron,
		ProviderIds: map[string]string{models.ProviderFireblocks: "TRX"}},
	{Symbol: "USDT_ERC20", Network: "ethereum", Decimals: 6, Format: FormatEVM, FeeAsset: "ETH",
		ProviderIds: map[string]string{models.ProviderFireblocks: "USDT_ERC20", models.ProviderPrime: "USDT"}},
	{Symbol: "USDT_TRC20", Network: "tron", Decimals: 6, Format: FormatTron, FeeAsset: "TRX",
		ProviderIds: map[string]string{models.ProviderFireblocks: "TRX_USDT_S2UZ"}},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultAssets)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog, validating every entry.
func New(list []Asset) (*Catalog, error) {
	c := &Catalog{assets: make(map[string]Asset, len(list))}
	for i, a := range list {
		a.Symbol = normalize(a.Symbol)
		if err := validateAsset(a); err != nil {
			return nil, fmt.Errorf("asset at index %d: %w", i, err)
		}
		if _, dup := c.assets[a.Symbol]; dup {
			return nil, fmt.Errorf("asset at index %d: duplicate symbol %s", i, a.Symbol)
		}
		c.assets[a.Symbol] = a
	}
	return c, nil
}

func validateAsset(a Asset) error {
	if a.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if a.Network == "" {
		return fmt.Errorf("%s: missing network", a.Symbol)
	}
	if a.Decimals < 0 || a.Decimals > 36 {
		return fmt.Errorf("%s: decimals out of range: %d", a.Symbol, a.Decimals)
	}
	if _, ok := validators[a.Format]; !ok {
		return fmt.Errorf("%s: unknown address format %q", a.Symbol, a.Format)
	}
	return nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Describe returns the asset for symbol or models.ErrUnsupportedAsset.
func (c *Catalog) Describe(symbol string) (Asset, error) {
	a, ok := c.assets[normalize(symbol)]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", models.ErrUnsupportedAsset, symbol)
	}
	return a, nil
}

// Symbols returns all supported symbols in sorted order.
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.assets))
	for s := range c.assets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ValidateDestination reports whether address is well-formed for the asset.
// A malformed or empty address is false, never an error; the error is
// reserved for unsupported assets.
func (c *Catalog) ValidateDestination(symbol, address string) (bool, error) {
	a, err := c.Describe(symbol)
	if err != nil {
		return false, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return false, nil
	}
	return validators[a.Format](address), nil
}

// ToBaseUnits converts a human amount to integer base units. Amounts with
// more fractional digits than the asset carries are rejected rather than rounded.
func (c *Catalog) ToBaseUnits(symbol string, amount decimal.Decimal) (*big.Int, error) {
	a, err := c.Describe(symbol)
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount)
	}
	shifted := amount.Shift(a.Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", models.ErrInvalidAmount, amount, a.Decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts integer base units to a human amount.
func (c *Catalog) FromBaseUnits(symbol string, units *big.Int) (decimal.Decimal, error) {
	a, err := c.Describe(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(units, -a.Decimals), nil
}

// ProviderAssetId returns the backend's identifier for symbol.
func (c *Catalog) ProviderAssetId(symbol, backend string) (string, error) {
	a, err := c.Describe(symbol)
	if err != nil {
		return "", err
	}
	id, ok := a.ProviderIds[backend]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %s is not available on %s", models.ErrUnsupportedAsset, a.Symbol, backend)
	}
	return id, nil
}

// SymbolForProviderId maps a backend asset id back to the catalog symbol.
func (c *Catalog) SymbolForProviderId(backend, providerId string) (string, bool) {
	for _, a := range c.assets {
		if a.ProviderIds[backend] == providerId {
			return a.Symbol, true
		}
	}
	return "", false
}
