// Package providertest provides an in-memory provider.Gateway for tests.
package providertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/shopspring/decimal"
)

// Operation names recorded in Calls.
const (
	OpCreateVault      = "CreateVaultAccount"
	OpCreateAsset      = "CreateAssetAddress"
	OpGenerateAddress  = "GenerateAddress"
	OpGetBalance       = "GetBalance"
	OpExternalTransfer = "CreateExternalTransfer"
	OpVaultTransfer    = "CreateVaultToVaultTransfer"
	OpEstimateFee      = "EstimateFee"
	OpGetTransfer      = "GetTransfer"
)

var _ provider.Gateway = (*Fake)(nil)

// Call is one recorded gateway invocation.
type Call struct {
	Op   string
	Args []string
}

// Fake is a programmable gateway. Vaults, assets, balances and transfers
// live in memory; errors can be queued per operation.
type Fake struct {
	mu sync.Mutex

	name      string
	nextVault int
	nextTx    int
	vaults    map[string]map[string][]string // vault -> asset -> addresses
	balances  map[string]models.AssetBalance
	transfers map[string]models.TransferStatus
	byKey     map[string]models.TransferResult
	failures  map[string][]error
	calls     []Call

	// ExternalFee is reported on external transfers when set.
	ExternalFee *decimal.Decimal
	// Fees is returned by EstimateFee.
	Fees models.FeeTiers
	// CreateVaultDelay slows vault creation to widen race windows.
	CreateVaultDelay time.Duration
}

// NewFake returns an empty fake named "fake".
func NewFake() *Fake {
	return &Fake{
		name:      "fake",
		vaults:    map[string]map[string][]string{},
		balances:  map[string]models.AssetBalance{},
		transfers: map[string]models.TransferStatus{},
		byKey:     map[string]models.TransferResult{},
		failures:  map[string][]error{},
		Fees: models.FeeTiers{
			Low:    decimal.RequireFromString("0.00001"),
			Medium: decimal.RequireFromString("0.00002"),
			High:   decimal.RequireFromString("0.00003"),
		},
	}
}

// FailNext queues err to be returned by the next call of op.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// SetBalance sets the total and available balance of an asset in a vault.
func (f *Fake) SetBalance(vaultId, asset string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[vaultId+"|"+asset] = models.AssetBalance{Balance: amount, Available: amount, Pending: decimal.Zero}
}

// SeedAsset marks asset as already present in vaultId, as after a prior partial operation.
func (f *Fake) SeedAsset(vaultId, asset string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vaults[vaultId] == nil {
		f.vaults[vaultId] = map[string][]string{}
	}
	f.vaults[vaultId][asset] = append(f.vaults[vaultId][asset], address(vaultId, asset, 0))
}

// SetTransferStatus overrides the status reported for a provider transaction.
func (f *Fake) SetTransferStatus(providerTxId, raw string, status models.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[providerTxId] = models.TransferStatus{ProviderTxId: providerTxId, RawStatus: raw, Status: status}
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times op was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the operation names in call order.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// record logs the call and pops a queued failure. Caller holds f.mu.
func (f *Fake) record(op string, args ...string) error {
	f.calls = append(f.calls, Call{Op: op, Args: args})
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// address derives a lowercase hex address so EVM validators accept it.
func address(vaultId, asset string, n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", vaultId, asset, n)))
	return "0x" + hex.EncodeToString(sum[:20])
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) CreateVaultAccount(ctx context.Context, label string) (string, error) {
	if f.CreateVaultDelay > 0 {
		select {
		case <-time.After(f.CreateVaultDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpCreateVault, label); err != nil {
		return "", err
	}
	f.nextVault++
	id := fmt.Sprintf("vault-%d", f.nextVault)
	f.vaults[id] = map[string][]string{}
	return id, nil
}

func (f *Fake) CreateAssetAddress(ctx context.Context, vaultId, asset string) (provider.AddressResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpCreateAsset, vaultId, asset); err != nil {
		return provider.AddressResult{}, err
	}
	v, ok := f.vaults[vaultId]
	if !ok {
		return provider.AddressResult{}, provider.NewRejected("create_asset_address", "not_found", "unknown vault "+vaultId)
	}
	if len(v[asset]) > 0 {
		return provider.AddressResult{Outcome: provider.AlreadyExists}, nil
	}
	addr := address(vaultId, asset, 0)
	v[asset] = []string{addr}
	return provider.AddressResult{Outcome: provider.Created, Address: addr}, nil
}

func (f *Fake) GenerateAddress(ctx context.Context, vaultId, asset string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpGenerateAddress, vaultId, asset); err != nil {
		return "", err
	}
	v, ok := f.vaults[vaultId]
	if !ok || len(v[asset]) == 0 {
		return "", provider.NewRejected("generate_address", "not_found", "asset not in vault")
	}
	addr := address(vaultId, asset, len(v[asset]))
	v[asset] = append(v[asset], addr)
	return addr, nil
}

func (f *Fake) GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpGetBalance, vaultId, asset); err != nil {
		return models.AssetBalance{}, err
	}
	return f.balances[vaultId+"|"+asset], nil
}

func (f *Fake) CreateExternalTransfer(ctx context.Context, p provider.ExternalTransferParams) (models.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpExternalTransfer, p.VaultId, p.Asset, p.Amount.String(), p.DestinationAddress, p.IdempotencyKey); err != nil {
		return models.TransferResult{}, err
	}
	if res, ok := f.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return res, nil
	}
	res := f.newTransfer(p.IdempotencyKey)
	res.Fee = f.ExternalFee
	f.byKey[p.IdempotencyKey] = res
	return res, nil
}

func (f *Fake) CreateVaultToVaultTransfer(ctx context.Context, p provider.VaultTransferParams) (models.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpVaultTransfer, p.SourceVaultId, p.DestVaultId, p.Asset, p.Amount.String(), p.IdempotencyKey); err != nil {
		return models.TransferResult{}, err
	}
	if res, ok := f.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return res, nil
	}
	res := f.newTransfer(p.IdempotencyKey)
	f.byKey[p.IdempotencyKey] = res
	return res, nil
}

// newTransfer allocates a provider tx id. Caller holds f.mu.
func (f *Fake) newTransfer(key string) models.TransferResult {
	f.nextTx++
	id := fmt.Sprintf("tx-%d", f.nextTx)
	f.transfers[id] = models.TransferStatus{ProviderTxId: id, RawStatus: "SUBMITTED", Status: models.TxPending}
	return models.TransferResult{ProviderTxId: id, Status: "SUBMITTED"}
}

func (f *Fake) EstimateFee(ctx context.Context, asset string, amount decimal.Decimal) (models.FeeTiers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpEstimateFee, asset, amount.String()); err != nil {
		return models.FeeTiers{}, err
	}
	return f.Fees, nil
}

func (f *Fake) GetTransfer(ctx context.Context, providerTxId string) (models.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpGetTransfer, providerTxId); err != nil {
		return models.TransferStatus{}, err
	}
	st, ok := f.transfers[providerTxId]
	if !ok {
		return models.TransferStatus{}, provider.NewRejected("get_transfer", "not_found", providerTxId)
	}
	return st, nil
}
