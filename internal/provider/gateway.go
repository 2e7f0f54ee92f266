package provider

import (
	"context"

	"custody-wallet-go/internal/models"

	"github.com/shopspring/decimal"
)

// AddressOutcome tags the result of CreateAssetAddress.
type AddressOutcome int

const (
	// Created means the asset was added to the vault and Address is its deposit address.
	Created AddressOutcome = iota + 1
	// AlreadyExists means the vault already held the asset; Address is empty
	// and the caller should use GenerateAddress.
	AlreadyExists
)

func (o AddressOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// AddressResult is the tagged outcome of adding an asset to a vault. The
// failed case is carried by the accompanying error.
type AddressResult struct {
	Outcome AddressOutcome
	Address string
}

// ExternalTransferParams describes an on-chain withdrawal from a vault.
type ExternalTransferParams struct {
	VaultId            string
	Asset              string
	Amount             decimal.Decimal
	DestinationAddress string
	IdempotencyKey     string
	Note               string
}

// VaultTransferParams describes a vault-to-vault movement. IdempotencyKey
// must stay stable across retries of the same logical transfer.
type VaultTransferParams struct {
	SourceVaultId  string
	DestVaultId    string
	Asset          string
	Amount         decimal.Decimal
	IdempotencyKey string
	Note           string
}

// Gateway is the custody provider capability. Asset arguments are catalog
// symbols; adapters translate them to provider identifiers. Implementations
// must be safe for concurrent use.
type Gateway interface {
	Name() string
	CreateVaultAccount(ctx context.Context, label string) (string, error)
	CreateAssetAddress(ctx context.Context, vaultId, asset string) (AddressResult, error)
	GenerateAddress(ctx context.Context, vaultId, asset string) (string, error)
	GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error)
	CreateExternalTransfer(ctx context.Context, params ExternalTransferParams) (models.TransferResult, error)
	CreateVaultToVaultTransfer(ctx context.Context, params VaultTransferParams) (models.TransferResult, error)
	EstimateFee(ctx context.Context, asset string, amount decimal.Decimal) (models.FeeTiers, error)
	GetTransfer(ctx context.Context, providerTxId string) (models.TransferStatus, error)
}
