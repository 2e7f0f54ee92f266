// Package wallet provisions one wallet per user, asset and provider network.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// provisionTimeout bounds a shared provisioning run, which outlives the
// caller that started it.
const provisionTimeout = 3 * time.Minute

// VaultEnsurer is the part of the vault registry wallets depend on.
type VaultEnsurer interface {
	EnsureVault(ctx context.Context, userId string) (string, error)
}

type Registry struct {
	wallets store.WalletStore
	vaults  VaultEnsurer
	gateway provider.Gateway
	catalog *assets.Catalog
	network string
	group   singleflight.Group
}

// NewRegistry builds a registry whose wallets are tagged with network, the
// provider tag stored on every wallet row.
func NewRegistry(wallets store.WalletStore, vaults VaultEnsurer, gateway provider.Gateway, catalog *assets.Catalog, network string) *Registry {
	return &Registry{
		wallets: wallets,
		vaults:  vaults,
		gateway: gateway,
		catalog: catalog,
		network: network,
	}
}

// Network returns the provider tag wallets are stored under.
func (r *Registry) Network() string {
	return r.network
}

// EnsureWallet returns the user's wallet for asset, provisioning the vault,
// the provider-side asset and the deposit address on first use.
func (r *Registry) EnsureWallet(ctx context.Context, userId, asset string) (*models.Wallet, error) {
	a, err := r.catalog.Describe(asset)
	if err != nil {
		return nil, err
	}

	w, err := r.wallets.GetWallet(ctx, userId, a.Symbol, r.network)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrWalletNotFound) {
		return nil, err
	}

	ch := r.group.DoChan(userId+"|"+a.Symbol, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return r.provision(sctx, userId, a.Symbol)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Wallet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) provision(ctx context.Context, userId, symbol string) (*models.Wallet, error) {
	vaultId, err := r.vaults.EnsureVault(ctx, userId)
	if err != nil {
		return nil, err
	}

	address, err := r.obtainAddress(ctx, vaultId, symbol)
	if err != nil {
		return nil, err
	}

	w, err := r.wallets.InsertWallet(ctx, store.InsertWalletParams{
		UserId:   userId,
		VaultId:  vaultId,
		Address:  address,
		Currency: symbol,
		Network:  r.network,
	})
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, err
	}

	winner, readErr := r.wallets.GetWallet(ctx, userId, symbol, r.network)
	if readErr != nil {
		return nil, fmt.Errorf("unable to read winning wallet: %w", readErr)
	}
	zap.L().Info("Wallet created concurrently, using existing row",
		zap.String("user_id", userId),
		zap.String("asset", symbol),
		zap.String("wallet_id", winner.Id))
	return winner, nil
}

// obtainAddress adds the asset to the vault, or generates a fresh address
// when the vault already holds it.
func (r *Registry) obtainAddress(ctx context.Context, vaultId, symbol string) (string, error) {
	res, err := r.gateway.CreateAssetAddress(ctx, vaultId, symbol)
	if err != nil {
		return "", fmt.Errorf("unable to create %s address in vault %s: %w", symbol, vaultId, err)
	}

	switch res.Outcome {
	case provider.Created:
		if res.Address != "" {
			return res.Address, nil
		}
		zap.L().Warn("Asset created without an address, generating one",
			zap.String("vault_id", vaultId),
			zap.String("asset", symbol))
	case provider.AlreadyExists:
		zap.L().Info("Asset already in vault, generating address",
			zap.String("vault_id", vaultId),
			zap.String("asset", symbol))
	default:
		return "", fmt.Errorf("unexpected address outcome %s for %s", res.Outcome, symbol)
	}

	address, err := r.gateway.GenerateAddress(ctx, vaultId, symbol)
	if err != nil {
		return "", fmt.Errorf("unable to generate %s address in vault %s: %w", symbol, vaultId, err)
	}
	return address, nil
}

// GetOwnedWallet returns the wallet only if it belongs to userId.
func (r *Registry) GetOwnedWallet(ctx context.Context, userId, walletId string) (*models.Wallet, error) {
	w, err := r.wallets.GetWalletById(ctx, walletId)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrWalletNotFound, walletId)
		}
		return nil, err
	}
	if w.UserId != userId {
		return nil, fmt.Errorf("%w: %s", models.ErrWalletNotFound, walletId)
	}
	return w, nil
}

// FindByAddress returns the internal wallet holding address for asset, or
// store.ErrWalletNotFound when the address is external.
func (r *Registry) FindByAddress(ctx context.Context, asset, address string) (*models.Wallet, error) {
	a, err := r.catalog.Describe(asset)
	if err != nil {
		return nil, err
	}
	forms, err := r.catalog.AddressForms(a.Symbol, address)
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		w, err := r.wallets.FindWalletByAddress(ctx, a.Symbol, r.network, form)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, store.ErrWalletNotFound) {
			return nil, err
		}
	}
	return nil, store.ErrWalletNotFound
}

// RegenerateAddress replaces the wallet's canonical deposit address with a
// freshly generated one. The wallet row is kept.
func (r *Registry) RegenerateAddress(ctx context.Context, userId, walletId string) (*models.Wallet, error) {
	w, err := r.GetOwnedWallet(ctx, userId, walletId)
	if err != nil {
		return nil, err
	}

	address, err := r.gateway.GenerateAddress(ctx, w.VaultId, w.Currency)
	if err != nil {
		return nil, fmt.Errorf("unable to regenerate address: %w", err)
	}
	if err := r.wallets.UpdateWalletAddress(ctx, w.Id, address); err != nil {
		return nil, err
	}

	zap.L().Info("Wallet address regenerated",
		zap.String("wallet_id", w.Id),
		zap.String("asset", w.Currency),
		zap.String("address", address))
	w.Address = address
	return w, nil
}

func (r *Registry) ListWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	return r.wallets.ListWallets(ctx, userId)
}
