package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/database"
	"custody-wallet-go/internal/database/databasetest"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider/providertest"
	"custody-wallet-go/internal/store"
	"custody-wallet-go/internal/vault"
	"custody-wallet-go/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *database.Service
	gw      *providertest.Fake
	vaults  *vault.Registry
	wallets *wallet.Registry
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := databasetest.New(t)
	for _, u := range users {
		databasetest.User(t, db, u, "")
	}
	gw := providertest.NewFake()
	return newFixtureOn(db, gw)
}

func newFixtureOn(db *database.Service, gw *providertest.Fake) *fixture {
	vaults := vault.NewRegistry(db, gw, vault.Options{WaitInitial: 10 * time.Millisecond, WaitMax: 50 * time.Millisecond})
	return &fixture{
		db:      db,
		gw:      gw,
		vaults:  vaults,
		wallets: wallet.NewRegistry(db, vaults, gw, assets.Default(), "FAKE"),
	}
}

func TestEnsureWallet_TwoAssetsShareOneVault(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	eth, err := f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)
	trx, err := f.wallets.EnsureWallet(ctx, "alice", "trx")
	require.NoError(t, err)

	assert.Equal(t, eth.VaultId, trx.VaultId)
	assert.Equal(t, "TRX", trx.Currency)
	assert.Equal(t, "FAKE", trx.Network)
	assert.Equal(t, 1, f.gw.CallCount(providertest.OpCreateVault))
	assert.Equal(t, 2, f.gw.CallCount(providertest.OpCreateAsset))
}

func TestEnsureWallet_Idempotent(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	first, err := f.wallets.EnsureWallet(ctx, "alice", "BTC")
	require.NoError(t, err)
	second, err := f.wallets.EnsureWallet(ctx, "alice", "BTC")
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, f.gw.CallCount(providertest.OpCreateAsset))
}

func TestEnsureWallet_AssetAlreadyInVaultFallsBack(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	vaultId, err := f.vaults.EnsureVault(ctx, "alice")
	require.NoError(t, err)
	f.gw.SeedAsset(vaultId, "ETH")

	w, err := f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)
	assert.NotEmpty(t, w.Address)
	assert.Equal(t, 1, f.gw.CallCount(providertest.OpGenerateAddress))
}

func TestEnsureWallet_UnsupportedAsset(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.wallets.EnsureWallet(context.Background(), "alice", "DOGE")
	require.ErrorIs(t, err, models.ErrUnsupportedAsset)
	assert.Empty(t, f.gw.Calls())
}

func TestEnsureWallet_ConcurrentSingleRow(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	fixtures := []*fixture{newFixtureOn(db, gw), newFixtureOn(db, gw)}

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := fixtures[i%2].wallets.EnsureWallet(context.Background(), "alice", "ETH")
			errs[i] = err
			if err == nil {
				ids[i] = w.Id
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	list, err := db.ListWallets(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, gw.CallCount(providertest.OpCreateVault))
}

func TestGetOwnedWallet(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	w, err := f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)

	got, err := f.wallets.GetOwnedWallet(ctx, "alice", w.Id)
	require.NoError(t, err)
	assert.Equal(t, w.Id, got.Id)

	_, err = f.wallets.GetOwnedWallet(ctx, "bob", w.Id)
	assert.ErrorIs(t, err, models.ErrWalletNotFound)

	_, err = f.wallets.GetOwnedWallet(ctx, "alice", "missing")
	assert.ErrorIs(t, err, models.ErrWalletNotFound)
}

func TestFindByAddress(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	w, err := f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)

	found, err := f.wallets.FindByAddress(ctx, "ETH", w.Address)
	require.NoError(t, err)
	assert.Equal(t, w.Id, found.Id)

	_, err = f.wallets.FindByAddress(ctx, "ETH", "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
}

func TestRegenerateAddress(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	w, err := f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)

	updated, err := f.wallets.RegenerateAddress(ctx, "alice", w.Id)
	require.NoError(t, err)
	assert.Equal(t, w.Id, updated.Id)
	assert.NotEqual(t, w.Address, updated.Address)

	stored, err := f.db.GetWalletById(ctx, w.Id)
	require.NoError(t, err)
	assert.Equal(t, updated.Address, stored.Address)
}
