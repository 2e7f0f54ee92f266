package api_test

import (
	"context"
	"errors"
	"testing"

	"custody-wallet-go/internal/api"
	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/database/databasetest"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/provider/providertest"
	"custody-wallet-go/internal/vault"
	"custody-wallet-go/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	balance decimal.Decimal
	err     error
}

func (m fakeMirror) UserBalance(ctx context.Context, userId string, asset assets.Asset) (decimal.Decimal, error) {
	return m.balance, m.err
}

type fixture struct {
	svc     *api.LedgerService
	gw      *providertest.Fake
	wallets *wallet.Registry
	rec     *ledger.Recorder
}

func newFixture(t *testing.T, mirror api.Mirror) *fixture {
	t.Helper()
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "alice")

	catalog := assets.Default()
	gw := providertest.NewFake()
	wallets := wallet.NewRegistry(db, vault.NewRegistry(db, gw, vault.Options{}), gw, catalog, "FAKE")
	rec := ledger.NewRecorder(db)

	return &fixture{
		svc: api.NewLedgerService(api.LedgerServiceConfig{
			Store:   db,
			Wallets: wallets,
			History: rec,
			Gateway: gw,
			Catalog: catalog,
			Mirror:  mirror,
		}),
		gw:      gw,
		wallets: wallets,
		rec:     rec,
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.svc.HealthCheck(context.Background()))
}

func TestGetUserBalances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	btc, err := f.wallets.EnsureWallet(ctx, "alice", "BTC")
	require.NoError(t, err)
	_, err = f.wallets.EnsureWallet(ctx, "alice", "ETH")
	require.NoError(t, err)
	f.gw.SetBalance(btc.VaultId, "BTC", decimal.RequireFromString("1.25"))

	balances, err := f.svc.GetUserBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, balances, 2)

	bySymbol := map[string]api.WalletBalance{}
	for _, b := range balances {
		bySymbol[b.Wallet.Currency] = b
	}
	assert.True(t, bySymbol["BTC"].Balance.Balance.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, bySymbol["ETH"].Balance.Balance.IsZero())
	assert.Nil(t, bySymbol["BTC"].Mirrored)
}

func TestGetUserBalances_ProviderFailureIsPerWallet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.wallets.EnsureWallet(ctx, "alice", "BTC")
	require.NoError(t, err)
	f.gw.FailNext(providertest.OpGetBalance, provider.NewUnavailable("get_balance", errors.New("timeout")))

	balances, err := f.svc.GetUserBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.ErrorIs(t, balances[0].Err, provider.ErrProviderUnavailable)
}

func TestGetUserBalances_IncludesMirror(t *testing.T) {
	f := newFixture(t, fakeMirror{balance: decimal.RequireFromString("0.5")})
	ctx := context.Background()

	_, err := f.wallets.EnsureWallet(ctx, "alice", "BTC")
	require.NoError(t, err)

	balances, err := f.svc.GetUserBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.NotNil(t, balances[0].Mirrored)
	assert.Equal(t, "0.5", balances[0].Mirrored.String())
}

func TestGetUserBalances_RequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.GetUserBalances(context.Background(), "")
	assert.Error(t, err)
}

func TestGetTransactionHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, ref := range []string{"tx-1", "tx-2", "tx-3"} {
		_, err := f.rec.RecordSingle(ctx, &models.Transaction{
			UserId: "alice", Provider: "fake", Type: models.TxCryptoOut, Status: models.TxPending,
			Amount: decimal.RequireFromString("1"), Currency: "BTC", ProviderRefId: models.Str(ref),
		})
		require.NoError(t, err)
	}

	page, err := f.svc.GetTransactionHistory(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	all, err := f.svc.GetTransactionHistory(ctx, "alice", 0, -5)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.GetTransactionHistory(ctx, "", 10, 0)
	assert.Error(t, err)
}
