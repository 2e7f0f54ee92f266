package transfer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/database"
	"custody-wallet-go/internal/database/databasetest"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/provider/providertest"
	"custody-wallet-go/internal/store"
	"custody-wallet-go/internal/transfer"
	"custody-wallet-go/internal/vault"
	"custody-wallet-go/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const externalETH = "0x00000000000000000000000000000000000000aa"

type failingLedger struct {
	*ledger.Recorder
	err error
}

func (f *failingLedger) RecordPair(ctx context.Context, out, in *models.Transaction) ([]models.Transaction, error) {
	return nil, f.err
}

func (f *failingLedger) RecordSingle(ctx context.Context, tx *models.Transaction) ([]models.Transaction, error) {
	return nil, f.err
}

type captureAlerter struct {
	mu    sync.Mutex
	items []models.ReconciliationItem
}

func (c *captureAlerter) ReconciliationRequired(ctx context.Context, item models.ReconciliationItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

type env struct {
	db       *database.Service
	gw       *providertest.Fake
	wallets  *wallet.Registry
	recorder *ledger.Recorder
	alerter  *captureAlerter
	orch     *transfer.Orchestrator
	alice    *models.User
	bob      *models.User
	charity  *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := databasetest.New(t)
	gw := providertest.NewFake()
	catalog := assets.Default()
	vaults := vault.NewRegistry(db, gw, vault.Options{WaitInitial: 10 * time.Millisecond})
	wallets := wallet.NewRegistry(db, vaults, gw, catalog, "FAKE")
	recorder := ledger.NewRecorder(db)

	e := &env{
		db:       db,
		gw:       gw,
		wallets:  wallets,
		recorder: recorder,
		alerter:  &captureAlerter{},
		alice:    databasetest.User(t, db, "alice", "alice"),
		bob:      databasetest.User(t, db, "bob", "bob"),
	}

	charity, err := db.CreateUser(context.Background(), store.CreateUserParams{
		Id: "charity", Name: "Charity", Email: "charity@example.com",
	})
	require.NoError(t, err)
	e.charity = charity

	e.orch = e.newOrchestrator(recorder)
	return e
}

func (e *env) newOrchestrator(l transfer.Ledger) *transfer.Orchestrator {
	return transfer.NewOrchestrator(e.db, e.wallets, l, e.gw, assets.Default(), transfer.Options{
		DonationPrivacyId: e.charity.PrivacyId,
		Alerter:           e.alerter,
	})
}

func (e *env) fundedWallet(t *testing.T, userId, asset, balance string) *models.Wallet {
	t.Helper()
	w, err := e.wallets.EnsureWallet(context.Background(), userId, asset)
	require.NoError(t, err)
	e.gw.SetBalance(w.VaultId, w.Currency, decimal.RequireFromString(balance))
	return w
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func legs(t *testing.T, rows []models.Transaction) (out, in models.Transaction) {
	t.Helper()
	require.Len(t, rows, 2)
	for _, r := range rows {
		switch r.Type {
		case models.TxInternalOut:
			out = r
		case models.TxInternalIn:
			in = r
		}
	}
	require.Equal(t, models.TxInternalOut, out.Type)
	require.Equal(t, models.TxInternalIn, in.Type)
	return out, in
}

func TestInternal_WritesMatchedPair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	wb := e.fundedWallet(t, "bob", "ETH", "1")

	res, err := e.orch.Internal(ctx, transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Recipient: e.bob.PrivacyId,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.RouteInternal, res.Route)
	assert.Equal(t, "SUBMITTED", res.ProviderStatus)
	assert.Len(t, res.IdempotencyKey, 32)

	rows, err := e.db.FindByGroupId(ctx, res.GroupId)
	require.NoError(t, err)
	out, in := legs(t, rows)

	assert.Equal(t, "alice", out.UserId)
	assert.Equal(t, "bob", in.UserId)
	assert.Equal(t, "bob", models.Deref(out.CounterpartyUser))
	assert.Equal(t, "alice", models.Deref(in.CounterpartyUser))
	assert.Equal(t, wb.Id, models.Deref(in.WalletId))
	assert.Equal(t, res.ProviderTxId, models.Deref(out.ProviderRefId))
	assert.Equal(t, res.ProviderTxId, models.Deref(in.ProviderRefId))
	assert.True(t, out.Amount.Equal(in.Amount))
	assert.Equal(t, models.TxPending, out.Status)
	assert.True(t, out.BalanceAfter.Decimal.Equal(dec("3")), "got %s", out.BalanceAfter.Decimal)
	assert.True(t, in.BalanceAfter.Decimal.Equal(dec("3")), "got %s", in.BalanceAfter.Decimal)

	assert.Equal(t, 1, e.gw.CallCount(providertest.OpVaultTransfer))
	assert.Zero(t, e.gw.CallCount(providertest.OpExternalTransfer))
}

func TestInternal_ByUsernameProvisionsRecipient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	_, err := e.orch.Internal(ctx, transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Recipient: "bob",
	})
	require.NoError(t, err)

	bob, err := e.db.GetUserById(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.HasVault, "recipient vault is created on demand")
	_, err = e.db.GetWallet(ctx, "bob", "ETH", "FAKE")
	require.NoError(t, err)
}

func TestInternal_IdempotentRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	req := transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Recipient: "bob", IdempotencyKey: "key-1",
	}
	first, err := e.orch.Internal(ctx, req)
	require.NoError(t, err)
	second, err := e.orch.Internal(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.ProviderTxId, second.ProviderTxId)
	assert.Equal(t, first.GroupId, second.GroupId)
	assert.Equal(t, "SUBMITTED", second.ProviderStatus)
	assert.Equal(t, transfer.RouteInternal, second.Route)
	assert.Equal(t, 1, e.gw.CallCount(providertest.OpVaultTransfer))

	rows, err := e.db.FindByProviderRef(ctx, first.ProviderTxId)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestInternal_RetryAfterProviderFailureReusesKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	e.gw.FailNext(providertest.OpVaultTransfer, provider.NewUnavailable("vault_transfer", errors.New("timeout")))

	req := transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Recipient: "bob", IdempotencyKey: "key-2",
	}
	_, err := e.orch.Internal(ctx, req)
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)

	rows, err := e.db.FindByIdempotencyKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Empty(t, rows, "a failed provider call writes nothing")

	res, err := e.orch.Internal(ctx, req)
	require.NoError(t, err)
	calls := e.gw.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, providertest.OpVaultTransfer, last.Op)
	assert.Equal(t, "key-2", last.Args[len(last.Args)-1])
	assert.False(t, res.Replayed)
}

func TestInternal_ProviderFailureCarriesGeneratedKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	e.gw.FailNext(providertest.OpVaultTransfer, provider.NewUnavailable("vault_transfer", errors.New("timeout")))

	req := transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Recipient: "bob",
	}
	_, err := e.orch.Internal(ctx, req)
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)

	var failure *transfer.ProviderFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.IdempotencyKey, 32)

	req.IdempotencyKey = failure.IdempotencyKey
	res, err := e.orch.Internal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, failure.IdempotencyKey, res.IdempotencyKey)

	calls := e.gw.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, failure.IdempotencyKey, last.Args[len(last.Args)-1])
}

func TestInternal_ClientErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	wb := e.fundedWallet(t, "bob", "BTC", "1")

	cases := []struct {
		name string
		req  transfer.InternalRequest
		want error
	}{
		{"foreign wallet", transfer.InternalRequest{UserId: "alice", WalletId: wb.Id, Asset: "BTC", Amount: dec("1"), Recipient: "bob"}, models.ErrWalletNotFound},
		{"asset mismatch", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "BTC", Amount: dec("1"), Recipient: "bob"}, models.ErrAssetMismatch},
		{"unknown recipient", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Recipient: "nobody"}, models.ErrDestinationNotFound},
		{"unverified recipient", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Recipient: e.charity.PrivacyId}, models.ErrDestinationNotVerified},
		{"self", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Recipient: "alice"}, models.ErrSelfTransfer},
		{"zero amount", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: decimal.Zero, Recipient: "bob"}, models.ErrInvalidAmount},
		{"too precise", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("0.0000000000000000001"), Recipient: "bob"}, models.ErrInvalidAmount},
		{"unsupported asset", transfer.InternalRequest{UserId: "alice", WalletId: wa.Id, Asset: "DOGE", Amount: dec("1"), Recipient: "bob"}, models.ErrUnsupportedAsset},
	}

	before := len(e.gw.Calls())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.orch.Internal(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, models.IsClientError(err))
		})
	}
	assert.Len(t, e.gw.Calls(), before, "client errors make no provider calls")

	history, err := e.db.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDonate_ExemptFromVerification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	res, err := e.orch.Donate(ctx, transfer.DonationRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.RouteDonation, res.Route)

	out, in := legs(t, res.Transactions)
	assert.Equal(t, "charity", in.UserId)
	assert.Equal(t, out.GroupId, in.GroupId)
	assert.True(t, out.BalanceAfter.Decimal.Equal(dec("4.5")))
}

func TestDonate_NotConfigured(t *testing.T) {
	e := newEnv(t)
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	orch := transfer.NewOrchestrator(e.db, e.wallets, e.recorder, e.gw, assets.Default(), transfer.Options{})

	_, err := orch.Donate(context.Background(), transfer.DonationRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"),
	})
	assert.ErrorIs(t, err, models.ErrDestinationNotFound)
}

func TestExternal_SingleRowWithFee(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	fee := dec("0.01")
	e.gw.ExternalFee = &fee

	res, err := e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Destination: externalETH,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.RouteExternal, res.Route)
	assert.Empty(t, res.GroupId)

	require.Len(t, res.Transactions, 1)
	tx := res.Transactions[0]
	assert.Equal(t, models.TxCryptoOut, tx.Type)
	assert.True(t, tx.FeeAmount.Decimal.Equal(fee))
	assert.Equal(t, "ETH", models.Deref(tx.FeeCurrency))
	assert.True(t, tx.BalanceAfter.Decimal.Equal(dec("3.99")), "got %s", tx.BalanceAfter.Decimal)
	assert.Equal(t, externalETH, models.Deref(tx.AddressTo))
	assert.Equal(t, 1, e.gw.CallCount(providertest.OpExternalTransfer))
}

func TestExternal_FeeDefaultsToZero(t *testing.T) {
	e := newEnv(t)
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	res, err := e.orch.External(context.Background(), transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Destination: externalETH,
	})
	require.NoError(t, err)
	tx := res.Transactions[0]
	assert.True(t, tx.FeeAmount.Valid)
	assert.True(t, tx.FeeAmount.Decimal.IsZero())
	assert.True(t, tx.BalanceAfter.Decimal.Equal(dec("4")))
}

func TestExternal_DestinationIsTrimmed(t *testing.T) {
	e := newEnv(t)
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	res, err := e.orch.External(context.Background(), transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Destination: "  " + externalETH + "\n",
	})
	require.NoError(t, err)
	assert.Equal(t, externalETH, models.Deref(res.Transactions[0].AddressTo))

	var sent []string
	for _, c := range e.gw.Calls() {
		if c.Op == providertest.OpExternalTransfer {
			sent = append(sent, c.Args[3])
		}
	}
	assert.Equal(t, []string{externalETH}, sent)
}

func TestExternal_InternalAddressIsRerouted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	wb := e.fundedWallet(t, "bob", "ETH", "0")

	res, err := e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Destination: wb.Address,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.RouteAddressMatch, res.Route)
	assert.Equal(t, 1, e.gw.CallCount(providertest.OpVaultTransfer))
	assert.Zero(t, e.gw.CallCount(providertest.OpExternalTransfer))

	out, in := legs(t, res.Transactions)
	assert.Equal(t, "bob", in.UserId)
	assert.Equal(t, wb.Id, models.Deref(in.WalletId))
	assert.Equal(t, models.Deref(out.GroupId), res.GroupId)
}

func TestExternal_InvalidAndSelfAddress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")

	_, err := e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Destination: "not_an_address",
	})
	assert.ErrorIs(t, err, models.ErrInvalidAddress)

	_, err = e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Destination: wa.Address,
	})
	assert.ErrorIs(t, err, models.ErrSelfTransfer)
	assert.Zero(t, e.gw.CallCount(providertest.OpExternalTransfer))
}

func TestExternal_ProviderRejectionWritesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	e.gw.FailNext(providertest.OpExternalTransfer, provider.NewRejected("external_transfer", "INSUFFICIENT_FUNDS", "insufficient funds"))

	_, err := e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("100"), Destination: externalETH,
	})
	require.ErrorIs(t, err, provider.ErrProviderRejected)

	history, err := e.db.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReconciliationRequired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	orch := e.newOrchestrator(&failingLedger{Recorder: e.recorder, err: errors.New("database is locked")})

	_, err := orch.Internal(ctx, transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("2"), Recipient: "bob",
	})
	require.ErrorIs(t, err, models.ErrReconciliationRequired)
	assert.False(t, models.IsClientError(err))

	open, err := e.recorder.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.ReconcilePair, open[0].Kind)
	require.Len(t, e.alerter.items, 1)
	assert.Equal(t, open[0].Id, e.alerter.items[0].Id)

	// Replaying the queued legs recovers the pair.
	rows, err := e.recorder.Replay(ctx, open[0])
	require.NoError(t, err)
	out, in := legs(t, rows)
	assert.True(t, out.BalanceAfter.Decimal.Equal(dec("3")))
	assert.Equal(t, "bob", in.UserId)
}

func TestIdempotencyKeyOwnedByAnotherUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wa := e.fundedWallet(t, "alice", "ETH", "5")
	wb := e.fundedWallet(t, "bob", "ETH", "5")

	_, err := e.orch.Internal(ctx, transfer.InternalRequest{
		UserId: "alice", WalletId: wa.Id, Asset: "ETH", Amount: dec("1"), Recipient: "bob", IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	_, err = e.orch.External(ctx, transfer.ExternalRequest{
		UserId: "bob", WalletId: wb.Id, Asset: "ETH", Amount: dec("1"), Destination: externalETH, IdempotencyKey: "shared",
	})
	assert.ErrorIs(t, err, transfer.ErrIdempotencyKeyReused)
}
