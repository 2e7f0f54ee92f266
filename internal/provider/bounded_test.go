package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/provider/providertest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() provider.BoundedOptions {
	return provider.BoundedOptions{
		MaxConcurrency: 4,
		CallTimeout:    200 * time.Millisecond,
		MaxRetries:     3,
		RetryInitial:   time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	}
}

func TestBoundedRetriesUnavailable(t *testing.T) {
	fake := providertest.NewFake()
	fake.SetBalance("vault-1", "ETH", decimal.NewFromInt(5))
	fake.FailNext(providertest.OpGetBalance, provider.NewUnavailable("get_balance", errors.New("connection reset")))
	fake.FailNext(providertest.OpGetBalance, provider.NewUnavailable("get_balance", errors.New("connection reset")))

	gw := provider.NewBounded(fake, fastOptions())
	bal, err := gw.GetBalance(context.Background(), "vault-1", "ETH")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 3, fake.CallCount(providertest.OpGetBalance))
}

func TestBoundedDoesNotRetryRejected(t *testing.T) {
	fake := providertest.NewFake()
	fake.FailNext(providertest.OpExternalTransfer, provider.NewRejected("create_external_transfer", "insufficient_funds", "balance too low"))

	gw := provider.NewBounded(fake, fastOptions())
	_, err := gw.CreateExternalTransfer(context.Background(), provider.ExternalTransferParams{
		VaultId: "vault-1", Asset: "ETH", Amount: decimal.NewFromInt(1),
		DestinationAddress: "0xabc", IdempotencyKey: "k1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderRejected)
	assert.False(t, provider.IsRetryable(err))
	assert.Equal(t, 1, fake.CallCount(providertest.OpExternalTransfer))
}

func TestBoundedNeverRetriesVaultCreation(t *testing.T) {
	fake := providertest.NewFake()
	fake.FailNext(providertest.OpCreateVault, provider.NewUnavailable("create_vault_account", errors.New("eof")))

	gw := provider.NewBounded(fake, fastOptions())
	_, err := gw.CreateVaultAccount(context.Background(), "user-1")
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, 1, fake.CallCount(providertest.OpCreateVault))
}

func TestBoundedAuthErrorIsFatal(t *testing.T) {
	fake := providertest.NewFake()
	fake.FailNext(providertest.OpEstimateFee, provider.NewAuth("estimate_fee", "invalid api key"))

	gw := provider.NewBounded(fake, fastOptions())
	_, err := gw.EstimateFee(context.Background(), "BTC", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, provider.ErrProviderAuth)
	assert.Equal(t, 1, fake.CallCount(providertest.OpEstimateFee))
}

type hangingGateway struct {
	*providertest.Fake
}

func (h hangingGateway) GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error) {
	<-ctx.Done()
	return models.AssetBalance{}, ctx.Err()
}

func TestBoundedTimeoutIsUnavailable(t *testing.T) {
	opts := fastOptions()
	opts.CallTimeout = 10 * time.Millisecond
	opts.MaxRetries = 1

	gw := provider.NewBounded(hangingGateway{providertest.NewFake()}, opts)
	_, err := gw.GetBalance(context.Background(), "vault-1", "BTC")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.True(t, provider.IsTimeout(err))
}

func TestErrorClassification(t *testing.T) {
	err := provider.Classify("op", context.DeadlineExceeded)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, provider.Unavailable, provider.KindOf(err))

	rejected := provider.NewRejected("op", "invalid_destination", "bad address")
	assert.Same(t, rejected, provider.Classify("other", rejected))
	assert.Contains(t, rejected.Error(), "invalid_destination")
	assert.Equal(t, provider.Kind(0), provider.KindOf(errors.New("plain")))
}
