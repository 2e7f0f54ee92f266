package vault_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custody-wallet-go/internal/database/databasetest"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/provider/providertest"
	"custody-wallet-go/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() vault.Options {
	return vault.Options{ClaimTTL: 5 * time.Second, WaitInitial: 10 * time.Millisecond, WaitMax: 50 * time.Millisecond}
}

func TestEnsureVault_CreatesOnceAndSetsFlag(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	reg := vault.NewRegistry(db, gw, testOptions())
	ctx := context.Background()

	first, err := reg.EnsureVault(ctx, "alice")
	require.NoError(t, err)
	second, err := reg.EnsureVault(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.CallCount(providertest.OpCreateVault))
	assert.Equal(t, []string{"alice"}, gw.Calls()[0].Args, "vault label is the user id")

	user, err := db.GetUserById(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.HasVault)
}

func TestEnsureVault_ConcurrentAcrossRegistries(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	gw.CreateVaultDelay = 50 * time.Millisecond

	// Two registries stand in for two processes sharing one database.
	regs := []*vault.Registry{
		vault.NewRegistry(db, gw, testOptions()),
		vault.NewRegistry(db, gw, testOptions()),
	}

	const callers = 10
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = regs[i%2].EnsureVault(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, gw.CallCount(providertest.OpCreateVault))
}

func TestEnsureVault_CanceledCallerDoesNotFailOthers(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	gw.CreateVaultDelay = 200 * time.Millisecond
	reg := vault.NewRegistry(db, gw, testOptions())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := reg.EnsureVault(firstCtx, "alice")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		id  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := reg.EnsureVault(context.Background(), "alice")
		second <- result{id, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	res := <-second
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.id)

	again, err := reg.EnsureVault(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, res.id, again)
	assert.Equal(t, 1, gw.CallCount(providertest.OpCreateVault))
}

func TestEnsureVault_ProviderFailureReleasesClaim(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	gw.FailNext(providertest.OpCreateVault, provider.NewUnavailable("create_vault", errors.New("boom")))
	reg := vault.NewRegistry(db, gw, testOptions())
	ctx := context.Background()

	_, err := reg.EnsureVault(ctx, "alice")
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)

	user, err := db.GetUserById(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.HasVault)

	// The released claim lets the next call proceed immediately.
	id, err := reg.EnsureVault(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, gw.CallCount(providertest.OpCreateVault))
}

func TestCreateVault_AlreadyExists(t *testing.T) {
	db := databasetest.New(t)
	databasetest.User(t, db, "alice", "")
	gw := providertest.NewFake()
	reg := vault.NewRegistry(db, gw, testOptions())
	ctx := context.Background()

	_, err := reg.CreateVault(ctx, "alice")
	require.NoError(t, err)

	_, err = reg.CreateVault(ctx, "alice")
	require.ErrorIs(t, err, models.ErrVaultAlreadyExists)
	assert.True(t, models.IsClientError(err))
	assert.Equal(t, 1, gw.CallCount(providertest.OpCreateVault))
}

func TestEnsureVault_UnknownUser(t *testing.T) {
	db := databasetest.New(t)
	gw := providertest.NewFake()
	reg := vault.NewRegistry(db, gw, testOptions())

	_, err := reg.EnsureVault(context.Background(), "ghost")
	require.Error(t, err)
	assert.Zero(t, gw.CallCount(providertest.OpCreateVault))
}
