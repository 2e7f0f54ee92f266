package provider

import (
	"context"
	"time"

	"custody-wallet-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Compile-time check: *Bounded must satisfy Gateway.
var _ Gateway = (*Bounded)(nil)

// BoundedOptions configures the worker pool and retry policy around a Gateway.
type BoundedOptions struct {
	MaxConcurrency int
	CallTimeout    time.Duration
	MaxRetries     int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

func (o *BoundedOptions) applyDefaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 16
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 20 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 250 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5 * time.Second
	}
}

// Bounded runs every call of the wrapped Gateway on a bounded pool with a
// per-attempt timeout, retrying Unavailable failures with exponential backoff.
// Calls that mutate provider state are detached from caller cancellation once
// issued; only the per-attempt timeout can cut them short.
type Bounded struct {
	next Gateway
	sem  *semaphore.Weighted
	opts BoundedOptions
}

// NewBounded wraps next.
func NewBounded(next Gateway, opts BoundedOptions) *Bounded {
	opts.applyDefaults()
	return &Bounded{
		next: next,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		opts: opts,
	}
}

type callPolicy struct {
	retry  bool
	detach bool
}

var (
	readPolicy     = callPolicy{retry: true}
	mutatePolicy   = callPolicy{retry: true, detach: true}
	onceOnlyPolicy = callPolicy{detach: true}
)

func (b *Bounded) call(ctx context.Context, op string, policy callPolicy, fn func(ctx context.Context) error) error {
	attempts := 0
	attempt := func() error {
		attempts++
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(NewUnavailable(op, err))
		}
		defer b.sem.Release(1)

		parent := ctx
		if policy.detach {
			parent = context.WithoutCancel(ctx)
		}
		callCtx, cancel := context.WithTimeout(parent, b.opts.CallTimeout)
		defer cancel()

		err := Classify(op, fn(callCtx))
		if err == nil {
			return nil
		}
		if !policy.retry || !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		zap.L().Warn("Provider call failed, will retry",
			zap.String("provider", b.next.Name()),
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Bool("timeout", IsTimeout(err)),
			zap.Error(err))
		return err
	}

	policyBackoff := backoff.NewExponentialBackOff()
	policyBackoff.InitialInterval = b.opts.RetryInitial
	policyBackoff.MaxInterval = b.opts.RetryMax
	policyBackoff.MaxElapsedTime = 0

	err := backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(policyBackoff, uint64(b.opts.MaxRetries)), ctx))
	if err != nil {
		return Classify(op, err)
	}
	return nil
}

func (b *Bounded) Name() string { return b.next.Name() }

func (b *Bounded) CreateVaultAccount(ctx context.Context, label string) (string, error) {
	var vaultId string
	err := b.call(ctx, "create_vault_account", onceOnlyPolicy, func(ctx context.Context) error {
		var err error
		vaultId, err = b.next.CreateVaultAccount(ctx, label)
		return err
	})
	return vaultId, err
}

func (b *Bounded) CreateAssetAddress(ctx context.Context, vaultId, asset string) (AddressResult, error) {
	var res AddressResult
	err := b.call(ctx, "create_asset_address", mutatePolicy, func(ctx context.Context) error {
		var err error
		res, err = b.next.CreateAssetAddress(ctx, vaultId, asset)
		return err
	})
	return res, err
}

func (b *Bounded) GenerateAddress(ctx context.Context, vaultId, asset string) (string, error) {
	var address string
	err := b.call(ctx, "generate_address", mutatePolicy, func(ctx context.Context) error {
		var err error
		address, err = b.next.GenerateAddress(ctx, vaultId, asset)
		return err
	})
	return address, err
}

func (b *Bounded) GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error) {
	var bal models.AssetBalance
	err := b.call(ctx, "get_balance", readPolicy, func(ctx context.Context) error {
		var err error
		bal, err = b.next.GetBalance(ctx, vaultId, asset)
		return err
	})
	return bal, err
}

func (b *Bounded) CreateExternalTransfer(ctx context.Context, params ExternalTransferParams) (models.TransferResult, error) {
	policy := mutatePolicy
	if params.IdempotencyKey == "" {
		policy = onceOnlyPolicy
	}
	var res models.TransferResult
	err := b.call(ctx, "create_external_transfer", policy, func(ctx context.Context) error {
		var err error
		res, err = b.next.CreateExternalTransfer(ctx, params)
		return err
	})
	return res, err
}

func (b *Bounded) CreateVaultToVaultTransfer(ctx context.Context, params VaultTransferParams) (models.TransferResult, error) {
	policy := mutatePolicy
	if params.IdempotencyKey == "" {
		policy = onceOnlyPolicy
	}
	var res models.TransferResult
	err := b.call(ctx, "create_vault_transfer", policy, func(ctx context.Context) error {
		var err error
		res, err = b.next.CreateVaultToVaultTransfer(ctx, params)
		return err
	})
	return res, err
}

func (b *Bounded) EstimateFee(ctx context.Context, asset string, amount decimal.Decimal) (models.FeeTiers, error) {
	var tiers models.FeeTiers
	err := b.call(ctx, "estimate_fee", readPolicy, func(ctx context.Context) error {
		var err error
		tiers, err = b.next.EstimateFee(ctx, asset, amount)
		return err
	})
	return tiers, err
}

func (b *Bounded) GetTransfer(ctx context.Context, providerTxId string) (models.TransferStatus, error) {
	var status models.TransferStatus
	err := b.call(ctx, "get_transfer", readPolicy, func(ctx context.Context) error {
		var err error
		status, err = b.next.GetTransfer(ctx, providerTxId)
		return err
	})
	return status, err
}
