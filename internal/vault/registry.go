// Package vault maps each user to exactly one custody provider vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options tunes how long a creation claim is honored and how losers wait.
type Options struct {
	ClaimTTL    time.Duration
	WaitInitial time.Duration
	WaitMax     time.Duration
	Now         func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 2 * time.Minute
	}
	if o.WaitInitial <= 0 {
		o.WaitInitial = 100 * time.Millisecond
	}
	if o.WaitMax <= 0 {
		o.WaitMax = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Registry creates provider vaults at most once per user. In-process callers
// collapse on a singleflight key; other processes serialize on the claim row
// and the unique vault user_id.
type Registry struct {
	store   store.VaultStore
	gateway provider.Gateway
	opts    Options
	group   singleflight.Group
}

func NewRegistry(vaults store.VaultStore, gateway provider.Gateway, opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{store: vaults, gateway: gateway, opts: opts}
}

// EnsureVault returns the user's provider vault id, creating the vault on first use.
func (r *Registry) EnsureVault(ctx context.Context, userId string) (string, error) {
	v, err := r.store.GetVaultByUser(ctx, userId)
	if err == nil {
		return v.VaultId, nil
	}
	if !errors.Is(err, store.ErrVaultNotFound) {
		return "", err
	}

	// The creation is shared by every concurrent caller, so it runs detached
	// from the first caller's cancellation and is bounded by the claim wait.
	ch := r.group.DoChan(userId, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ClaimTTL+r.opts.WaitMax)
		defer cancel()
		return r.create(sctx, userId)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			zap.L().Debug("Vault creation shared with concurrent caller", zap.String("user_id", userId))
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CreateVault is the explicit creation entry point. It fails with
// models.ErrVaultAlreadyExists when the user already has a vault.
func (r *Registry) CreateVault(ctx context.Context, userId string) (string, error) {
	if v, err := r.store.GetVaultByUser(ctx, userId); err == nil {
		return "", fmt.Errorf("%w: user %s has vault %s", models.ErrVaultAlreadyExists, userId, v.VaultId)
	} else if !errors.Is(err, store.ErrVaultNotFound) {
		return "", err
	}
	return r.EnsureVault(ctx, userId)
}

func (r *Registry) create(ctx context.Context, userId string) (string, error) {
	var vaultId string

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = r.opts.WaitInitial
	wait.MaxInterval = r.opts.WaitMax
	wait.MaxElapsedTime = r.opts.ClaimTTL + r.opts.WaitMax

	attempt := func() error {
		id, err := r.tryCreate(ctx, userId)
		if err == nil {
			vaultId = id
			return nil
		}
		if errors.Is(err, store.ErrClaimHeld) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		zap.L().Debug("Waiting for concurrent vault creation",
			zap.String("user_id", userId),
			zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(wait, ctx), notify); err != nil {
		return "", fmt.Errorf("unable to ensure vault for user %s: %w", userId, err)
	}
	return vaultId, nil
}

func (r *Registry) tryCreate(ctx context.Context, userId string) (string, error) {
	token := uuid.New().String()
	now := r.opts.Now()

	existing, err := r.store.ClaimVaultCreation(ctx, userId, token, now, now.Add(-r.opts.ClaimTTL))
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.VaultId, nil
	}

	vaultId, err := r.gateway.CreateVaultAccount(ctx, userId)
	if err != nil {
		if releaseErr := r.store.ReleaseVaultClaim(context.WithoutCancel(ctx), userId, token); releaseErr != nil {
			zap.L().Warn("Failed to release vault claim", zap.String("user_id", userId), zap.Error(releaseErr))
		}
		return "", fmt.Errorf("unable to create provider vault: %w", err)
	}

	v, err := r.store.InsertVault(context.WithoutCancel(ctx), userId, vaultId)
	if err == nil {
		zap.L().Info("Vault created",
			zap.String("user_id", userId),
			zap.String("vault_id", v.VaultId),
			zap.String("provider", r.gateway.Name()))
		return v.VaultId, nil
	}

	if errors.Is(err, store.ErrConflict) {
		winner, readErr := r.store.GetVaultByUser(ctx, userId)
		if readErr != nil {
			return "", fmt.Errorf("unable to read winning vault: %w", readErr)
		}
		zap.L().Warn("Lost vault creation race, provider vault is orphaned",
			zap.String("user_id", userId),
			zap.String("orphan_vault_id", vaultId),
			zap.String("vault_id", winner.VaultId))
		return winner.VaultId, nil
	}

	zap.L().Error("Provider vault created but not recorded",
		zap.String("user_id", userId),
		zap.String("vault_id", vaultId),
		zap.Error(err))
	if releaseErr := r.store.ReleaseVaultClaim(context.WithoutCancel(ctx), userId, token); releaseErr != nil {
		zap.L().Warn("Failed to release vault claim", zap.String("user_id", userId), zap.Error(releaseErr))
	}
	return "", fmt.Errorf("unable to record vault %s: %w", vaultId, err)
}
