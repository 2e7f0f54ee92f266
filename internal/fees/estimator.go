// Package fees quotes network fees for prospective transfers.
package fees

import (
	"context"
	"fmt"
	"strings"
	"time"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	EtaSeconds int
	Now        func() time.Time
}

// quoteTimeout bounds a shared upstream fee call, which outlives the caller
// that started it.
const quoteTimeout = 30 * time.Second

type Estimator struct {
	gateway provider.Gateway
	catalog *assets.Catalog
	cache   Cache
	limiter Limiter
	opts    Options
	group   singleflight.Group
}

func NewEstimator(gateway provider.Gateway, catalog *assets.Catalog, cache Cache, limiter Limiter, opts Options) *Estimator {
	if opts.EtaSeconds <= 0 {
		opts.EtaSeconds = 60
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Estimator{
		gateway: gateway,
		catalog: catalog,
		cache:   cache,
		limiter: limiter,
		opts:    opts,
	}
}

// Estimate returns low, medium and high fee tiers for sending amount of
// asset to destination. callerId keys the rate limiter, which is consulted
// before anything else so cache hits still count against the caller.
func (e *Estimator) Estimate(ctx context.Context, callerId, asset string, amount decimal.Decimal, destination string) (*models.FeeQuote, error) {
	allowed, err := e.limiter.Allow(ctx, callerId)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: fee estimates for %s", models.ErrRateLimited, callerId)
	}

	a, err := e.catalog.Describe(asset)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount)
	}
	destination = strings.TrimSpace(destination)
	ok, err := e.catalog.ValidateDestination(a.Symbol, destination)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAddress, MaskAddress(destination))
	}

	key := CacheKey(a.Symbol, amount, destination)
	if quote, hit := e.cache.Get(key); hit {
		zap.L().Debug("Fee quote served from cache", zap.String("asset", a.Symbol))
		return &quote, nil
	}

	ch := e.group.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), quoteTimeout)
		defer cancel()
		tiers, err := e.gateway.EstimateFee(qctx, a.Symbol, amount)
		if err != nil {
			return nil, err
		}
		quote := models.FeeQuote{
			Asset:      a.Symbol,
			Units:      a.FeeUnits(),
			Low:        tiers.Low,
			Medium:     tiers.Medium,
			High:       tiers.High,
			EtaSeconds: e.opts.EtaSeconds,
			QuotedAt:   e.opts.Now(),
		}
		e.cache.Set(key, quote)
		return quote, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := res.Err; err != nil {
		zap.L().Warn("Fee estimate failed",
			zap.String("asset", a.Symbol),
			zap.String("amount", amount.String()),
			zap.Bool("retryable", provider.IsRetryable(err)),
			zap.Error(err))
		return nil, fmt.Errorf("unable to estimate fee: %w", err)
	}

	quote := res.Val.(models.FeeQuote)
	return &quote, nil
}
