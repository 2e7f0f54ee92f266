package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"custody-wallet-go/internal/api"
	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/database"
	"custody-wallet-go/internal/events"
	"custody-wallet-go/internal/fees"
	"custody-wallet-go/internal/fireblocks"
	"custody-wallet-go/internal/formance"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/prime"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/transfer"
	"custody-wallet-go/internal/vault"
	"custody-wallet-go/internal/wallet"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired object graph shared by the command line tools.
type Services struct {
	Config       *models.Config
	DbService    *database.Service
	Catalog      *assets.Catalog
	Gateway      provider.Gateway
	Vaults       *vault.Registry
	Wallets      *wallet.Registry
	Recorder     *ledger.Recorder
	Orchestrator *transfer.Orchestrator
	Fees         *fees.Estimator
	Ledger       *api.LedgerService
	// Formance is nil unless FORMANCE_STACK_URL is set.
	Formance *formance.Service

	closers []func()
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database, loads the asset catalog, connects
// the configured custody backend and wires the registries, ledger sinks,
// transfer orchestrator and fee estimator on top of it.
func InitializeServices(ctx context.Context, cfg *models.Config) (_ *Services, err error) {
	svc := &Services{Config: cfg}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.DbService, err = database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.DbService.Close)

	svc.Catalog, err = assets.LoadFile(cfg.AssetsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset catalog: %w", err)
	}

	backend, err := newBackend(ctx, cfg, svc.Catalog)
	if err != nil {
		return nil, err
	}
	svc.Gateway = provider.NewBounded(backend, provider.BoundedOptions{
		MaxConcurrency: cfg.Provider.MaxConcurrency,
		CallTimeout:    cfg.Provider.CallTimeout,
		MaxRetries:     cfg.Provider.MaxRetries,
		RetryInitial:   cfg.Provider.RetryInitial,
		RetryMax:       cfg.Provider.RetryMax,
	})

	svc.Vaults = vault.NewRegistry(svc.DbService, svc.Gateway, vault.Options{
		ClaimTTL: cfg.Transfers.VaultClaimTTL,
	})
	svc.Wallets = wallet.NewRegistry(svc.DbService, svc.Vaults, svc.Gateway, svc.Catalog, cfg.Provider.NetworkTag)

	var sinks []ledger.Sink
	var alerter transfer.Alerter
	if len(cfg.Events.KafkaBrokers) > 0 {
		emitter := events.NewKafkaEmitter(cfg.Events.KafkaBrokers, cfg.Events.LedgerTopic, cfg.Events.AlertTopic)
		svc.closers = append(svc.closers, func() {
			if err := emitter.Close(); err != nil {
				zap.L().Warn("Failed to close Kafka emitter", zap.Error(err))
			}
		})
		sinks = append(sinks, emitter)
		alerter = emitter
		zap.L().Info("Kafka event stream enabled",
			zap.Strings("brokers", cfg.Events.KafkaBrokers),
			zap.String("ledger_topic", cfg.Events.LedgerTopic))
	}
	if cfg.Formance.StackURL != "" {
		svc.Formance, err = formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, formance.NewMirror(svc.Formance, svc.Catalog))
	}

	svc.Recorder = ledger.NewRecorder(svc.DbService, sinks...)
	svc.Orchestrator = transfer.NewOrchestrator(svc.DbService, svc.Wallets, svc.Recorder, svc.Gateway, svc.Catalog, transfer.Options{
		DonationPrivacyId: cfg.Transfers.DonationPrivacyId,
		Alerter:           alerter,
	})

	ledgerCfg := api.LedgerServiceConfig{
		Store:   svc.DbService,
		Wallets: svc.Wallets,
		History: svc.Recorder,
		Gateway: svc.Gateway,
		Catalog: svc.Catalog,
	}
	if svc.Formance != nil {
		ledgerCfg.Mirror = svc.Formance
	}
	svc.Ledger = api.NewLedgerService(ledgerCfg)

	limiter, err := newFeeLimiter(ctx, svc, cfg.Fees)
	if err != nil {
		return nil, err
	}
	cache := fees.NewTTLCache(cfg.Fees.CacheTTL, cfg.Fees.CacheMaxEntries, nil)
	svc.Fees = fees.NewEstimator(svc.Gateway, svc.Catalog, cache, limiter, fees.Options{
		EtaSeconds: cfg.Fees.EtaSeconds,
	})

	zap.L().Info("Services initialized",
		zap.String("backend", backend.Name()),
		zap.Int("assets", len(svc.Catalog.Symbols())),
		zap.Int("ledger_sinks", len(sinks)))
	return svc, nil
}

// newBackend connects the custody provider selected by CUSTODY_BACKEND.
func newBackend(ctx context.Context, cfg *models.Config, catalog *assets.Catalog) (provider.Gateway, error) {
	switch cfg.Provider.Backend {
	case models.ProviderFireblocks:
		zap.L().Info("Loading Fireblocks API credentials")
		client, err := fireblocks.NewClient(cfg.Fireblocks)
		if err != nil {
			return nil, err
		}
		return fireblocks.NewGateway(client, catalog, cfg.Fireblocks), nil

	case models.ProviderPrime:
		zap.L().Info("Loading Prime API credentials")
		creds, err := prime.LoadCredentials(cfg.Prime)
		if err != nil {
			return nil, err
		}
		primeService, err := prime.NewService(creds)
		if err != nil {
			return nil, err
		}

		portfolioId := cfg.Prime.PortfolioId
		if portfolioId == "" {
			zap.L().Info("Finding default portfolio")
			portfolio, err := primeService.FindDefaultPortfolio(ctx)
			if err != nil {
				return nil, err
			}
			portfolioId = portfolio.Id
			zap.L().Info("Using default portfolio",
				zap.String("name", portfolio.Name),
				zap.String("id", portfolio.Id))
		}
		return prime.NewGateway(primeService, catalog, portfolioId, cfg.Prime.WalletType), nil
	}
	return nil, fmt.Errorf("unsupported custody backend %q", cfg.Provider.Backend)
}

// newFeeLimiter shares the fee rate limit through Redis when configured and
// falls back to an in-process window otherwise.
func newFeeLimiter(ctx context.Context, svc *Services, cfg models.FeeConfig) (fees.Limiter, error) {
	if cfg.RedisAddr == "" {
		return fees.NewFixedWindowLimiter(cfg.RateLimit, cfg.RateWindow, nil), nil
	}

	rdb, err := fees.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, func() {
		if err := rdb.Close(); err != nil {
			zap.L().Warn("Failed to close Redis client", zap.Error(err))
		}
	})
	zap.L().Info("Fee rate limit shared through Redis", zap.String("addr", cfg.RedisAddr))
	return fees.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateWindow), nil
}

// InitializeDatabaseOnly initializes just the database service without a
// custody backend. Useful for user management and ledger queries.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

// Close releases resources in reverse order of acquisition.
func (cs *Services) Close() {
	for i := len(cs.closers) - 1; i >= 0; i-- {
		cs.closers[i]()
	}
	cs.closers = nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
