/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"custody-wallet-go/internal/models"
)

func Load() (*models.Config, error) {
	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout, busyTimeout time.Duration
		callTimeout, retryInitial, retryMax                        time.Duration
		feeCacheTTL, feeRateWindow, vaultClaimTTL                  time.Duration
		pollingInterval, cleanupInterval, listenerMinAge           time.Duration
	)
	defaults := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &connMaxLifetime, 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", &connMaxIdleTime, 30 * time.Second},
		{"DB_PING_TIMEOUT", &pingTimeout, 5 * time.Second},
		{"DB_BUSY_TIMEOUT", &busyTimeout, 5 * time.Second},
		{"PROVIDER_CALL_TIMEOUT", &callTimeout, 20 * time.Second},
		{"PROVIDER_RETRY_INITIAL", &retryInitial, 250 * time.Millisecond},
		{"PROVIDER_RETRY_MAX", &retryMax, 5 * time.Second},
		{"FEE_CACHE_TTL", &feeCacheTTL, 60 * time.Second},
		{"FEE_RATE_WINDOW", &feeRateWindow, 60 * time.Second},
		{"VAULT_CLAIM_TTL", &vaultClaimTTL, 2 * time.Minute},
		{"LISTENER_POLLING_INTERVAL", &pollingInterval, 30 * time.Second},
		{"LISTENER_CLEANUP_INTERVAL", &cleanupInterval, 15 * time.Minute},
		{"LISTENER_MIN_AGE", &listenerMinAge, 10 * time.Second},
	}
	for _, d := range defaults {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	requestsPerSec, err := getEnvFloat("FIREBLOCKS_REQUESTS_PER_SEC", 10)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvString("CUSTODY_BACKEND", models.ProviderFireblocks))
	if backend != models.ProviderFireblocks && backend != models.ProviderPrime {
		return nil, fmt.Errorf("invalid CUSTODY_BACKEND: %q (want fireblocks or prime)", backend)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "custody.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		Provider: models.ProviderConfig{
			Backend:        backend,
			NetworkTag:     getEnvString("PROVIDER_NETWORK_TAG", strings.ToUpper(backend)),
			CallTimeout:    callTimeout,
			MaxConcurrency: getEnvInt("PROVIDER_MAX_CONCURRENCY", 16),
			MaxRetries:     getEnvInt("PROVIDER_MAX_RETRIES", 3),
			RetryInitial:   retryInitial,
			RetryMax:       retryMax,
		},
		Fireblocks: models.FireblocksConfig{
			BaseURL:        getEnvString("FIREBLOCKS_BASE_URL", "https://api.fireblocks.io"),
			APIKey:         os.Getenv("FIREBLOCKS_API_KEY"),
			PrivateKeyPath: os.Getenv("FIREBLOCKS_PRIVATE_KEY_PATH"),
			PrivateKeyPEM:  os.Getenv("FIREBLOCKS_PRIVATE_KEY"),
			FeeVaultId:     getEnvString("FIREBLOCKS_FEE_VAULT_ID", "0"),
			RequestsPerSec: requestsPerSec,
			Burst:          getEnvInt("FIREBLOCKS_BURST", 20),
			HideVaultsOnUI: getEnvBool("FIREBLOCKS_HIDE_VAULTS", true),
		},
		Prime: models.PrimeConfig{
			AccessKey:   os.Getenv("PRIME_ACCESS_KEY"),
			Passphrase:  os.Getenv("PRIME_PASSPHRASE"),
			SigningKey:  os.Getenv("PRIME_SIGNING_KEY"),
			PortfolioId: os.Getenv("PRIME_PORTFOLIO_ID"),
			WalletType:  getEnvString("PRIME_WALLET_TYPE", "VAULT"),
		},
		Fees: models.FeeConfig{
			CacheTTL:        feeCacheTTL,
			CacheMaxEntries: getEnvInt("FEE_CACHE_MAX_ENTRIES", 2048),
			RateLimit:       getEnvInt("FEE_RATE_LIMIT", 10),
			RateWindow:      feeRateWindow,
			EtaSeconds:      getEnvInt("FEE_ETA_SECONDS", 60),
			RedisAddr:       os.Getenv("FEE_REDIS_ADDR"),
			RedisPassword:   os.Getenv("FEE_REDIS_PASSWORD"),
			RedisDB:         getEnvInt("FEE_REDIS_DB", 0),
		},
		Transfers: models.TransferConfig{
			DonationPrivacyId: os.Getenv("DONATION_PRIVACY_ID"),
			VaultClaimTTL:     vaultClaimTTL,
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "custody-wallet"),
		},
		Events: models.EventsConfig{
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			LedgerTopic:  getEnvString("KAFKA_LEDGER_TOPIC", "custody.ledger"),
			AlertTopic:   getEnvString("KAFKA_ALERT_TOPIC", "custody.reconciliation"),
		},
		Listener: models.ListenerConfig{
			PollingInterval: pollingInterval,
			CleanupInterval: cleanupInterval,
			BatchSize:       getEnvInt("LISTENER_BATCH_SIZE", 100),
			MinAge:          listenerMinAge,
		},
		AssetsFile: getEnvString("ASSETS_FILE", "assets.yaml"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
