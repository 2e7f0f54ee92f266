package config

import (
	"testing"
	"time"

	"custody-wallet-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CUSTODY_BACKEND", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("FORMANCE_STACK_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, models.ProviderFireblocks, cfg.Provider.Backend)
	assert.Equal(t, "FIREBLOCKS", cfg.Provider.NetworkTag)
	assert.Equal(t, 20*time.Second, cfg.Provider.CallTimeout)
	assert.Equal(t, 16, cfg.Provider.MaxConcurrency)
	assert.Equal(t, 60*time.Second, cfg.Fees.CacheTTL)
	assert.Equal(t, 10, cfg.Fees.RateLimit)
	assert.Equal(t, 2*time.Minute, cfg.Transfers.VaultClaimTTL)
	assert.Equal(t, 30*time.Second, cfg.Listener.PollingInterval)
	assert.Equal(t, "custody-wallet", cfg.Formance.LedgerName)
	assert.Empty(t, cfg.Events.KafkaBrokers)
	assert.Equal(t, "assets.yaml", cfg.AssetsFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CUSTODY_BACKEND", "Prime")
	t.Setenv("PROVIDER_CALL_TIMEOUT", "3s")
	t.Setenv("FIREBLOCKS_REQUESTS_PER_SEC", "2.5")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("LISTENER_BATCH_SIZE", "25")
	t.Setenv("FIREBLOCKS_HIDE_VAULTS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, models.ProviderPrime, cfg.Provider.Backend)
	assert.Equal(t, "PRIME", cfg.Provider.NetworkTag)
	assert.Equal(t, 3*time.Second, cfg.Provider.CallTimeout)
	assert.Equal(t, 2.5, cfg.Fireblocks.RequestsPerSec)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 25, cfg.Listener.BatchSize)
	assert.False(t, cfg.Fireblocks.HideVaultsOnUI)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CUSTODY_BACKEND":             "bitgo",
		"FEE_CACHE_TTL":               "soon",
		"FIREBLOCKS_REQUESTS_PER_SEC": "fast",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "twelve")
	assert.Equal(t, 7, getEnvInt("SOME_INT", 7))
}
