package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Provider   ProviderConfig
	Fireblocks FireblocksConfig
	Prime      PrimeConfig
	Fees       FeeConfig
	Transfers  TransferConfig
	Formance   FormanceConfig
	Events     EventsConfig
	Listener   ListenerConfig
	AssetsFile string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// ProviderConfig selects the custody backend and bounds every call made to it.
type ProviderConfig struct {
	Backend        string // "fireblocks" or "prime"
	NetworkTag     string // stored on wallet rows, e.g. "FIREBLOCKS"
	CallTimeout    time.Duration
	MaxConcurrency int
	MaxRetries     int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

// FireblocksConfig holds Fireblocks API settings. The private key is never logged.
type FireblocksConfig struct {
	BaseURL        string
	APIKey         string
	PrivateKeyPath string
	PrivateKeyPEM  string
	FeeVaultId     string
	RequestsPerSec float64
	Burst          int
	HideVaultsOnUI bool
}

// PrimeConfig holds Coinbase Prime settings.
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioId string
	WalletType  string
}

// FeeConfig controls the fee quote cache and per-caller rate limit.
type FeeConfig struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
	RateLimit       int
	RateWindow      time.Duration
	EtaSeconds      int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
}

// TransferConfig holds transfer routing settings.
type TransferConfig struct {
	DonationPrivacyId string
	VaultClaimTTL     time.Duration
}

// FormanceConfig holds the optional Formance ledger mirror settings.
// The mirror is disabled when StackURL is empty.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// EventsConfig holds the optional Kafka event stream settings.
type EventsConfig struct {
	KafkaBrokers []string
	LedgerTopic  string
	AlertTopic   string
}

// ListenerConfig holds transfer status listener settings
type ListenerConfig struct {
	PollingInterval time.Duration
	CleanupInterval time.Duration
	BatchSize       int
	MinAge          time.Duration
}
