package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Logging
	LogLevel string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Helius / Solana RPC configuration
	HeliusAPIKey    string
	HeliusAPIBase   string
	SolanaRPCURL    string
	RPCRateLimitRPS int

	// Temporal configuration
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Metrics
	MetricsAddr string

	// Ingestion configuration
	DiagnosticsDir  string
	IndexingWait    time.Duration
	DebugCapCompare bool

	// Wallet sync configuration
	SyncTargetTxCount     int
	SyncWalletConcurrency int

	// Correlation configuration
	CorrelationMaxDailyTokens int

	// Mint-participants configuration
	Participants ParticipantsConfig
}

// ParticipantsConfig groups the defaults for the mint-participants scan.
type ParticipantsConfig struct {
	WindowSeconds                   int64
	LimitBuyers                     int
	TxCountLimit                    int
	CandidateWindow                 int
	CreationScan                    string // "none" or "full"
	CreationSkipIfTokenAccountsOver int
	Output                          string // "jsonl", "csv" or "none"
	Outfile                         string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Logging
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Helius configuration. The API key authenticates both the enhanced
	// transactions endpoint and, when SOLANA_RPC_URL is not set, the
	// Helius-hosted JSON-RPC endpoint.
	cfg.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	if cfg.HeliusAPIKey == "" {
		errs = append(errs, fmt.Errorf("HELIUS_API_KEY is required"))
	}
	cfg.HeliusAPIBase = getEnvOrDefault("HELIUS_API_BASE", "https://api.helius.xyz")
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" && cfg.HeliusAPIKey != "" {
		cfg.SolanaRPCURL = fmt.Sprintf("https://mainnet.helius-rpc.com/?api-key=%s", cfg.HeliusAPIKey)
	}

	rps, err := parseInt("RPC_RATE_LIMIT_RPS", 10)
	if err != nil {
		errs = append(errs, err)
	} else if rps <= 0 {
		errs = append(errs, fmt.Errorf("RPC_RATE_LIMIT_RPS must be positive, got %d", rps))
	} else {
		cfg.RPCRateLimitRPS = rps
	}

	// Temporal configuration
	cfg.TemporalAddress = getEnvOrDefault("TEMPORAL_ADDRESS", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "cahoots-sync")

	// Metrics
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Ingestion configuration
	cfg.DiagnosticsDir = getEnvOrDefault("DIAGNOSTICS_DIR", "diagnostics")

	waitMs, err := parseInt("INGEST_INDEXING_WAIT_MS", 1500)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.IndexingWait = time.Duration(waitMs) * time.Millisecond
	}

	capCompare, err := parseBool("INGEST_DEBUG_CAP_COMPARE", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DebugCapCompare = capCompare
	}

	// Wallet sync configuration
	target, err := parseInt("SYNC_TARGET_TX_COUNT", 200)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SyncTargetTxCount = target
	}

	conc, err := parseInt("SYNC_WALLET_CONCURRENCY", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SyncWalletConcurrency = conc
	}

	// Correlation configuration. Single canonical key for the bot filter
	// threshold; every consumer reads this value.
	maxDaily, err := parseInt("CORRELATION_MAX_DAILY_TOKENS", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CorrelationMaxDailyTokens = maxDaily
	}

	// Mint-participants configuration
	pc := &cfg.Participants

	window, err := parseInt("MINT_PARTICIPANTS_WINDOW_SECONDS", 900)
	if err != nil {
		errs = append(errs, err)
	} else {
		pc.WindowSeconds = int64(window)
	}

	pc.LimitBuyers, err = parseInt("MINT_PARTICIPANTS_LIMIT_BUYERS", 50)
	if err != nil {
		errs = append(errs, err)
	}
	pc.TxCountLimit, err = parseInt("MINT_PARTICIPANTS_TX_COUNT_LIMIT", 300)
	if err != nil {
		errs = append(errs, err)
	}
	pc.CandidateWindow, err = parseInt("MINT_PARTICIPANTS_CANDIDATE_WINDOW", 3000)
	if err != nil {
		errs = append(errs, err)
	}
	pc.CreationSkipIfTokenAccountsOver, err = parseInt("MINT_PARTICIPANTS_CREATION_SKIP_IF_TOKEN_ACCOUNTS_OVER", 1000)
	if err != nil {
		errs = append(errs, err)
	}

	pc.CreationScan = getEnvOrDefault("MINT_PARTICIPANTS_CREATION_SCAN", "none")
	if pc.CreationScan != "none" && pc.CreationScan != "full" {
		errs = append(errs, fmt.Errorf("MINT_PARTICIPANTS_CREATION_SCAN must be \"none\" or \"full\", got %q", pc.CreationScan))
	}

	pc.Output = getEnvOrDefault("MINT_PARTICIPANTS_OUTPUT", "jsonl")
	if pc.Output != "jsonl" && pc.Output != "csv" && pc.Output != "none" {
		errs = append(errs, fmt.Errorf("MINT_PARTICIPANTS_OUTPUT must be \"jsonl\", \"csv\" or \"none\", got %q", pc.Output))
	}

	pc.Outfile = os.Getenv("MINT_PARTICIPANTS_OUTFILE")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for binary initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.HeliusAPIKey == "" {
		errs = append(errs, fmt.Errorf("HeliusAPIKey is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.RPCRateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimitRPS must be positive"))
	}

	if c.TemporalAddress == "" {
		errs = append(errs, fmt.Errorf("TemporalAddress is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.SyncWalletConcurrency < 1 {
		errs = append(errs, fmt.Errorf("SyncWalletConcurrency must be at least 1"))
	}

	if c.IndexingWait < 0 {
		errs = append(errs, fmt.Errorf("IndexingWait cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
