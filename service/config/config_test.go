package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "test-key", cfg.HeliusAPIKey)
	assert.Equal(t, "https://api.helius.xyz", cfg.HeliusAPIBase) // Default
	assert.Equal(t, "info", cfg.LogLevel)                        // Default
	assert.Equal(t, 10, cfg.RPCRateLimitRPS)
	assert.Equal(t, 1500*time.Millisecond, cfg.IndexingWait)
	assert.Equal(t, 3, cfg.SyncWalletConcurrency)
	assert.Equal(t, 50, cfg.CorrelationMaxDailyTokens)
	assert.Equal(t, "jsonl", cfg.Participants.Output)
}

func TestLoad_DerivesRPCURLFromAPIKey(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=test-key", cfg.SolanaRPCURL)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Setenv("HELIUS_API_KEY", "test-key")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingHeliusAPIKey(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "HELIUS_API_KEY is required")
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	os.Setenv("RPC_RATE_LIMIT_RPS", "-5")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "RPC_RATE_LIMIT_RPS must be positive")
}

func TestLoad_InvalidIndexingWait(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	os.Setenv("INGEST_INDEXING_WAIT_MS", "soon")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_InvalidParticipantsOutput(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	os.Setenv("MINT_PARTICIPANTS_OUTPUT", "xml")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "MINT_PARTICIPANTS_OUTPUT")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_ADDRESS", "temporal.example.com:7233")
	os.Setenv("RPC_RATE_LIMIT_RPS", "25")
	os.Setenv("INGEST_DEBUG_CAP_COMPARE", "true")
	os.Setenv("SYNC_TARGET_TX_COUNT", "500")
	os.Setenv("MINT_PARTICIPANTS_CREATION_SCAN", "full")
	os.Setenv("MINT_PARTICIPANTS_WINDOW_SECONDS", "1800")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalAddress)
	assert.Equal(t, 25, cfg.RPCRateLimitRPS)
	assert.True(t, cfg.DebugCapCompare)
	assert.Equal(t, 500, cfg.SyncTargetTxCount)
	assert.Equal(t, "full", cfg.Participants.CreationScan)
	assert.Equal(t, int64(1800), cfg.Participants.WindowSeconds)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		DatabaseURL:           "postgres://localhost/test",
		HeliusAPIKey:          "test-key",
		SolanaRPCURL:          "https://api.mainnet-beta.solana.com",
		RPCRateLimitRPS:       10,
		TemporalAddress:       "localhost:7233",
		TemporalNamespace:     "default",
		TemporalTaskQueue:     "cahoots-sync",
		SyncWalletConcurrency: 3,
	}

	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := &Config{
		HeliusAPIKey:          "test-key",
		SolanaRPCURL:          "https://api.mainnet-beta.solana.com",
		RPCRateLimitRPS:       10,
		TemporalAddress:       "localhost:7233",
		TemporalNamespace:     "default",
		TemporalTaskQueue:     "cahoots-sync",
		SyncWalletConcurrency: 3,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_InvalidConcurrency(t *testing.T) {
	cfg := &Config{
		DatabaseURL:       "postgres://localhost/test",
		HeliusAPIKey:      "test-key",
		SolanaRPCURL:      "https://api.mainnet-beta.solana.com",
		RPCRateLimitRPS:   10,
		TemporalAddress:   "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "cahoots-sync",
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyncWalletConcurrency must be at least 1")
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("HELIUS_API_KEY", "test-key")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("HELIUS_API_KEY")
	os.Unsetenv("HELIUS_API_BASE")
	os.Unsetenv("SOLANA_RPC_URL")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("TEMPORAL_ADDRESS")
	os.Unsetenv("RPC_RATE_LIMIT_RPS")
	os.Unsetenv("INGEST_INDEXING_WAIT_MS")
	os.Unsetenv("INGEST_DEBUG_CAP_COMPARE")
	os.Unsetenv("SYNC_TARGET_TX_COUNT")
	os.Unsetenv("MINT_PARTICIPANTS_OUTPUT")
	os.Unsetenv("MINT_PARTICIPANTS_CREATION_SCAN")
	os.Unsetenv("MINT_PARTICIPANTS_WINDOW_SECONDS")
}
