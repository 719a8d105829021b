package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRPCURL(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	t.Setenv("API_PORT", "")
	t.Setenv("AGENT_DISCOVERY_INTERVAL_MS", "")
	t.Setenv("AGENT_CONCURRENCY", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("METRICS_ENABLED", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAPIPort, cfg.APIPort)
	assert.Equal(t, defaultAgentDiscoveryInterval, cfg.AgentDiscoveryIntervalMS)
	assert.Equal(t, defaultAgentConcurrency, cfg.AgentConcurrency)
	assert.Equal(t, defaultDataDir, cfg.DataDir)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestParseIntDefaultFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 42, parseIntDefault("SOME_INT", 42))
}

func TestAgentConcurrencyFloorsAtOne(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	t.Setenv("AGENT_CONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.AgentConcurrency)
}

func TestParsePortFallsBackOutsideValidRange(t *testing.T) {
	t.Setenv("SOME_PORT_TOO_BIG", "99999")
	assert.Equal(t, 3000, parsePort("SOME_PORT_TOO_BIG", 3000))

	t.Setenv("SOME_PORT_NEGATIVE", "-1")
	assert.Equal(t, 3000, parsePort("SOME_PORT_NEGATIVE", 3000))

	t.Setenv("SOME_PORT_OK", "8080")
	assert.Equal(t, 8080, parsePort("SOME_PORT_OK", 3000))
}

func TestLoadFallsBackToDefaultPortOnOutOfRangeEnv(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	t.Setenv("API_PORT", "999999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAPIPort, cfg.APIPort)
}
