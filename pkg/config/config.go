// Package config loads SolDocs' runtime configuration from the
// environment (§6), falling back to an interactive prompt for the
// Anthropic API key when running on a terminal and the variable is unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"
)

const (
	defaultAPIPort                = 3000
	defaultAgentDiscoveryInterval = 300_000
	defaultAgentConcurrency       = 1
	defaultDataDir                = "./data"
	defaultLogLevel               = "info"

	minAPIPort = 1
	maxAPIPort = 65535
)

// Config is the fully resolved set of runtime settings.
type Config struct {
	SolanaRPCURL             string
	AnthropicAPIKey          string
	APIPort                  int
	AgentDiscoveryIntervalMS int
	AgentConcurrency         int
	WebhookURL               string
	DataDir                  string
	MetricsEnabled           bool
	LogLevel                 string
}

// Load reads every setting from the environment, applying defaults to
// optional values and falling back to an interactive password-style prompt
// for ANTHROPIC_API_KEY when stdin is a terminal.
func Load() (*Config, error) {
	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		return nil, fmt.Errorf("config: SOLANA_RPC_URL is required")
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		var err error
		apiKey, err = promptForAPIKey()
		if err != nil {
			return nil, fmt.Errorf("config: ANTHROPIC_API_KEY is required: %w", err)
		}
	}
	if !strings.HasPrefix(apiKey, "sk-ant-") {
		fmt.Fprintln(os.Stderr, "warning: ANTHROPIC_API_KEY does not look like an Anthropic key (expected sk-ant- prefix)")
	}

	cfg := &Config{
		SolanaRPCURL:             rpcURL,
		AnthropicAPIKey:          apiKey,
		APIPort:                  parsePort("API_PORT", defaultAPIPort),
		AgentDiscoveryIntervalMS: parseIntDefault("AGENT_DISCOVERY_INTERVAL_MS", defaultAgentDiscoveryInterval),
		AgentConcurrency:         max(1, parseIntDefault("AGENT_CONCURRENCY", defaultAgentConcurrency)),
		WebhookURL:               os.Getenv("WEBHOOK_URL"),
		DataDir:                  stringDefault("DATA_DIR", defaultDataDir),
		MetricsEnabled:           boolDefault("METRICS_ENABLED", true),
		LogLevel:                 stringDefault("LOG_LEVEL", defaultLogLevel),
	}
	return cfg, nil
}

func promptForAPIKey() (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("not set and no terminal available to prompt")
	}
	fmt.Print("Enter Anthropic API key: ")
	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	defer func() {
		for i := range keyBytes {
			keyBytes[i] = 0
		}
	}()
	return string(keyBytes), nil
}

func stringDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func boolDefault(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseIntDefault parses name as an int, falling back to def on a missing
// variable or a parse error (§6: "parse errors fall back to defaults on
// optional numerics").
func parseIntDefault(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parsePort is parseIntDefault plus the §6 port-range check: a value
// outside [1,65535] falls back to def with a warning, same as a parse
// error would.
func parsePort(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s=%q is not an integer, using default %d\n", name, v, def)
		return def
	}
	if n < minAPIPort || n > maxAPIPort {
		fmt.Fprintf(os.Stderr, "warning: %s=%d is outside [%d,%d], using default %d\n", name, n, minAPIPort, maxAPIPort, def)
		return def
	}
	return n
}
