package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18920,
			MaxMessageChars: 4096,
			RateLimitRPM:    60,
		},
		Database: DatabaseConfig{
			Path: "~/.warelay/warelay.db",
		},
		Bridge: BridgeConfig{
			BaseURL:    "https://api.green-api.com",
			TimeoutSec: 30,
		},
		Provider: ProviderConfig{
			Name:      "anthropic",
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
		},
		Dedup: DedupConfig{
			WindowSec: 300,
			MaxKeys:   65536,
		},
		Escalation: EscalationConfig{
			MissThreshold: 3,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:  3,
			BaseDelaySec: 1,
			RatePerSec:   5,
		},
		Followup: FollowupConfig{
			Enabled:  true,
			Schedule: "* * * * *",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "warelay",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets are env-only, never read from the file.
	envStr("WARELAY_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("WARELAY_DATABASE_DSN", &c.Database.DSN)
	envStr("WARELAY_ANTHROPIC_API_KEY", &c.Provider.AnthropicAPIKey)
	envStr("WARELAY_OPENAI_API_KEY", &c.Provider.OpenAIAPIKey)

	envStr("WARELAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("WARELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("WARELAY_BRIDGE_BASE_URL", &c.Bridge.BaseURL)
	envStr("WARELAY_PROVIDER", &c.Provider.Name)
	envStr("WARELAY_MODEL", &c.Provider.Model)
	envStr("WARELAY_DATABASE_PATH", &c.Database.Path)

	envStr("WARELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WARELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("WARELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("WARELAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WARELAY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file with secrets omitted
// (secret fields carry `json:"-"` so they never persist).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DatabaseDSN returns the effective DSN: the env-provided one if set,
// otherwise a sqlite DSN built from the configured path.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return "sqlite:" + ExpandHome(c.Database.Path)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
