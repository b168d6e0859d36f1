package config

// Config is the root configuration for the warelay gateway.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database,omitempty"`
	Bridge     BridgeConfig     `json:"bridge"`
	Provider   ProviderConfig   `json:"provider"`
	Dedup      DedupConfig      `json:"dedup,omitempty"`
	Escalation EscalationConfig `json:"escalation,omitempty"`
	Delivery   DeliveryConfig   `json:"delivery,omitempty"`
	Followup   FollowupConfig   `json:"followup,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Token           string `json:"-"` // from env WARELAY_GATEWAY_TOKEN only
	MaxMessageChars int    `json:"max_message_chars"`
	RateLimitRPM    int    `json:"rate_limit_rpm"`
}

// DatabaseConfig selects the storage backend. DSN is NEVER read from the
// config file (secret) — only from env WARELAY_DATABASE_DSN. An empty DSN
// falls back to a local SQLite file.
type DatabaseConfig struct {
	DSN  string `json:"-"`
	Path string `json:"path,omitempty"` // sqlite file when DSN is empty
}

// BridgeConfig configures the WhatsApp REST bridge.
type BridgeConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// ProviderConfig selects and configures the reply generator.
// API keys come from env only, never from the config file.
type ProviderConfig struct {
	Name            string `json:"name"` // "anthropic", "openai", or "mock"
	Model           string `json:"model"`
	MaxTokens       int    `json:"max_tokens"`
	AnthropicAPIKey string `json:"-"` // WARELAY_ANTHROPIC_API_KEY
	OpenAIAPIKey    string `json:"-"` // WARELAY_OPENAI_API_KEY
}

// DedupConfig tunes the inbound duplicate gate.
type DedupConfig struct {
	WindowSec int `json:"window_sec"` // fingerprint TTL
	MaxKeys   int `json:"max_keys,omitempty"`
}

// EscalationConfig tunes the handoff classifier.
type EscalationConfig struct {
	MissThreshold int `json:"miss_threshold"` // consecutive unhelpful replies before handoff
}

// DeliveryConfig tunes the outbound guard.
type DeliveryConfig struct {
	MaxAttempts  int     `json:"max_attempts"`
	BaseDelaySec float64 `json:"base_delay_sec"`
	RatePerSec   float64 `json:"rate_per_sec"`
}

// FollowupConfig tunes re-engagement scheduling.
type FollowupConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`   // cron expression for the sweep
	DelaysMin []int  `json:"delays_min,omitempty"` // ladder in minutes
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}
