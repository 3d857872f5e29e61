// Package config implements the typed configuration record and
// redaction filter (C8): defaults, layered with a YAML file, then
// environment variables, then runtime updates (§4.8).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment is the deployment tier, gating which validation rules are
// fatal (§4.8: required secrets present in "production" mode).
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// LLMConfig configures the language-model provider adapter selection
// (the provider itself is an external collaborator; only the dial
// parameters are this package's concern).
type LLMConfig struct {
	Provider      string  `yaml:"provider" env:"LLM_PROVIDER"`
	Model         string  `yaml:"model" env:"LLM_MODEL"`
	Temperature   float64 `yaml:"temperature" env:"LLM_TEMPERATURE"`
	MaxTokens     int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`
	TimeoutSecs   int     `yaml:"timeout" env:"LLM_TIMEOUT"`
	RetryAttempts int     `yaml:"retry_attempts" env:"LLM_RETRY_ATTEMPTS"`
	APIKey        string  `yaml:"api_key" env:"LLM_API_KEY"`
}

// A2AConfig configures the JSON-RPC transport and its connection pool.
type A2AConfig struct {
	TimeoutSecs               int `yaml:"timeout" env:"A2A_TIMEOUT"`
	SockReadTimeoutSecs       int `yaml:"sock_read_timeout" env:"A2A_SOCK_READ_TIMEOUT"`
	HealthCheckTimeoutSecs    int `yaml:"health_check_timeout" env:"A2A_HEALTH_CHECK_TIMEOUT"`
	RetryAttempts             int `yaml:"retry_attempts" env:"A2A_RETRY_ATTEMPTS"`
	CircuitBreakerThreshold   int `yaml:"circuit_breaker_threshold" env:"A2A_CIRCUIT_BREAKER_THRESHOLD"`
	CircuitBreakerTimeoutSecs int `yaml:"circuit_breaker_timeout" env:"A2A_CIRCUIT_BREAKER_TIMEOUT"`
	ConnectionPoolSize        int `yaml:"connection_pool_size" env:"A2A_CONNECTION_POOL_SIZE"`
	ConnectionPoolSizePerHost int `yaml:"connection_pool_size_per_host" env:"A2A_CONNECTION_POOL_SIZE_PER_HOST"`
	KeepaliveTimeoutSecs      int `yaml:"keepalive_timeout" env:"A2A_KEEPALIVE_TIMEOUT"`
	DNSCacheTTLSecs           int `yaml:"dns_cache_ttl" env:"A2A_DNS_CACHE_TTL"`
	// MaxInFlightPerHost caps concurrent inbound process_task/
	// get_agent_card requests the server accepts from a single remote
	// host before rejecting the rest with HTTP 503 (§5 Backpressure).
	// Distinct from ConnectionPoolSizePerHost, which bounds the
	// orchestrator's own outbound calls to specialists.
	MaxInFlightPerHost int `yaml:"max_in_flight_per_host" env:"A2A_MAX_IN_FLIGHT_PER_HOST"`
}

// DatabaseConfig configures the durable store backends (C3).
type DatabaseConfig struct {
	Path          string `yaml:"path" env:"DATABASE_PATH"`
	TimeoutSecs   int    `yaml:"timeout" env:"DATABASE_TIMEOUT"`
	PoolSize      int    `yaml:"pool_size" env:"DATABASE_POOL_SIZE"`
	PostgresDSN   string `yaml:"postgres_dsn" env:"DATABASE_POSTGRES_DSN"`
}

// ConversationConfig configures C5's background triggers and message
// windowing.
type ConversationConfig struct {
	SummaryTriggerMessages    int `yaml:"summary_trigger_messages" env:"CONVERSATION_SUMMARY_TRIGGER_MESSAGES"`
	MaxMessagesToPreserve     int `yaml:"max_messages_to_preserve" env:"CONVERSATION_MAX_MESSAGES_TO_PRESERVE"`
	MaxTokensToPreserve       int `yaml:"max_tokens_to_preserve" env:"CONVERSATION_MAX_TOKENS_TO_PRESERVE"`
	MaxEventHistory           int `yaml:"max_event_history" env:"CONVERSATION_MAX_EVENT_HISTORY"`
	MemoryUpdateTriggerCount  int `yaml:"memory_update_trigger_messages" env:"CONVERSATION_MEMORY_UPDATE_TRIGGER_MESSAGES"`
}

// AgentConfig describes one statically configured specialist agent.
type AgentConfig struct {
	Host                  string   `yaml:"host"`
	Port                  int      `yaml:"port"`
	Capabilities          []string `yaml:"capabilities"`
	HealthCheckIntervalS  int      `yaml:"health_check_interval"`
}

// Config is the top-level, typed configuration record (§4.8, §6).
type Config struct {
	Environment  Environment            `yaml:"environment" env:"ENVIRONMENT"`
	Debug        bool                   `yaml:"debug" env:"DEBUG"`
	LLM          LLMConfig              `yaml:"llm"`
	A2A          A2AConfig              `yaml:"a2a"`
	Database     DatabaseConfig         `yaml:"database"`
	Conversation ConversationConfig     `yaml:"conversation"`
	Agents       map[string]AgentConfig `yaml:"agents"`
}

// Defaults returns the baseline configuration before any file or
// environment overrides are layered on (§4.8 load order: defaults ←
// file ← environment ← runtime).
func Defaults() Config {
	return Config{
		Environment: Development,
		LLM: LLMConfig{
			Provider:      "anthropic",
			Temperature:   0.2,
			MaxTokens:     4096,
			TimeoutSecs:   30,
			RetryAttempts: 3,
		},
		A2A: A2AConfig{
			TimeoutSecs:               30,
			SockReadTimeoutSecs:       30,
			HealthCheckTimeoutSecs:    10,
			RetryAttempts:             3,
			CircuitBreakerThreshold:   5,
			CircuitBreakerTimeoutSecs: 60,
			ConnectionPoolSize:        50,
			ConnectionPoolSizePerHost: 20,
			KeepaliveTimeoutSecs:      30,
			DNSCacheTTLSecs:           300,
			MaxInFlightPerHost:        100,
		},
		Database: DatabaseConfig{
			Path:     "orchestrator.db",
			TimeoutSecs: 5,
			PoolSize: 20,
		},
		Conversation: ConversationConfig{
			SummaryTriggerMessages:   5,
			MaxMessagesToPreserve:    10,
			MaxTokensToPreserve:      3000,
			MaxEventHistory:          50,
			MemoryUpdateTriggerCount: 5,
		},
	}
}

// Load assembles a Config per §4.8's layered order: Defaults(), then a
// YAML file at path (if non-empty and present), then environment
// variable overrides. It validates the result before returning.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays environment variables named in the `env`
// struct tags above onto cfg, field by field. Only the variables looked
// up below are applied: A2A_RETRY_ATTEMPTS, A2A_KEEPALIVE_TIMEOUT,
// A2A_DNS_CACHE_TTL, DATABASE_TIMEOUT, the CONVERSATION_* variables and
// the per-agent settings are not read from the environment.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("ENVIRONMENT"); ok {
		cfg.Environment = Environment(v)
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Debug = parseBool(v, cfg.Debug)
	}

	if v, ok := os.LookupEnv("LLM_PROVIDER"); ok {
		cfg.LLM.Provider = v
	}
	if v, ok := os.LookupEnv("LLM_MODEL"); ok {
		cfg.LLM.Model = v
	}
	if v, ok := os.LookupEnv("LLM_TEMPERATURE"); ok {
		cfg.LLM.Temperature = parseFloat(v, cfg.LLM.Temperature)
	}
	if v, ok := os.LookupEnv("LLM_MAX_TOKENS"); ok {
		cfg.LLM.MaxTokens = parseInt(v, cfg.LLM.MaxTokens)
	}
	if v, ok := os.LookupEnv("LLM_TIMEOUT"); ok {
		cfg.LLM.TimeoutSecs = parseInt(v, cfg.LLM.TimeoutSecs)
	}
	if v, ok := os.LookupEnv("LLM_RETRY_ATTEMPTS"); ok {
		cfg.LLM.RetryAttempts = parseInt(v, cfg.LLM.RetryAttempts)
	}
	if v, ok := os.LookupEnv("LLM_API_KEY"); ok {
		cfg.LLM.APIKey = v
	}

	if v, ok := os.LookupEnv("A2A_TIMEOUT"); ok {
		cfg.A2A.TimeoutSecs = parseInt(v, cfg.A2A.TimeoutSecs)
	}
	if v, ok := os.LookupEnv("A2A_SOCK_READ_TIMEOUT"); ok {
		cfg.A2A.SockReadTimeoutSecs = parseInt(v, cfg.A2A.SockReadTimeoutSecs)
	}
	if v, ok := os.LookupEnv("A2A_HEALTH_CHECK_TIMEOUT"); ok {
		cfg.A2A.HealthCheckTimeoutSecs = parseInt(v, cfg.A2A.HealthCheckTimeoutSecs)
	}
	if v, ok := os.LookupEnv("A2A_CIRCUIT_BREAKER_THRESHOLD"); ok {
		cfg.A2A.CircuitBreakerThreshold = parseInt(v, cfg.A2A.CircuitBreakerThreshold)
	}
	if v, ok := os.LookupEnv("A2A_CIRCUIT_BREAKER_TIMEOUT"); ok {
		cfg.A2A.CircuitBreakerTimeoutSecs = parseInt(v, cfg.A2A.CircuitBreakerTimeoutSecs)
	}
	if v, ok := os.LookupEnv("A2A_CONNECTION_POOL_SIZE"); ok {
		cfg.A2A.ConnectionPoolSize = parseInt(v, cfg.A2A.ConnectionPoolSize)
	}
	if v, ok := os.LookupEnv("A2A_CONNECTION_POOL_SIZE_PER_HOST"); ok {
		cfg.A2A.ConnectionPoolSizePerHost = parseInt(v, cfg.A2A.ConnectionPoolSizePerHost)
	}
	if v, ok := os.LookupEnv("A2A_MAX_IN_FLIGHT_PER_HOST"); ok {
		cfg.A2A.MaxInFlightPerHost = parseInt(v, cfg.A2A.MaxInFlightPerHost)
	}

	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv("DATABASE_POSTGRES_DSN"); ok {
		cfg.Database.PostgresDSN = v
	}
	if v, ok := os.LookupEnv("DATABASE_POOL_SIZE"); ok {
		cfg.Database.PoolSize = parseInt(v, cfg.Database.PoolSize)
	}
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return b
}

// ValidationError reports a configuration value that violates a §4.8
// validation rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks cfg against §4.8's rules: LM temperature ≤ 1.0,
// positive pool sizes and timeouts, required secrets present in
// production, and the a2a.sock_read_timeout ≥ a2a.timeout invariant
// (the named defect this spec corrects).
func Validate(cfg Config) error {
	if cfg.LLM.Temperature > 1.0 {
		return &ValidationError{Field: "llm.temperature", Reason: "must be <= 1.0"}
	}
	if cfg.A2A.ConnectionPoolSize <= 0 {
		return &ValidationError{Field: "a2a.connection_pool_size", Reason: "must be positive"}
	}
	if cfg.A2A.ConnectionPoolSizePerHost <= 0 {
		return &ValidationError{Field: "a2a.connection_pool_size_per_host", Reason: "must be positive"}
	}
	if cfg.A2A.MaxInFlightPerHost <= 0 {
		return &ValidationError{Field: "a2a.max_in_flight_per_host", Reason: "must be positive"}
	}
	if cfg.A2A.TimeoutSecs <= 0 {
		return &ValidationError{Field: "a2a.timeout", Reason: "must be positive"}
	}
	if cfg.A2A.HealthCheckTimeoutSecs <= 0 {
		return &ValidationError{Field: "a2a.health_check_timeout", Reason: "must be positive"}
	}
	if cfg.A2A.CircuitBreakerTimeoutSecs <= 0 {
		return &ValidationError{Field: "a2a.circuit_breaker_timeout", Reason: "must be positive"}
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		return &ValidationError{Field: "llm.timeout", Reason: "must be positive"}
	}
	if cfg.Database.TimeoutSecs <= 0 {
		return &ValidationError{Field: "database.timeout", Reason: "must be positive"}
	}
	if cfg.Database.PoolSize <= 0 {
		return &ValidationError{Field: "database.pool_size", Reason: "must be positive"}
	}
	if cfg.A2A.SockReadTimeoutSecs < cfg.A2A.TimeoutSecs {
		return &ValidationError{Field: "a2a.sock_read_timeout", Reason: "must be >= a2a.timeout"}
	}
	if cfg.Environment == Production {
		if cfg.LLM.APIKey == "" {
			return &ValidationError{Field: "llm.api_key", Reason: "required in production"}
		}
		if cfg.Database.PostgresDSN == "" {
			return &ValidationError{Field: "database.postgres_dsn", Reason: "required in production"}
		}
	}
	return nil
}
