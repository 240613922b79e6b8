// ABOUTME: Configuration loading and parsing for chaos-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Registration modes for AgentConfig.Registration.
const (
	RegistrationCached = "cached"
	RegistrationAlways = "always"
)

// Decision modes for DecisionConfig.Mode.
const (
	DecisionRules = "rules"
	DecisionLLM   = "llm"
)

// Defaults applied when a value is absent from the config file.
const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultDrainInterval    = 5 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultRetryBackoff     = time.Second
	DefaultLLMTimeout       = 60 * time.Second
	DefaultDedupeMaxEntries = 10000
	DefaultStakeAmount      = 1000
)

// Config represents the complete chaos-relay configuration
type Config struct {
	Chain      ChainConfig      `yaml:"chain" toml:"chain"`
	Agent      AgentConfig      `yaml:"agent" toml:"agent"`
	Relay      RelayConfig      `yaml:"relay" toml:"relay"`
	Submission SubmissionConfig `yaml:"submission" toml:"submission"`
	Decision   DecisionConfig   `yaml:"decision" toml:"decision"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Status     StatusConfig     `yaml:"status" toml:"status"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ChainConfig holds the addresses of the coordination service
type ChainConfig struct {
	WSURL  string `yaml:"ws_url" toml:"ws_url"`   // e.g. ws://localhost:3000
	APIURL string `yaml:"api_url" toml:"api_url"` // e.g. http://localhost:3000/api
}

// AgentConfig holds the identity submitted at registration
type AgentConfig struct {
	Name        string   `yaml:"name" toml:"name"`
	Personality []string `yaml:"personality" toml:"personality"`
	Style       string   `yaml:"style" toml:"style"`
	StakeAmount int64    `yaml:"stake_amount" toml:"stake_amount"`
	Role        string   `yaml:"role" toml:"role"`

	// Registration is "cached" (reuse a stored, unexpired credential) or "always".
	Registration string `yaml:"registration" toml:"registration"`

	// ListenOnlyOnFailure keeps the stream running without credentials
	// when registration fails, instead of exiting.
	ListenOnlyOnFailure bool `yaml:"listen_only_on_failure" toml:"listen_only_on_failure"`
}

// RelayConfig holds stream and drain timing
type RelayConfig struct {
	ReconnectDelay   time.Duration `yaml:"-" toml:"-"`
	DrainInterval    time.Duration `yaml:"-" toml:"-"`
	DedupeWindow     time.Duration `yaml:"-" toml:"-"`
	DedupeMaxEntries int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	DrainIntervalRaw  string `yaml:"drain_interval" toml:"drain_interval"`
	DedupeWindowRaw   string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// SubmissionConfig holds the outbound request policy
type SubmissionConfig struct {
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	RetryBackoff   time.Duration `yaml:"-" toml:"-"`
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts"` // 1 means no retry

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	RetryBackoffRaw   string `yaml:"retry_backoff" toml:"retry_backoff"`
}

// DecisionConfig selects the decision function
type DecisionConfig struct {
	Mode       string        `yaml:"mode" toml:"mode"`
	LLMURL     string        `yaml:"llm_url" toml:"llm_url"`
	LLMTimeout time.Duration `yaml:"-" toml:"-"`

	LLMTimeoutRaw string `yaml:"llm_timeout" toml:"llm_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// StatusConfig holds the local ops endpoint configuration
type StatusConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"` // empty disables the endpoint
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values with the documented defaults.
func (c *Config) applyDefaults() {
	if c.Relay.ReconnectDelay == 0 {
		c.Relay.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Relay.DrainInterval == 0 {
		c.Relay.DrainInterval = DefaultDrainInterval
	}
	if c.Relay.DedupeMaxEntries == 0 {
		c.Relay.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.Submission.RequestTimeout == 0 {
		c.Submission.RequestTimeout = DefaultRequestTimeout
	}
	if c.Submission.RetryBackoff == 0 {
		c.Submission.RetryBackoff = DefaultRetryBackoff
	}
	if c.Submission.MaxAttempts == 0 {
		c.Submission.MaxAttempts = 1
	}
	if c.Decision.Mode == "" {
		c.Decision.Mode = DecisionRules
	}
	if c.Decision.LLMTimeout == 0 {
		c.Decision.LLMTimeout = DefaultLLMTimeout
	}
	if c.Agent.Registration == "" {
		c.Agent.Registration = RegistrationCached
	}
	if c.Agent.Role == "" {
		c.Agent.Role = "validator"
	}
	if c.Agent.StakeAmount == 0 {
		c.Agent.StakeAmount = DefaultStakeAmount
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Chain.WSURL == "" {
		return fmt.Errorf("chain.ws_url is required")
	}
	u, err := url.Parse(c.Chain.WSURL)
	if err != nil {
		return fmt.Errorf("chain.ws_url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("chain.ws_url must use ws or wss scheme")
	}

	if c.Chain.APIURL == "" {
		return fmt.Errorf("chain.api_url is required")
	}
	u, err = url.Parse(c.Chain.APIURL)
	if err != nil {
		return fmt.Errorf("chain.api_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("chain.api_url must use http or https scheme")
	}

	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.Role != "validator" && c.Agent.Role != "proposer" {
		return fmt.Errorf("agent.role must be validator or proposer, got %q", c.Agent.Role)
	}
	if c.Agent.StakeAmount < 0 {
		return fmt.Errorf("agent.stake_amount must not be negative")
	}
	if c.Agent.Registration != RegistrationCached && c.Agent.Registration != RegistrationAlways {
		return fmt.Errorf("agent.registration must be %q or %q", RegistrationCached, RegistrationAlways)
	}

	if c.Submission.MaxAttempts < 1 {
		return fmt.Errorf("submission.max_attempts must be at least 1")
	}

	switch c.Decision.Mode {
	case DecisionRules:
	case DecisionLLM:
		if c.Decision.LLMURL == "" {
			return fmt.Errorf("decision.llm_url is required when decision.mode is llm")
		}
	default:
		return fmt.Errorf("decision.mode must be %q or %q", DecisionRules, DecisionLLM)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reconnect_delay", cfg.Relay.ReconnectDelayRaw, &cfg.Relay.ReconnectDelay},
		{"drain_interval", cfg.Relay.DrainIntervalRaw, &cfg.Relay.DrainInterval},
		{"dedupe_window", cfg.Relay.DedupeWindowRaw, &cfg.Relay.DedupeWindow},
		{"request_timeout", cfg.Submission.RequestTimeoutRaw, &cfg.Submission.RequestTimeout},
		{"retry_backoff", cfg.Submission.RetryBackoffRaw, &cfg.Submission.RetryBackoff},
		{"llm_timeout", cfg.Decision.LLMTimeoutRaw, &cfg.Decision.LLMTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
