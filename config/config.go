// Package config loads the gateway configuration from YAML with
// TOOLGATEWAY_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolgateway/discovery"
	"github.com/jonwraymond/toolgateway/dispatch"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/platform"
	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/resilience"
	"github.com/jonwraymond/toolgateway/transport"
)

// EnvPrefix prefixes environment overrides, e.g. TOOLGATEWAY_SERVER_ADDR.
const EnvPrefix = "TOOLGATEWAY"

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig               `mapstructure:"server" yaml:"server"`
	Sessions   SessionsConfig             `mapstructure:"sessions" yaml:"sessions"`
	Resilience ResilienceConfig           `mapstructure:"resilience" yaml:"resilience"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits" yaml:"rate_limits"`
	Timeouts   TimeoutsConfig             `mapstructure:"timeouts" yaml:"timeouts"`
	Discovery  DiscoveryConfig            `mapstructure:"discovery" yaml:"discovery"`
	Platform   PlatformConfig             `mapstructure:"platform" yaml:"platform"`
	Providers  []ProviderConfig           `mapstructure:"providers" yaml:"providers"`
	Logging    LoggingConfig              `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the client-facing surface.
type ServerConfig struct {
	Addr             string   `mapstructure:"addr" yaml:"addr"`
	Path             string   `mapstructure:"path" yaml:"path"`
	Mode             string   `mapstructure:"mode" yaml:"mode"`
	APIKey           string   `mapstructure:"api_key" yaml:"api_key,omitempty"`
	ProtocolVersions []string `mapstructure:"protocol_versions" yaml:"protocol_versions,omitempty"`
	MaxBodyBytes     int64    `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	Name             string   `mapstructure:"name" yaml:"name"`
	Instructions     string   `mapstructure:"instructions" yaml:"instructions,omitempty"`
	Metrics          bool     `mapstructure:"metrics" yaml:"metrics"`
}

// SessionsConfig configures client session retention.
type SessionsConfig struct {
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSessions   int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ResilienceConfig configures breakers, retries and provider dials.
type ResilienceConfig struct {
	BreakerThreshold  int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
	RetryMax          int           `mapstructure:"retry_max" yaml:"retry_max"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay" yaml:"retry_initial_delay"`
	ConnectAttempts   int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectDelay      time.Duration `mapstructure:"connect_delay" yaml:"connect_delay"`
}

// RateLimitConfig is a fixed-window limit.
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

// TimeoutsConfig bounds outbound calls per operation class.
type TimeoutsConfig struct {
	ToolCall     time.Duration `mapstructure:"tool_call" yaml:"tool_call"`
	ResourceRead time.Duration `mapstructure:"resource_read" yaml:"resource_read"`
	PromptGet    time.Duration `mapstructure:"prompt_get" yaml:"prompt_get"`
	Activity     time.Duration `mapstructure:"activity" yaml:"activity"`
	List         time.Duration `mapstructure:"list" yaml:"list"`
}

// DiscoveryConfig configures the discovery cycle.
type DiscoveryConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Schedule       string        `mapstructure:"schedule" yaml:"schedule"`
	IdentifierMode string        `mapstructure:"identifier_mode" yaml:"identifier_mode"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// PlatformConfig points at the collaborator backend. An empty BaseURL
// disables it.
type PlatformConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProviderConfig is a statically configured provider.
type ProviderConfig struct {
	ID           string            `mapstructure:"id" yaml:"id"`
	Name         string            `mapstructure:"name" yaml:"name"`
	Description  string            `mapstructure:"description" yaml:"description,omitempty"`
	Version      string            `mapstructure:"version" yaml:"version,omitempty"`
	Instructions string            `mapstructure:"instructions" yaml:"instructions,omitempty"`
	Transport    string            `mapstructure:"transport" yaml:"transport"`
	Command      string            `mapstructure:"command" yaml:"command,omitempty"`
	Args         []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env          map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	URL          string            `mapstructure:"url" yaml:"url,omitempty"`
	Headers      map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Enabled      *bool             `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Path:         "/mcp",
			Mode:         string(transport.ModeStateful),
			MaxBodyBytes: 4 << 20,
			Name:         "toolgateway",
			Metrics:      true,
		},
		Sessions: SessionsConfig{
			TTL:           transport.DefaultTTL,
			MaxSessions:   transport.DefaultMaxSessions,
			SweepInterval: transport.DefaultSweepInterval,
		},
		Resilience: ResilienceConfig{
			BreakerThreshold:  resilience.DefaultBreakerThreshold,
			BreakerTimeout:    resilience.DefaultBreakerTimeout,
			RetryMax:          resilience.DefaultMaxRetries,
			RetryInitialDelay: resilience.DefaultInitialDelay,
			ConnectAttempts:   3,
			ConnectDelay:      2500 * time.Millisecond,
		},
		RateLimits: map[string]RateLimitConfig{
			dispatch.CategoryToolCall:     {MaxRequests: 120, Window: time.Minute},
			dispatch.CategoryResourceRead: {MaxRequests: 120, Window: time.Minute},
			dispatch.CategoryPromptGet:    {MaxRequests: 120, Window: time.Minute},
			platform.CategoryAPICall:      {MaxRequests: 60, Window: time.Minute},
		},
		Timeouts: TimeoutsConfig{
			ToolCall:     60 * time.Second,
			ResourceRead: 30 * time.Second,
			PromptGet:    30 * time.Second,
			Activity:     5 * time.Second,
			List:         30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			CacheTTL:       discovery.DefaultCacheTTL,
			Schedule:       discovery.DefaultSchedule,
			IdentifierMode: string(discovery.IdentifierSlug),
			Concurrency:    discovery.DefaultConcurrency,
		},
		Platform: PlatformConfig{
			Timeout: platform.DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path, if non-empty, on top of the defaults
// and applies environment overrides such as TOOLGATEWAY_SERVER_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path = expandPath(path)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper folds map keys to lower case; provider env and header names
	// are case-sensitive, so providers are decoded from the file directly.
	if path != "" {
		providers, err := readProviders(path)
		if err != nil {
			return nil, err
		}
		cfg.Providers = providers
	}
	return &cfg, nil
}

func readProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var doc struct {
		Providers []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse providers: %w", err)
	}
	return doc.Providers, nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	switch transport.Mode(c.Server.Mode) {
	case transport.ModeStateful, transport.ModeStateless:
	default:
		return fmt.Errorf("invalid server.mode '%s', must be one of: stateful, stateless", c.Server.Mode)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/'")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if c.Sessions.TTL <= 0 || c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.ttl and sessions.sweep_interval must be positive")
	}
	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions.max_sessions must be at least 1")
	}

	r := c.Resilience
	if r.BreakerThreshold < 1 || r.RetryMax < 1 || r.ConnectAttempts < 1 {
		return fmt.Errorf("resilience thresholds and attempt counts must be at least 1")
	}
	if r.BreakerTimeout <= 0 || r.RetryInitialDelay < 0 || r.ConnectDelay < 0 {
		return fmt.Errorf("resilience durations cannot be negative and breaker_timeout must be positive")
	}

	for category, limit := range c.RateLimits {
		if limit.MaxRequests < 1 || limit.Window <= 0 {
			return fmt.Errorf("rate_limits.%s needs max_requests >= 1 and a positive window", category)
		}
	}

	switch discovery.IdentifierMode(c.Discovery.IdentifierMode) {
	case discovery.IdentifierSlug, discovery.IdentifierUUID:
	default:
		return fmt.Errorf("invalid discovery.identifier_mode '%s', must be one of: slug, uuid", c.Discovery.IdentifierMode)
	}
	if c.Discovery.CacheTTL <= 0 {
		return fmt.Errorf("discovery.cache_ttl must be positive")
	}

	if c.Platform.BaseURL != "" && !strings.HasPrefix(c.Platform.BaseURL, "http://") && !strings.HasPrefix(c.Platform.BaseURL, "https://") {
		return fmt.Errorf("platform.base_url must be an http(s) URL")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if !provider.ValidID(p.ID) {
			return fmt.Errorf("providers[%d]: invalid id %q", i, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if err := p.Provider().Params.Validate(); err != nil {
			return fmt.Errorf("providers[%d] (%s): %w", i, p.ID, err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format '%s', must be 'json' or 'console'", c.Logging.Format)
	}
	return nil
}

// Write saves the configuration as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Provider converts the entry.
func (p ProviderConfig) Provider() provider.Provider {
	return provider.Provider{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Version:      p.Version,
		Instructions: p.Instructions,
		Params: provider.ConnectionParams{
			Transport: provider.TransportKind(p.Transport),
			Command:   p.Command,
			Args:      p.Args,
			Env:       p.Env,
			URL:       p.URL,
			Headers:   p.Headers,
		},
	}
}

// Catalog returns the enabled static providers.
func (c *Config) Catalog() provider.StaticCatalog {
	out := make(provider.StaticCatalog, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		out = append(out, p.Provider())
	}
	return out
}

// Limits returns the configured rate limits keyed by category.
func (c *Config) Limits() map[string]resilience.Limit {
	out := make(map[string]resilience.Limit, len(c.RateLimits))
	for category, l := range c.RateLimits {
		out[category] = resilience.Limit{MaxRequests: l.MaxRequests, Window: l.Window}
	}
	return out
}

// Breaker returns the circuit breaker settings.
func (c *Config) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Threshold: c.Resilience.BreakerThreshold,
		Timeout:   c.Resilience.BreakerTimeout,
	}
}

// Retry returns the downstream retry policy.
func (c *Config) Retry() resilience.Policy {
	return resilience.Policy{
		MaxRetries:   c.Resilience.RetryMax,
		InitialDelay: c.Resilience.RetryInitialDelay,
	}
}

// DispatchTimeouts returns the per-operation timeouts.
func (c *Config) DispatchTimeouts() dispatch.Timeouts {
	return dispatch.Timeouts{
		ToolCall:     c.Timeouts.ToolCall,
		ResourceRead: c.Timeouts.ResourceRead,
		PromptGet:    c.Timeouts.PromptGet,
	}
}

// Log returns the logger settings.
func (c *Config) Log() logging.Config {
	return logging.Config{Level: logging.Level(c.Logging.Level), Format: c.Logging.Format}
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
