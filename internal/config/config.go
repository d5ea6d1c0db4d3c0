// Package config handles loading and validating toolgate configuration.
//
// Configuration is read once at startup and passed explicitly into every
// component — there are no ambient lookups at request time. A config file
// (JSON or YAML, detected by extension) is optional; the environment
// variables used by existing deployments (MAX_TIMEOUT, DEFAULT_TIMEOUT,
// MAX_OUTPUT_SIZE, EXTRA_TOOLS, WORKING_DIRECTORY, ENABLE_SANDBOX,
// ENABLE_CORS, CORS_ORIGINS) take precedence over file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Defaults for the execution limits: 5 minute ceiling, 1 minute default,
// 1 MiB combined output.
const (
	DefaultMaxTimeoutSeconds = 300
	DefaultTimeoutSeconds    = 60
	DefaultMaxOutputBytes    = 1 << 20
	DefaultWorkingDirectory  = "/tmp/toolgate"
	DefaultHTTPListenAddr    = ":5000"
	DefaultMCPListenAddr     = ":8000"

	defaultMaxRequestSizeBytes = 1 << 20
)

// defaultAllowedTools is the fixed set of tool names the gateway will
// execute unless extended via EXTRA_TOOLS at startup. The set is not
// mutable at request time.
var defaultAllowedTools = []string{
	"nmap", "sqlmap", "hydra", "john", "nikto",
	"aircrack-ng", "metasploit-framework", "gobuster",
	"dirb", "wfuzz", "cewl", "hashcat", "crunch",
	"medusa", "ncrack", "enum4linux", "smbclient",
	"rpcclient", "ldapsearch", "dig", "nslookup",
	"whois", "traceroute", "ping", "netstat", "ss",
}

// Config is the root configuration for toolgate. Immutable after Load.
type Config struct {
	Execution     ExecutionConfig      `json:"execution" yaml:"execution"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"`         // "debug", "info" (default), "warn", "error".
}

// ExecutionConfig bounds every tool execution.
type ExecutionConfig struct {
	MaxTimeoutSeconds     int      `json:"max_timeout_seconds" yaml:"max_timeout_seconds"`         // Ceiling for caller-supplied timeouts. Default: 300.
	DefaultTimeoutSeconds int      `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Used when the caller supplies none. Default: 60.
	MaxOutputBytes        int      `json:"max_output_bytes" yaml:"max_output_bytes"`               // Combined stdout+stderr cap. Default: 1 MiB.
	ExtraTools            []string `json:"extra_tools,omitempty" yaml:"extra_tools,omitempty"`     // Extends the built-in allow-list. Override: EXTRA_TOOLS env var (comma-separated).
}

// SandboxConfig confines where and with what environment tools run.
type SandboxConfig struct {
	WorkingDirectory string `json:"working_directory" yaml:"working_directory"` // Root under which all execution dirs live. Default: /tmp/toolgate.
	Enabled          *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"` // nil = enabled. When disabled the parent environment is inherited.
}

// GatewaysConfig defines which transports are enabled and their settings.
// Nil pointers mean the transport is not configured. If the entire section
// is absent, the HTTP gateway is enabled on the default address.
type GatewaysConfig struct {
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"`
	MCP  *MCPGatewayConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping,omitempty" yaml:"api_key_user_mapping,omitempty"` // API key → user ID. Empty = unauthenticated.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	EnableCORS          *bool             `json:"enable_cors,omitempty" yaml:"enable_cors,omitempty"`   // nil = enabled.
	CORSOrigins         []string          `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"` // Default: any origin.
}

// MCPGatewayConfig configures the MCP (Model Context Protocol) server.
// The stdio transport is always available via `toolgate mcp`; this section
// controls the network-facing SSE transport that runs alongside HTTP.
type MCPGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8000".
	BaseURL    string `json:"base_url" yaml:"base_url"`       // Advertised base URL for SSE clients.
}

// RateLimitConfig configures per-caller rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "toolgate"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// MaxTimeout returns the caller-timeout ceiling with its default.
func (e *ExecutionConfig) MaxTimeout() time.Duration {
	if e.MaxTimeoutSeconds > 0 {
		return time.Duration(e.MaxTimeoutSeconds) * time.Second
	}
	return DefaultMaxTimeoutSeconds * time.Second
}

// DefaultTimeout returns the per-execution default timeout.
func (e *ExecutionConfig) DefaultTimeout() time.Duration {
	if e.DefaultTimeoutSeconds > 0 {
		return time.Duration(e.DefaultTimeoutSeconds) * time.Second
	}
	return DefaultTimeoutSeconds * time.Second
}

// OutputCap returns the combined-output byte budget with its default.
func (e *ExecutionConfig) OutputCap() int {
	if e.MaxOutputBytes > 0 {
		return e.MaxOutputBytes
	}
	return DefaultMaxOutputBytes
}

// AllowedTools returns the effective allow-list: built-in defaults plus
// configured extras, deduplicated and sorted so listing is deterministic.
func (e *ExecutionConfig) AllowedTools() []string {
	seen := make(map[string]bool, len(defaultAllowedTools)+len(e.ExtraTools))
	names := make([]string, 0, len(defaultAllowedTools)+len(e.ExtraTools))
	for _, n := range defaultAllowedTools {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range e.ExtraTools {
		n = strings.TrimSpace(n)
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Root returns the sandbox working root with its default.
func (s *SandboxConfig) Root() string {
	if s.WorkingDirectory != "" {
		return s.WorkingDirectory
	}
	return DefaultWorkingDirectory
}

// IsEnabled reports whether environment scrubbing is active. Default: true.
func (s *SandboxConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Addr returns the HTTP listen address with its default.
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return DefaultHTTPListenAddr
}

// MaxRequestSize returns the request body cap with its default of 1 MiB.
func (h *HTTPGatewayConfig) MaxRequestSize() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return defaultMaxRequestSizeBytes
}

// CORSEnabled reports whether the HTTP gateway serves CORS headers.
// Enabled by default, matching existing deployments.
func (h *HTTPGatewayConfig) CORSEnabled() bool {
	if h != nil && h.EnableCORS != nil {
		return *h.EnableCORS
	}
	return true
}

// AllowedOrigins returns the CORS origin allow-list, defaulting to any origin.
func (h *HTTPGatewayConfig) AllowedOrigins() []string {
	if h != nil && len(h.CORSOrigins) > 0 {
		return h.CORSOrigins
	}
	return []string{"*"}
}

// Addr returns the MCP SSE listen address with its default.
func (m *MCPGatewayConfig) Addr() string {
	if m != nil && m.ListenAddr != "" {
		return m.ListenAddr
	}
	return DefaultMCPListenAddr
}

// DefaultConfigPath returns the default config file path (~/.toolgate/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/toolgate.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".toolgate", "config.json")
}

// Load reads an optional JSON or YAML config file, applies environment
// overrides, validates, and returns an immutable Config. A missing file is
// not an error — deployments that configure everything through the
// environment run without one.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		switch {
		case err == nil:
			switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
			case ".yml", ".yaml":
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
				}
			default:
				if err := json.Unmarshal(data, &cfg); err != nil {
					return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
				}
			}
		case os.IsNotExist(err):
			// No file: env-only configuration.
		default:
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies the environment variables recognized by existing
// deployments. Environment values take precedence over file values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MAX_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_TIMEOUT %q is not an integer: %w", v, err)
		}
		cfg.Execution.MaxTimeoutSeconds = n
	}
	if v := os.Getenv("DEFAULT_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEFAULT_TIMEOUT %q is not an integer: %w", v, err)
		}
		cfg.Execution.DefaultTimeoutSeconds = n
	}
	if v := os.Getenv("MAX_OUTPUT_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_OUTPUT_SIZE %q is not an integer: %w", v, err)
		}
		cfg.Execution.MaxOutputBytes = n
	}
	if v := os.Getenv("EXTRA_TOOLS"); v != "" {
		cfg.Execution.ExtraTools = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Execution.ExtraTools = append(cfg.Execution.ExtraTools, t)
			}
		}
	}
	if v := os.Getenv("WORKING_DIRECTORY"); v != "" {
		cfg.Sandbox.WorkingDirectory = v
	}
	if v := os.Getenv("ENABLE_SANDBOX"); v != "" {
		enabled := strings.EqualFold(v, "true")
		cfg.Sandbox.Enabled = &enabled
	}
	if v := os.Getenv("ENABLE_CORS"); v != "" {
		enabled := strings.EqualFold(v, "true")
		httpSection(cfg).EnableCORS = &enabled
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		h := httpSection(cfg)
		h.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				h.CORSOrigins = append(h.CORSOrigins, o)
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}

// httpSection returns the HTTP gateway section, creating it when the file
// omitted it so env overrides have somewhere to land.
func httpSection(cfg *Config) *HTTPGatewayConfig {
	if cfg.Gateways.HTTP == nil {
		cfg.Gateways.HTTP = &HTTPGatewayConfig{Enabled: true}
	}
	return cfg.Gateways.HTTP
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Execution.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("execution.max_timeout_seconds must not be negative")
	}
	if c.Execution.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("execution.default_timeout_seconds must not be negative")
	}
	if c.Execution.MaxOutputBytes < 0 {
		return fmt.Errorf("execution.max_output_bytes must not be negative")
	}
	if c.Execution.DefaultTimeout() > c.Execution.MaxTimeout() {
		return fmt.Errorf("execution.default_timeout_seconds %d exceeds max_timeout_seconds %d",
			c.Execution.DefaultTimeoutSeconds, c.Execution.MaxTimeoutSeconds)
	}
	for _, t := range c.Execution.ExtraTools {
		if strings.ContainsAny(t, " /\\") {
			return fmt.Errorf("execution.extra_tools entry %q must be a bare tool name", t)
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not supported (use debug, info, warn, or error)", c.LogLevel)
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}
	return nil
}
