package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every override variable for the duration of the test so
// the host environment cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MAX_TIMEOUT", "DEFAULT_TIMEOUT", "MAX_OUTPUT_SIZE",
		"EXTRA_TOOLS", "WORKING_DIRECTORY", "ENABLE_SANDBOX", "LOG_LEVEL",
		"ENABLE_CORS", "CORS_ORIGINS",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}

	if got := cfg.Execution.MaxTimeout(); got != 300*time.Second {
		t.Errorf("MaxTimeout = %s, want 300s", got)
	}
	if got := cfg.Execution.DefaultTimeout(); got != 60*time.Second {
		t.Errorf("DefaultTimeout = %s, want 60s", got)
	}
	if got := cfg.Execution.OutputCap(); got != 1<<20 {
		t.Errorf("OutputCap = %d, want 1 MiB", got)
	}
	if got := cfg.Sandbox.Root(); got != "/tmp/toolgate" {
		t.Errorf("Root = %q, want /tmp/toolgate", got)
	}
	if !cfg.Sandbox.IsEnabled() {
		t.Error("sandbox should default to enabled")
	}
}

func TestLoad_JSONFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"execution": {"max_timeout_seconds": 120, "default_timeout_seconds": 30, "extra_tools": ["masscan"]},
		"sandbox": {"working_directory": "/srv/gate"},
		"log_level": "debug"
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.MaxTimeoutSeconds != 120 {
		t.Errorf("MaxTimeoutSeconds = %d, want 120", cfg.Execution.MaxTimeoutSeconds)
	}
	if cfg.Sandbox.Root() != "/srv/gate" {
		t.Errorf("Root = %q, want /srv/gate", cfg.Sandbox.Root())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	tools := cfg.Execution.AllowedTools()
	found := false
	for _, n := range tools {
		if n == "masscan" {
			found = true
		}
	}
	if !found {
		t.Errorf("extra tool missing from allow-list: %v", tools)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
execution:
  max_timeout_seconds: 90
gateways:
  http:
    enabled: true
    listen_addr: ":7000"
  mcp:
    enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.MaxTimeoutSeconds != 90 {
		t.Errorf("MaxTimeoutSeconds = %d, want 90", cfg.Execution.MaxTimeoutSeconds)
	}
	if cfg.Gateways.HTTP == nil || cfg.Gateways.HTTP.Addr() != ":7000" {
		t.Errorf("HTTP addr not parsed: %+v", cfg.Gateways.HTTP)
	}
	if cfg.Gateways.MCP == nil || cfg.Gateways.MCP.Addr() != ":8000" {
		t.Errorf("MCP addr default not applied: %+v", cfg.Gateways.MCP)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"execution": {"max_timeout_seconds": 120}}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MAX_TIMEOUT", "600")
	t.Setenv("EXTRA_TOOLS", "masscan, amass")
	t.Setenv("WORKING_DIRECTORY", "/var/lib/gate")
	t.Setenv("ENABLE_SANDBOX", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.MaxTimeoutSeconds != 600 {
		t.Errorf("MaxTimeoutSeconds = %d, want env override 600", cfg.Execution.MaxTimeoutSeconds)
	}
	if len(cfg.Execution.ExtraTools) != 2 || cfg.Execution.ExtraTools[1] != "amass" {
		t.Errorf("ExtraTools = %v, want [masscan amass]", cfg.Execution.ExtraTools)
	}
	if cfg.Sandbox.Root() != "/var/lib/gate" {
		t.Errorf("Root = %q, want /var/lib/gate", cfg.Sandbox.Root())
	}
	if cfg.Sandbox.IsEnabled() {
		t.Error("ENABLE_SANDBOX=false not applied")
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TIMEOUT", "five minutes")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-integer MAX_TIMEOUT")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"default exceeds max", `{"execution": {"max_timeout_seconds": 10, "default_timeout_seconds": 30}}`},
		{"negative timeout", `{"execution": {"max_timeout_seconds": -1}}`},
		{"extra tool with path", `{"execution": {"extra_tools": ["/usr/bin/masscan"]}}`},
		{"bad log level", `{"log_level": "verbose"}`},
		{"tracing without endpoint", `{"observability": {"tracing": {"enabled": true}}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tc.body), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAllowedTools_DefaultsPresent(t *testing.T) {
	var e ExecutionConfig
	tools := e.AllowedTools()

	set := make(map[string]bool, len(tools))
	for _, n := range tools {
		set[n] = true
	}
	for _, want := range []string{"nmap", "sqlmap", "hydra", "dig", "whois"} {
		if !set[want] {
			t.Errorf("default allow-list missing %q", want)
		}
	}

	if !strings.Contains(strings.Join(tools, ","), "dig") {
		t.Error("allow-list should be renderable as a list")
	}
	for i := 1; i < len(tools); i++ {
		if tools[i-1] >= tools[i] {
			t.Fatalf("allow-list not sorted or not deduplicated at %q", tools[i])
		}
	}
}

func TestAllowedTools_DedupAndTrim(t *testing.T) {
	e := ExecutionConfig{ExtraTools: []string{" masscan ", "nmap", "", "masscan"}}
	tools := e.AllowedTools()

	count := 0
	for _, n := range tools {
		if n == "masscan" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("masscan appears %d times, want 1", count)
	}
}

func TestCORS_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Gateways.HTTP.CORSEnabled() {
		t.Error("CORS should default to enabled")
	}
	if got := cfg.Gateways.HTTP.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", got)
	}
}

func TestCORS_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLE_CORS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	h := cfg.Gateways.HTTP
	if h == nil {
		t.Fatal("env overrides should materialize the http section")
	}
	if h.CORSEnabled() {
		t.Error("ENABLE_CORS=false should disable CORS")
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	got := h.CORSOrigins
	if len(got) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CORSOrigins[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
