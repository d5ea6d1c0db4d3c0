// Package sandbox builds the constrained execution context for a single
// tool invocation: a scrubbed environment and a working directory confined
// under a configured root. It is not a namespace/cgroup sandbox — isolation
// here is environment hygiene and path confinement only.
package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// retainedEnvVars is the fixed allow-list of environment variables passed
// through to executed tools. Everything else the parent inherited —
// API keys, credentials, proxy settings — is dropped.
var retainedEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "PWD", "LANG", "LC_ALL",
}

// Config configures the sandbox builder.
type Config struct {
	// Root is the directory under which every execution's working
	// directory is confined. Created on first use.
	Root string

	// ScrubEnv controls environment filtering. When false the parent
	// environment is inherited unchanged apart from PWD.
	ScrubEnv bool
}

// Context is the execution context for one invocation. Owned by a single
// execution and discarded after the process exits.
type Context struct {
	Env        []string
	WorkingDir string
}

// Builder derives sandbox contexts. Safe for concurrent use; it holds no
// per-execution state.
type Builder struct {
	root     string
	scrubEnv bool
	logger   *slog.Logger
}

// NewBuilder creates a sandbox builder rooted at cfg.Root.
func NewBuilder(cfg Config, logger *slog.Logger) *Builder {
	return &Builder{
		root:     filepath.Clean(cfg.Root),
		scrubEnv: cfg.ScrubEnv,
		logger:   logger,
	}
}

// Root returns the configured confinement root.
func (b *Builder) Root() string { return b.root }

// Build resolves the working directory for one execution, guarantees it
// exists, and derives the environment. An empty workingDir selects the
// configured root itself.
func (b *Builder) Build(workingDir string) (*Context, error) {
	dir := b.resolveDir(workingDir)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating working directory %s: %w", dir, err)
	}

	ctx := &Context{
		Env:        b.buildEnv(dir),
		WorkingDir: dir,
	}

	b.logger.Debug("sandbox context built",
		slog.String("working_dir", dir),
		slog.Bool("env_scrubbed", b.scrubEnv),
	)
	return ctx, nil
}

// resolveDir sanitizes a caller-supplied directory and confines it under
// the root. Paths already under the root are used as-is after sanitization;
// anything else is re-rooted.
func (b *Builder) resolveDir(workingDir string) string {
	if workingDir == "" {
		return b.root
	}
	clean := SanitizePath(workingDir)
	if clean == b.root || strings.HasPrefix(clean, b.root+string(filepath.Separator)) {
		return clean
	}
	return filepath.Join(b.root, strings.TrimPrefix(clean, string(filepath.Separator)))
}

// buildEnv derives the process environment. With scrubbing on, only the
// retained allow-list survives; PWD is always forced to the working
// directory and the dynamic-linker injection vectors are neutralized.
func (b *Builder) buildEnv(workingDir string) []string {
	var env []string

	if b.scrubEnv {
		inherited := make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				inherited[k] = v
			}
		}
		for _, k := range retainedEnvVars {
			if k == "PWD" {
				continue
			}
			if v, ok := inherited[k]; ok {
				env = append(env, k+"="+v)
			}
		}
	} else {
		for _, kv := range os.Environ() {
			if strings.HasPrefix(kv, "PWD=") {
				continue
			}
			env = append(env, kv)
		}
	}

	env = append(env, "PWD="+workingDir)

	// Linker injection vectors are cleared in every mode.
	env = append(env, "LD_PRELOAD=", "LD_LIBRARY_PATH=")

	return env
}

// SanitizePath strips directory-traversal tokens and doubled separators
// from a path and forces it to be absolute. Symlinks are not resolved.
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}
	path = strings.ReplaceAll(path, "..", "")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return filepath.Clean(path)
}
