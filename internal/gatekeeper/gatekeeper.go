// Package gatekeeper is the single choke point every tool execution passes
// through. It enforces the allow-list, validates input, applies the
// sandbox, and supervises the child process with a hard deadline and an
// output cap. Nothing runs unless every check passes.
package gatekeeper

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/toolgate/internal/registry"
	"github.com/jkaninda/toolgate/internal/sandbox"
	"github.com/jkaninda/toolgate/internal/validate"
)

// truncationMarker is appended to output cut at the cap.
const truncationMarker = "\n... (output truncated)"

// killGracePeriod bounds process teardown after the deadline fires.
const killGracePeriod = 5 * time.Second

// Limits are the execution ceilings the gatekeeper enforces.
type Limits struct {
	// MaxTimeout is the hard ceiling; requests asking for more are
	// rejected, not clamped.
	MaxTimeout time.Duration

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration

	// OutputCap bounds combined stdout+stderr in bytes.
	OutputCap int
}

// Request is one execution ask, as received from a gateway.
type Request struct {
	Tool           string
	Args           string
	TimeoutSeconds int
	WorkingDir     string
}

// Result is a completed execution. A non-zero ExitCode is still a result:
// security tools routinely signal findings through exit codes.
type Result struct {
	ID        string        `json:"id"`
	Tool      string        `json:"tool"`
	Output    string        `json:"output"`
	ExitCode  int           `json:"exit_code"`
	Elapsed   time.Duration `json:"elapsed"`
	Truncated bool          `json:"truncated"`
}

// Gatekeeper validates and supervises executions. Safe for concurrent use.
type Gatekeeper struct {
	registry *registry.Registry
	sandbox  *sandbox.Builder
	limits   Limits
	logger   *slog.Logger

	// runProcess is swapped in tests to observe whether a process
	// would have been spawned.
	runProcess func(cmd *exec.Cmd) error
}

// New wires a gatekeeper over the given registry and sandbox builder.
func New(reg *registry.Registry, sb *sandbox.Builder, limits Limits, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		registry:   reg,
		sandbox:    sb,
		limits:     limits,
		logger:     logger,
		runProcess: func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// Run takes a request through the full gate: tool name validation,
// allow-list resolution, timeout bounds, argument validation, sandbox
// construction, then supervised execution. Any failure before exec means
// no process was spawned.
func (g *Gatekeeper) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validate.ToolName(req.Tool); err != nil {
		return nil, validationErr(err, "invalid tool name")
	}

	entry, err := g.registry.Resolve(req.Tool)
	if err != nil {
		g.logger.Warn("execution refused",
			slog.String("tool", req.Tool),
			slog.Any("error", err),
		)
		return nil, accessDenied("tool %q is not available through this gateway", req.Tool)
	}

	timeout, err := g.resolveTimeout(req.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	args, err := validate.Args(req.Args)
	if err != nil {
		return nil, validationErr(err, "invalid arguments")
	}

	sbx, err := g.sandbox.Build(req.WorkingDir)
	if err != nil {
		return nil, executionErr(err, "preparing sandbox")
	}

	return g.exec(ctx, entry, args, sbx, timeout)
}

// resolveTimeout applies the default and enforces the ceiling.
func (g *Gatekeeper) resolveTimeout(seconds int) (time.Duration, error) {
	if seconds < 0 {
		return 0, validationErr(nil, "timeout must not be negative")
	}
	if seconds == 0 {
		return g.limits.DefaultTimeout, nil
	}
	d := time.Duration(seconds) * time.Second
	if d > g.limits.MaxTimeout {
		return 0, validationErr(nil, "timeout %ds exceeds the maximum of %ds",
			seconds, int(g.limits.MaxTimeout/time.Second))
	}
	return d, nil
}

// exec supervises the child. The process runs in its own group so the
// deadline kill reaches grandchildren, and stdout and stderr share one
// capped writer so combined output stays interleaved in arrival order.
func (g *Gatekeeper) exec(ctx context.Context, entry *registry.Entry, args []string, sbx *sandbox.Context, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execID := uuid.New().String()
	out := newLimitedWriter(g.limits.OutputCap)

	cmd := exec.CommandContext(ctx, entry.Path, args...)
	cmd.Dir = sbx.WorkingDir
	cmd.Env = sbx.Env
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = killGracePeriod
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	g.logger.Info("executing tool",
		slog.String("execution_id", execID),
		slog.String("tool", entry.Name),
		slog.String("path", entry.Path),
		slog.Int("args", len(args)),
		slog.String("working_dir", sbx.WorkingDir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := g.runProcess(cmd)
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		g.logger.Warn("execution timed out",
			slog.String("execution_id", execID),
			slog.String("tool", entry.Name),
			slog.Duration("elapsed", elapsed),
		)
		return nil, timeoutErr(elapsed, "tool %q exceeded its %s deadline", entry.Name, timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, executionErr(runErr, "running tool %q", entry.Name)
		}
		exitCode = exitErr.ExitCode()
	}

	output, truncated := out.contents()
	if truncated {
		output += truncationMarker
	}

	g.logger.Info("execution finished",
		slog.String("execution_id", execID),
		slog.String("tool", entry.Name),
		slog.Int("exit_code", exitCode),
		slog.Duration("elapsed", elapsed),
		slog.Bool("truncated", truncated),
	)

	return &Result{
		ID:        execID,
		Tool:      entry.Name,
		Output:    output,
		ExitCode:  exitCode,
		Elapsed:   elapsed,
		Truncated: truncated,
	}, nil
}

// limitedWriter caps what it retains and silently discards the rest, so a
// chatty tool cannot balloon memory. It is shared between stdout and
// stderr pipes and therefore locks.
type limitedWriter struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newLimitedWriter(limit int) *limitedWriter {
	return &limitedWriter{limit: limit}
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.limit - len(w.buf)
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf = append(w.buf, p[:remaining]...)
		w.truncated = true
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *limitedWriter) contents() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf), w.truncated
}
