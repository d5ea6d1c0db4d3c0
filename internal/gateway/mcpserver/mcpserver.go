// Package mcpserver exposes the gatekeeper over the Model Context
// Protocol, so MCP clients (agents, IDEs) can list and run allow-listed
// tools. Supports stdio for local clients and SSE for network clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/toolgate/internal/gatekeeper"
	"github.com/jkaninda/toolgate/internal/observability"
	"github.com/jkaninda/toolgate/internal/registry"
)

// Config configures the MCP server.
type Config struct {
	ServerName    string // Default: "toolgate".
	ServerVersion string
	ListenAddr    string // SSE listen address, e.g. ":8000".
	BaseURL       string // Public base URL advertised to SSE clients.
}

// Server wraps an MCP server over the registry and gatekeeper. The SSE
// transport implements gateway.Gateway; stdio is driven directly by the
// CLI.
type Server struct {
	config   Config
	runner   observability.Runner
	registry *registry.Registry
	logger   *slog.Logger

	mcpServer *server.MCPServer
	sse       *server.SSEServer
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg Config, runner observability.Runner, reg *registry.Registry, logger *slog.Logger) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "toolgate"
	}

	s := &Server{
		config:   cfg,
		runner:   runner,
		registry: reg,
		logger:   logger,
	}

	s.mcpServer = server.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.mcpServer.AddTool(mcp.NewTool("list_tools",
		mcp.WithDescription("List the allow-listed security tools, their availability on this host, and their versions."),
	), s.handleListTools)

	s.mcpServer.AddTool(mcp.NewTool("tool_info",
		mcp.WithDescription("Get availability, resolved path, and version for one allow-listed tool."),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("Tool name, e.g. nmap."),
		),
	), s.handleToolInfo)

	s.mcpServer.AddTool(mcp.NewTool("run_tool",
		mcp.WithDescription("Execute an allow-listed security tool in the sandbox and return its combined output."),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("Tool name, e.g. nmap."),
		),
		mcp.WithString("args",
			mcp.Description("Command-line arguments as a single string. Shell metacharacters are rejected."),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Execution deadline in seconds. 0 uses the server default."),
		),
		mcp.WithString("working_dir",
			mcp.Description("Working directory, confined under the sandbox root."),
		),
	), s.handleRunTool)

	return s
}

// ServeStdio serves MCP over stdin/stdout and blocks until the client
// disconnects or ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio")
	return server.ServeStdio(s.mcpServer, server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

// Start launches the SSE transport and blocks until it exits.
func (s *Server) Start(ctx context.Context) error {
	opts := []server.SSEOption{}
	if s.config.BaseURL != "" {
		opts = append(opts, server.WithBaseURL(s.config.BaseURL))
	}
	s.sse = server.NewSSEServer(s.mcpServer, opts...)

	s.logger.Info("mcp sse server starting", slog.String("addr", s.config.ListenAddr))
	return s.sse.Start(s.config.ListenAddr)
}

// Stop gracefully shuts down the SSE transport.
func (s *Server) Stop(ctx context.Context) error {
	if s.sse == nil {
		return nil
	}
	s.logger.Info("mcp sse server stopping")
	return s.sse.Shutdown(ctx)
}

// --- Tool handlers ---

func (s *Server) handleListTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.registry.DescribeAll(ctx)

	payload, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding tool list: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleToolInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("tool is required"), nil
	}

	info, err := s.registry.Describe(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool %q is not available through this gateway", name)), nil
	}

	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding tool info: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleRunTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool, err := req.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("tool is required"), nil
	}

	runReq := gatekeeper.Request{
		Tool:           tool,
		Args:           req.GetString("args", ""),
		TimeoutSeconds: req.GetInt("timeout_seconds", 0),
		WorkingDir:     req.GetString("working_dir", ""),
	}

	s.logger.Info("mcp run",
		slog.String("tool", runReq.Tool),
		slog.Int("timeout_seconds", runReq.TimeoutSeconds),
	)

	result, err := s.runner.Run(ctx, runReq)
	if err != nil {
		return mcp.NewToolResultError(runErrorMessage(err)), nil
	}

	return mcp.NewToolResultText(formatResult(result)), nil
}

// --- Helpers ---

// runErrorMessage renders a gatekeeper failure for an MCP client without
// leaking internals of unclassified errors.
func runErrorMessage(err error) string {
	kind := gatekeeper.KindOf(err)
	if kind == gatekeeper.KindExecution {
		return "execution failed"
	}
	return fmt.Sprintf("[%s] %v", kind, err)
}

// formatResult renders an execution result as text. Agents parse this, so
// the header stays stable.
func formatResult(res *gatekeeper.Result) string {
	header := fmt.Sprintf("tool: %s\nexit_code: %d\nduration: %s\ntruncated: %t\n\n",
		res.Tool, res.ExitCode, res.Elapsed.Round(time.Millisecond), res.Truncated)
	return header + res.Output
}
