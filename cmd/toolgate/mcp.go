package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/toolgate/internal/config"
	"github.com/jkaninda/toolgate/internal/gateway/mcpserver"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP over stdio (for local agents and IDE clients)",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("TOOLGATE_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout carries the protocol.
	logger := newLogger(cfg.LogLevel)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.NewServer(mcpserver.Config{
		ServerVersion: version,
	}, sc.Runner, sc.Registry, logger)

	return srv.ServeStdio(ctx)
}
