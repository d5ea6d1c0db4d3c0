// Toolgate — a hardened gateway for running security tools over HTTP and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate — a hardened execution gateway for security CLI tools.",
	Long: `Toolgate exposes a fixed allow-list of security tools (nmap, sqlmap,
hydra, ...) over HTTP and the Model Context Protocol. Every execution is
validated, sandboxed, deadline-bound, and output-capped before a single
process is spawned.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, toolsCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
