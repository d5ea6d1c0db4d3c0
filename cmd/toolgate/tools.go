package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/toolgate/internal/config"
	"github.com/jkaninda/toolgate/internal/registry"
)

var toolsConfigPath string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the allow-listed tools and their status on this host",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runTools(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("TOOLGATE_CONFIG", toolsConfigPath))
	if err != nil {
		return err
	}

	logger := newLogger("error") // keep listing output clean
	reg := registry.New(cfg.Execution.AllowedTools(), logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tAVAILABLE\tPATH\tVERSION")
	for _, info := range reg.DescribeAll(context.Background()) {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", info.Name, info.Available, info.Path, info.Version)
	}
	return w.Flush()
}
