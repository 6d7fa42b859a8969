package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carrotsystems/carrot/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "carrot",
		Short: "Regression and comparison testing orchestrator for WDL workflows",
		Long: `CARROT submits a test workflow and an evaluation workflow for each
registered test to a Cromwell engine, tracks both through to completion,
collects mapped results, and reports them per run or per run_group
comparison (GitHub PR-triggered base/head pairs).`,
		Version: version,
	}

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewMigrateCmd(),
		commands.NewStatusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
