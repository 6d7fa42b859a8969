package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carrotsystems/carrot/internal/config"
	"github.com/carrotsystems/carrot/internal/lifecycle"
	"github.com/carrotsystems/carrot/internal/store/postgres"
)

// NewStatusCmd creates the status command, a read-only summary of
// registered pipelines and in-flight runs, grounded on the teacher's
// status.go (pipeline list + recent-run list) with trait/readiness
// sections dropped (CARROT has no readiness-gate concept) and color
// output replaced by plain text (see DESIGN.md's fatih/color disposition).
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registered pipelines and in-flight runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := postgres.New(ctx, cfg.Database.ConnectionURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	pipelines, err := st.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("listing pipelines: %w", err)
	}
	if len(pipelines) == 0 {
		fmt.Println("No pipelines registered.")
	} else {
		fmt.Println("Pipelines:")
		for _, p := range pipelines {
			templates, err := st.ListTemplatesByPipeline(ctx, p.PipelineID)
			if err != nil {
				return fmt.Errorf("listing templates for %s: %w", p.Name, err)
			}
			fmt.Printf("  %-30s %s  (%d templates)\n", p.Name, p.PipelineID, len(templates))
		}
	}

	fmt.Println()
	runs, err := st.ListRunsByStatus(ctx, lifecycle.NonTerminalRunStatuses(), 20)
	if err != nil {
		return fmt.Errorf("listing in-flight runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs in flight.")
		return nil
	}
	fmt.Println("In-flight runs:")
	for _, r := range runs {
		fmt.Printf("  %-30s %-26s %s\n", r.RunID, r.Status, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
