package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carrotsystems/carrot/internal/config"
	"github.com/carrotsystems/carrot/internal/store/postgres"
)

// NewMigrateCmd creates the migrate command, which applies the catalog and
// run schema DDL to the configured database. Adapted from the dropped
// cmd/lambda entrypoint (a one-shot FaaS handler invoked by the teacher's
// deploy tooling) into a one-shot CLI subcommand, since CARROT runs as a
// single long-lived process rather than per-invocation Lambda handlers
// (see DESIGN.md).
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the CARROT database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	st, err := postgres.New(ctx, cfg.Database.ConnectionURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	fmt.Println("schema applied")
	return nil
}
