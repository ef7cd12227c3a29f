package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/printer"
)

var (
	migrateFrom int
	migrateTo   int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate stored facts to a new schema version",
	Long: `Rewrite every fact at --from to --to, re-signing each record and
emitting one SchemaMigrated audit fact per rewrite.

The migration is resumable: records already at the target version are
skipped, so an interrupted run can simply be started again.

Examples:
  agentweb migrate --from=1 --to=2`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().IntVar(&migrateFrom, "from", 0, "Schema version to migrate from (required)")
	migrateCmd.Flags().IntVar(&migrateTo, "to", 0, "Schema version to migrate to (required)")
	migrateCmd.MarkFlagRequired("from")
	migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if migrateFrom <= 0 || migrateTo <= 0 {
		return printer.Error(
			"invalid schema versions",
			fmt.Sprintf("--from and --to must be positive, got %d and %d", migrateFrom, migrateTo),
			nil,
		)
	}
	if migrateFrom == migrateTo {
		return printer.Error(
			"nothing to migrate",
			fmt.Sprintf("--from and --to are both %d", migrateFrom),
			nil,
		)
	}

	l, cfg, err := openLog()
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.Addr),
			nil,
		)
	}

	printer.Step("Migrating facts for instance '%s' from schema v%d to v%d...\n",
		cfg.Instance, migrateFrom, migrateTo)

	migrated, err := l.MigrateSchema(ctx, migrateFrom, migrateTo)
	if err != nil {
		return printer.Error(
			"migration failed",
			err.Error(),
			[]string{"The migration is resumable, run the same command again once the cause is fixed."},
		)
	}

	if migrated == 0 {
		printer.Success("No facts needed migration\n")
	} else {
		printer.Success("Migrated %d fact(s) to schema v%d\n", migrated, migrateTo)
	}
	return nil
}
