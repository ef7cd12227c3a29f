package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/inspect"
	"github.com/tinycrops/agentWeb/internal/printer"
)

var tailLimit int

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent facts",
	Long: `Show the most recent facts in the log, oldest first.

Examples:
  # Last 20 facts (the default)
  agentweb tail

  # Last 100 facts
  agentweb tail --limit=100`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().IntVar(&tailLimit, "limit", 20, "Number of recent facts to show")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if tailLimit <= 0 {
		return printer.Error(
			"invalid limit",
			fmt.Sprintf("--limit must be positive, got %d", tailLimit),
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

	return inspect.TailFacts(ctx, l, cfg.Instance, tailLimit, os.Stdout)
}
