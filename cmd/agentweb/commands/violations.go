package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/inspect"
	"github.com/tinycrops/agentWeb/internal/printer"
	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

var (
	violationsSince  string
	violationsLimit  int
	violationsOutput string
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Show detected invariant violations",
	Long: `Show InvariantViolated facts from the log, oldest first.

Examples:
  # All recorded violations
  agentweb violations

  # Violations from the last hour, as JSONL
  agentweb violations --since=1h --output=jsonl`,
	RunE: runViolations,
}

func init() {
	violationsCmd.Flags().StringVar(&violationsSince, "since", "", "Show violations after time (duration or RFC3339)")
	violationsCmd.Flags().IntVar(&violationsLimit, "limit", 0, "Maximum number of violations to show (0 = no limit)")
	violationsCmd.Flags().StringVarP(&violationsOutput, "output", "o", "default", "Output format: default or jsonl")
	rootCmd.AddCommand(violationsCmd)
}

func runViolations(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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

	var sinceMS int64
	if violationsSince != "" {
		if sinceMS, err = inspect.ParseTime(violationsSince); err != nil {
			return printer.Error("invalid --since", err.Error(), nil)
		}
	}

	q := factlog.Query{
		Kind:   fact.KindInvariantViolated,
		FromTs: sinceMS,
		Limit:  violationsLimit,
	}

	if violationsOutput == "jsonl" {
		return inspect.ListFacts(ctx, l, cfg.Instance, q, inspect.OutputFormatJSONL, os.Stdout)
	}
	if violationsOutput != "default" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", violationsOutput),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	facts, err := l.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query violations: %w", err)
	}
	if len(facts) == 0 {
		printer.Success("No violations recorded for instance '%s'\n", cfg.Instance)
		return nil
	}

	for _, f := range facts {
		printer.Violation(f.Subject["invariantType"], f.PayloadString("message"))
	}
	printer.Printf("\n%d violation(s) found\n", len(facts))
	return nil
}
