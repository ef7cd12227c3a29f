package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/inspect"
	"github.com/tinycrops/agentWeb/internal/printer"
	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

var (
	factsOutputFormat string
	factsKind         string
	factsSource       string
	factsEntity       string
	factsSince        string
	factsUntil        string
	factsLimit        int
	factsSkip         int
)

var factsCmd = &cobra.Command{
	Use:   "facts [FACT_ID]",
	Short: "Inspect the fact log with filtering",
	Long: `Inspect facts in list or get mode.

List Mode (no FACT_ID):
  Displays facts matching filters as a table or JSONL stream.

Get Mode (with FACT_ID):
  Displays the complete fact as pretty-printed JSON.
  Supports short IDs (e.g., "abc123" instead of full UUID).

Output Formats (list mode only):
  default - Human-readable table with ID, Kind, Source, Age and Subject
  jsonl   - Line-delimited JSON, one fact per line

Time Filters (list mode only):
  --since  - Show facts recorded after this time
  --until  - Show facts recorded before this time

Examples:
  # List all facts
  agentweb facts

  # Filter by kind and time
  agentweb facts --kind=TaskStatusChanged --since=2h

  # Facts about one entity, as JSONL for piping to jq
  agentweb facts --entity=proj-api --output=jsonl | jq .payload

  # Get a specific fact by short ID
  agentweb facts abc123`,
	RunE: runFacts,
}

func init() {
	factsCmd.Flags().StringVarP(&factsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")

	// Time-based filters
	factsCmd.Flags().StringVar(&factsSince, "since", "", "Show facts after time (duration or RFC3339)")
	factsCmd.Flags().StringVar(&factsUntil, "until", "", "Show facts before time (duration or RFC3339)")

	// Content-based filters
	factsCmd.Flags().StringVar(&factsKind, "kind", "", "Filter by fact kind (exact match: \"TaskCreated\")")
	factsCmd.Flags().StringVar(&factsSource, "source", "", "Filter by producing source (exact match)")
	factsCmd.Flags().StringVar(&factsEntity, "entity", "", "Filter by subject entity ID (exact match)")

	// Pagination
	factsCmd.Flags().IntVar(&factsLimit, "limit", 0, "Maximum number of facts to return (0 = no limit)")
	factsCmd.Flags().IntVar(&factsSkip, "skip", 0, "Number of matching facts to skip")

	rootCmd.AddCommand(factsCmd)
}

func runFacts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	isGetMode := len(args) > 0

	var outputFormat inspect.OutputFormat
	if !isGetMode {
		switch factsOutputFormat {
		case "default":
			outputFormat = inspect.OutputFormatDefault
		case "jsonl":
			outputFormat = inspect.OutputFormatJSONL
		default:
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", factsOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}
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
			[]string{"Check that the instance's Redis is running, or point --config at the right file."},
		)
	}

	if isGetMode {
		return getFact(ctx, l, args[0])
	}

	sinceMS, untilMS, err := inspect.ParseTimeRange(factsSince, factsUntil)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), nil)
	}

	q := factlog.Query{
		Kind:     fact.Kind(factsKind),
		Source:   factsSource,
		EntityID: factsEntity,
		FromTs:   sinceMS,
		ToTs:     untilMS,
		Limit:    factsLimit,
		Skip:     factsSkip,
	}
	return inspect.ListFacts(ctx, l, cfg.Instance, q, outputFormat, os.Stdout)
}

func getFact(ctx context.Context, l *factlog.RedisLog, shortID string) error {
	fullID, err := inspect.ResolveFactID(ctx, l, shortID)
	if err != nil {
		var nf *inspect.NotFoundError
		if errors.As(err, &nf) {
			return printer.Error(
				fmt.Sprintf("fact with ID '%s' not found", shortID),
				"The specified fact does not exist in the log.",
				[]string{"List all facts:\n  agentweb facts"},
			)
		}
		var amb *inspect.AmbiguousError
		if errors.As(err, &amb) {
			return printer.Error(
				fmt.Sprintf("fact ID '%s' is ambiguous", shortID),
				inspect.FormatAmbiguousError(amb),
				nil,
			)
		}
		return err
	}
	return inspect.GetFact(ctx, l, fullID, os.Stdout)
}
