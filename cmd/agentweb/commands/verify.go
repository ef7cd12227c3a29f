package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinycrops/agentWeb/internal/inspect"
	"github.com/tinycrops/agentWeb/internal/printer"
)

var verifyPageSize int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of every fact in the log",
	Long: `Recompute the signature of every stored fact and report tampering.

The sweep pages through the whole log, so expect it to take a while on
large instances. A clean run exits 0; any failed fact exits 1.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().IntVar(&verifyPageSize, "page-size", 500, "Number of facts to check per batch")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	printer.Step("Verifying facts for instance '%s'...\n", cfg.Instance)

	result, err := inspect.VerifyFacts(ctx, l, verifyPageSize)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if len(result.Failed) == 0 {
		printer.Success("All %d facts verified\n", result.Checked)
		return nil
	}

	for _, id := range result.Failed {
		printer.Warning("signature mismatch: %s\n", id)
	}
	return printer.Error(
		fmt.Sprintf("%d of %d facts failed verification", len(result.Failed), result.Checked),
		"The log was tampered with or corrupted.",
		nil,
	)
}
