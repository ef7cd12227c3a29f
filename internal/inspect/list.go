// Package inspect implements the read-only fact views behind the CLI: list,
// get and verify over any factlog.Log implementation.
package inspect

import (
	"context"
	"fmt"
	"io"

	"github.com/tinycrops/agentWeb/pkg/factlog"
)

// OutputFormat specifies how to format the fact list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated fields.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete facts as line-delimited JSON.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ListFacts queries the log and writes the result in the requested format.
// Facts are returned oldest first, matching the log's query order.
func ListFacts(ctx context.Context, l factlog.Log, instanceName string, q factlog.Query, format OutputFormat, w io.Writer) error {
	facts, err := l.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query facts: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, facts, instanceName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, facts); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// GetFact fetches one fact by ID and writes it as pretty JSON.
func GetFact(ctx context.Context, l factlog.Log, id string, w io.Writer) error {
	f, err := l.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get fact %s: %w", id, err)
	}
	return FormatSingleJSON(w, f)
}

// VerifyResult summarizes an integrity sweep over the log.
type VerifyResult struct {
	Checked int
	Failed  []string // IDs whose signature did not verify
}

// VerifyFacts recomputes every stored fact's signature in pages and reports
// the IDs that fail. A non-empty Failed list means the store was tampered
// with or corrupted.
func VerifyFacts(ctx context.Context, l factlog.Log, pageSize int) (*VerifyResult, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	result := &VerifyResult{}

	for skip := 0; ; skip += pageSize {
		page, err := l.Query(ctx, factlog.Query{Limit: pageSize, Skip: skip})
		if err != nil {
			return nil, fmt.Errorf("failed to page through facts: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, f := range page {
			result.Checked++
			if !f.Verify() {
				result.Failed = append(result.Failed, f.ID)
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return result, nil
}

// TailFacts writes the newest facts, most recent last, as a table.
func TailFacts(ctx context.Context, l factlog.Log, instanceName string, limit int, w io.Writer) error {
	facts, err := l.GetLatest(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to get latest facts: %w", err)
	}
	// GetLatest returns newest first; flip for chronological display.
	for i, j := 0, len(facts)-1; i < j; i, j = i+1, j-1 {
		facts[i], facts[j] = facts[j], facts[i]
	}
	FormatTable(w, facts, instanceName)
	return nil
}
