package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tinycrops/agentWeb/pkg/factlog"
)

// MinShortIDLength is the minimum prefix length accepted when resolving a
// fact by partial ID. Shorter prefixes match too many facts to be useful.
const MinShortIDLength = 6

// NotFoundError indicates no fact matched the given ID or prefix.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no fact found matching ID %q", e.ShortID)
}

// AmbiguousError indicates a prefix matched more than one fact.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous ID %q matches %d facts", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError renders an AmbiguousError with the matching IDs so
// the user can pick one.
func FormatAmbiguousError(e *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID %q is ambiguous, matches:\n", e.ShortID)
	for _, id := range e.Matches {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	b.WriteString("Use a longer prefix or the full ID.")
	return b.String()
}

// ResolveFactID expands a short ID prefix into a full fact ID. Full UUIDs
// are looked up directly; prefixes are matched by scanning the log.
func ResolveFactID(ctx context.Context, l factlog.Log, shortID string) (string, error) {
	if _, err := uuid.Parse(shortID); err == nil {
		f, err := l.GetByID(ctx, shortID)
		if errors.Is(err, factlog.ErrNotFound) {
			return "", &NotFoundError{ShortID: shortID}
		}
		if err != nil {
			return "", fmt.Errorf("looking up fact: %w", err)
		}
		return f.ID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("ID prefix %q too short (minimum %d characters)", shortID, MinShortIDLength)
	}

	var matches []string
	for skip := 0; ; skip += resolvePageSize {
		page, err := l.Query(ctx, factlog.Query{Limit: resolvePageSize, Skip: skip})
		if err != nil {
			return "", fmt.Errorf("scanning facts: %w", err)
		}
		for _, f := range page {
			if strings.HasPrefix(f.ID, shortID) {
				matches = append(matches, f.ID)
			}
		}
		if len(page) < resolvePageSize {
			break
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

const resolvePageSize = 500
