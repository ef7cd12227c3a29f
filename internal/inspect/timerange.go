package inspect

import (
	"fmt"
	"time"
)

// ParseTime turns a CLI time specification into unix milliseconds. Two
// forms are accepted: an RFC3339 timestamp, or a Go duration meaning "that
// long ago" ("2h" is two hours before now).
func ParseTime(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseTimeRange parses the --since and --until flags. A zero return means
// that end of the range is unbounded.
func ParseTimeRange(since, until string) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		if sinceMS, err = ParseTime(since); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMS, err = ParseTime(until); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMS, untilMS, nil
}
