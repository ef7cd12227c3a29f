package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// FormatTable writes facts as a formatted table to the provided writer.
// Columns: ID, KIND, SOURCE, SUBJECT, AGE, CAUSED BY. Returns the number of
// facts formatted.
func FormatTable(w io.Writer, facts []*fact.Fact, instanceName string) int {
	if len(facts) == 0 {
		fmt.Fprintf(w, "No facts found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Facts for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-26s %-18s %-8s %-10s %s\n",
		"ID", "KIND", "SOURCE", "AGE", "CAUSED BY", "SUBJECT")
	fmt.Fprintf(w, "%-10s %-26s %-18s %-8s %-10s %s\n",
		"----------", "--------------------------", "------------------", "--------", "----------", "----------------------------------------")

	for _, f := range facts {
		fmt.Fprintf(w, "%-10s %-26s %-18s %-8s %-10s %s\n",
			formatID(f.ID),
			formatKind(f.Kind),
			formatSource(f.Source),
			formatTimestamp(f.Timestamp),
			formatID(f.CausedBy),
			formatSubject(f.Subject),
		)
	}

	countMsg := "fact"
	if len(facts) != 1 {
		countMsg = "facts"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(facts), countMsg)

	return len(facts)
}

// FormatJSONL writes facts as line-delimited JSON to the provided writer.
// Ideal for piping into jq or replay tooling.
func FormatJSONL(w io.Writer, facts []*fact.Fact) error {
	for _, f := range facts {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal fact to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one fact as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, f *fact.Fact) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fact to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates IDs to the first 8 characters for compact display.
func formatID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatKind(kind fact.Kind) string {
	s := string(kind)
	if len(s) > 26 {
		return s[:23] + "..."
	}
	return s
}

func formatSource(source string) string {
	if source == "" {
		return "-"
	}
	if len(source) > 18 {
		return source[:15] + "..."
	}
	return source
}

// formatSubject renders the subject map as sorted key=value pairs, truncated
// for table display.
func formatSubject(subject map[string]string) string {
	if len(subject) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(subject))
	for k := range subject {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, subject[k]))
	}
	line := strings.Join(pairs, " ")
	if len(line) > 40 {
		return line[:37] + "..."
	}
	return line
}

// formatTimestamp renders a unix-millisecond timestamp as relative age.
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	t := time.Unix(timestampMs/1000, (timestampMs%1000)*1000000)
	diff := time.Since(t)

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
