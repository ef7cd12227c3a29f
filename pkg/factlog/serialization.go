package factlog

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// Serialization helpers for converting between facts and Redis hashes.
//
// Redis stores data as string-to-string maps (hashes). The subject and payload
// maps are JSON-encoded into single hash fields; scalar fields are stored as
// individual hash fields so they stay inspectable with plain Redis commands.

// FactToHash converts a fact to Redis hash format.
func FactToHash(f *fact.Fact) (map[string]interface{}, error) {
	subjectJSON, err := json.Marshal(f.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subject: %w", err)
	}

	payloadJSON, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := map[string]interface{}{
		"id":             f.ID,
		"ts":             f.Timestamp,
		"source":         f.Source,
		"kind":           string(f.Kind),
		"subject":        string(subjectJSON),
		"payload":        string(payloadJSON),
		"caused_by":      f.CausedBy,
		"schema_version": f.SchemaVersion,
		"sig":            f.Signature,
	}

	return hash, nil
}

// HashToFact converts a Redis hash back to a fact.
func HashToFact(hash map[string]string) (*fact.Fact, error) {
	ts, err := strconv.ParseInt(hash["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ts field: %w", err)
	}

	schemaVersion, err := strconv.Atoi(hash["schema_version"])
	if err != nil {
		return nil, fmt.Errorf("invalid schema_version field: %w", err)
	}

	var subject map[string]string
	if subjectJSON := hash["subject"]; subjectJSON != "" {
		if err := json.Unmarshal([]byte(subjectJSON), &subject); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
		}
	}
	if subject == nil {
		subject = map[string]string{}
	}

	var payload map[string]any
	if payloadJSON := hash["payload"]; payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	f := &fact.Fact{
		ID:            hash["id"],
		Timestamp:     ts,
		Source:        hash["source"],
		Kind:          fact.Kind(hash["kind"]),
		Subject:       subject,
		Payload:       payload,
		CausedBy:      hash["caused_by"],
		SchemaVersion: schemaVersion,
		Signature:     hash["sig"],
	}

	return f, nil
}
