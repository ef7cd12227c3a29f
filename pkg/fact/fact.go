package fact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is the schema version stamped onto newly created facts.
// Stored facts keep the version that was current at write time; the fact log's
// MigrateSchema operation rewrites old versions forward.
const CurrentSchemaVersion = 1

// Kind is the string tag selecting a fact's schema.
type Kind string

const (
	// KindRepoCommit records an external repository commit arriving at the ingestion boundary.
	KindRepoCommit Kind = "RepoCommit"

	// KindProjectCreated records the creation of a project.
	KindProjectCreated Kind = "ProjectCreated"

	// KindProjectUpdated records a partial update to a project's fields.
	KindProjectUpdated Kind = "ProjectUpdated"

	// KindTaskCreated records the creation of a task within a project.
	KindTaskCreated Kind = "TaskCreated"

	// KindTaskUpdated records a partial update to a task's fields.
	KindTaskUpdated Kind = "TaskUpdated"

	// KindTaskStatusChanged records a task moving between statuses.
	KindTaskStatusChanged Kind = "TaskStatusChanged"

	// KindProjectProgressCalculated carries a derived progress value for a project.
	KindProjectProgressCalculated Kind = "ProjectProgressCalculated"

	// KindDependencyEdgeAdded records a directed dependency between two projects.
	KindDependencyEdgeAdded Kind = "DependencyEdgeAdded"

	// KindInsightRaised carries a human-readable observation derived from other facts.
	KindInsightRaised Kind = "InsightRaised"

	// KindInvariantViolated reports a detected breach of a domain invariant.
	// Violations are reported as data, never thrown.
	KindInvariantViolated Kind = "InvariantViolated"

	// KindEnvelopeWritten is the audit meta-fact the fact log writes atomically
	// alongside every first-time insert. It references the newly logged fact.
	KindEnvelopeWritten Kind = "EnvelopeWritten"

	// KindSchemaMigrated is the audit fact emitted for every record rewritten
	// by a schema migration.
	KindSchemaMigrated Kind = "SchemaMigrated"
)

// Invariant type values carried in the subject of InvariantViolated facts.
const (
	ViolationProgressReduction  = "ProgressReduction"
	ViolationCyclicDependency   = "CyclicDependency"
	ViolationMissingCausalEvent = "MissingCausalEvent"
	ViolationSystemError        = "SystemError"
)

// Fact is an immutable, signed record. All fields are set at creation and must
// never change afterwards; Signature covers every other field.
type Fact struct {
	ID            string            `json:"id"`
	Timestamp     int64             `json:"ts"` // unix milliseconds
	Source        string            `json:"source"`
	Kind          Kind              `json:"kind"`
	Subject       map[string]string `json:"subject"`
	Payload       map[string]any    `json:"payload"`
	CausedBy      string            `json:"caused_by,omitempty"`
	SchemaVersion int               `json:"schema_version"`
	Signature     string            `json:"sig"`
}

// New creates a signed fact. causedBy may be empty when the fact has no causal
// ancestor. Returns an error if source or kind is empty.
func New(source string, kind Kind, subject map[string]string, payload map[string]any, causedBy string) (*Fact, error) {
	if source == "" {
		return nil, fmt.Errorf("fact source cannot be empty")
	}
	if kind == "" {
		return nil, fmt.Errorf("fact kind cannot be empty")
	}
	if subject == nil {
		subject = map[string]string{}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	f := &Fact{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
		Source:        source,
		Kind:          kind,
		Subject:       subject,
		Payload:       payload,
		CausedBy:      causedBy,
		SchemaVersion: CurrentSchemaVersion,
	}
	if err := f.Sign(); err != nil {
		return nil, err
	}
	return f, nil
}

// signatureBody mirrors Fact minus the signature itself. encoding/json emits
// struct fields in declaration order and map keys sorted, so the marshalled
// form is deterministic.
type signatureBody struct {
	ID            string            `json:"id"`
	Timestamp     int64             `json:"ts"`
	Source        string            `json:"source"`
	Kind          Kind              `json:"kind"`
	Subject       map[string]string `json:"subject"`
	Payload       map[string]any    `json:"payload"`
	CausedBy      string            `json:"caused_by,omitempty"`
	SchemaVersion int               `json:"schema_version"`
}

func (f *Fact) computeSignature() (string, error) {
	body := signatureBody{
		ID:            f.ID,
		Timestamp:     f.Timestamp,
		Source:        f.Source,
		Kind:          f.Kind,
		Subject:       f.Subject,
		Payload:       f.Payload,
		CausedBy:      f.CausedBy,
		SchemaVersion: f.SchemaVersion,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fact for signing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign recomputes the integrity signature from the current field values.
// Normal callers never need this: New signs at creation, and facts are
// immutable afterwards. Schema migration is the one audited exception.
func (f *Fact) Sign() error {
	sig, err := f.computeSignature()
	if err != nil {
		return err
	}
	f.Signature = sig
	return nil
}

// Verify recomputes the signature and compares it to the stored one.
// Returns false if any field was altered after signing.
func (f *Fact) Verify() bool {
	sig, err := f.computeSignature()
	if err != nil {
		return false
	}
	return sig == f.Signature
}

// Validate checks structural validity: well-formed ID, required fields, and a
// verifying signature.
func (f *Fact) Validate() error {
	if _, err := uuid.Parse(f.ID); err != nil {
		return fmt.Errorf("invalid fact ID: not a valid UUID")
	}
	if f.Timestamp <= 0 {
		return fmt.Errorf("invalid timestamp: %d", f.Timestamp)
	}
	if f.Source == "" {
		return fmt.Errorf("fact source cannot be empty")
	}
	if f.Kind == "" {
		return fmt.Errorf("fact kind cannot be empty")
	}
	if !f.Verify() {
		return fmt.Errorf("fact %s failed integrity verification", f.ID)
	}
	return nil
}

// Clone returns a deep copy. Used by in-memory implementations to keep stored
// facts isolated from caller mutation.
func (f *Fact) Clone() *Fact {
	cp := *f
	cp.Subject = make(map[string]string, len(f.Subject))
	for k, v := range f.Subject {
		cp.Subject[k] = v
	}
	// Payload values are treated as immutable JSON scalars/containers; a
	// shallow copy of the top level is enough to isolate map writes.
	cp.Payload = make(map[string]any, len(f.Payload))
	for k, v := range f.Payload {
		cp.Payload[k] = v
	}
	return &cp
}

// PayloadString extracts a string payload field, returning "" when absent or
// of the wrong type.
func (f *Fact) PayloadString(key string) string {
	if v, ok := f.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat extracts a numeric payload field. JSON round-trips deliver
// numbers as float64; int values from in-process construction are accepted too.
func (f *Fact) PayloadFloat(key string) (float64, bool) {
	switch v := f.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	default:
		return 0, false
	}
}
