// Package factlog implements the durable append-only fact log: idempotent
// signed-fact storage with a paired EnvelopeWritten audit fact written
// atomically on every first-time insert, secondary indexes for kind, source,
// subject entity, causal reference and schema version, and resumable schema
// migration.
//
// Two implementations share the Log interface: RedisLog for production and
// MemoryLog as the in-process reference implementation used in tests.
package factlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// ErrNotFound is returned by lookups when no fact exists for the given ID.
var ErrNotFound = errors.New("fact not found")

// IntegrityError reports a fact whose signature failed verification on append.
// Integrity failures indicate a producer bug and must not be retried.
type IntegrityError struct {
	FactID string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for fact %s: %s", e.FactID, e.Reason)
}

// StorageError wraps a transient or permanent backing-store failure.
// Consumption loops retry these with backoff.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// AppendResult describes the outcome of a successful Append.
type AppendResult struct {
	// Inserted is true when the fact was newly stored, false when it was
	// already durably present (idempotent no-op).
	Inserted bool

	// Envelope is the EnvelopeWritten audit fact written atomically with a
	// first-time insert. Nil for duplicates and for envelope-kind facts,
	// which do not recursively generate envelopes.
	Envelope *fact.Fact
}

// Query selects an ascending-by-timestamp window of facts. Zero values mean
// "no filter" for every field. Skip/Limit provide stateless pagination over
// the filtered sequence.
type Query struct {
	Kind          fact.Kind
	Source        string
	FromTs        int64 // inclusive, unix milliseconds
	ToTs          int64 // inclusive, unix milliseconds
	EntityID      string // matches any subject value
	SchemaVersion int
	Limit         int
	Skip          int
}

// Log is the append-only, tamper-evident store of all facts.
type Log interface {
	// Append verifies the fact's integrity signature and performs an
	// insert-if-absent keyed by ID. On first insert it atomically also writes
	// an EnvelopeWritten meta-fact; both writes commit together or neither
	// does. A fact that is already present reports success without any write.
	// Returns an *IntegrityError on signature mismatch (the fact is never
	// stored) and a *StorageError on backing-store failure.
	Append(ctx context.Context, f *fact.Fact) (AppendResult, error)

	// GetByID returns the fact with the given ID, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*fact.Fact, error)

	// Query returns facts matching q, ascending by timestamp.
	Query(ctx context.Context, q Query) ([]*fact.Fact, error)

	// GetByCausalID returns the facts whose causal reference equals id,
	// ascending by timestamp.
	GetByCausalID(ctx context.Context, id string) ([]*fact.Fact, error)

	// GetLatest returns up to limit facts, descending by timestamp.
	GetLatest(ctx context.Context, limit int) ([]*fact.Fact, error)

	// MigrateSchema rewrites every fact at fromVersion to toVersion,
	// preserving IDs, re-signing, and emitting one SchemaMigrated audit fact
	// per rewritten record. Records already at toVersion are skipped, making
	// the operation resumable and idempotent per record. Returns the number
	// of records rewritten in this invocation.
	MigrateSchema(ctx context.Context, fromVersion, toVersion int) (int, error)

	// Close releases backing-store resources.
	Close() error
}
