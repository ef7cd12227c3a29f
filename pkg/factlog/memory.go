package factlog

import (
	"context"
	"sort"
	"sync"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// MemoryLog is the in-process reference implementation of Log. It mirrors
// RedisLog semantics exactly and is intended for tests and embedded use.
type MemoryLog struct {
	mu    sync.RWMutex
	facts map[string]*fact.Fact
	order []string // fact IDs sorted ascending by (timestamp, insertion)
}

// NewMemoryLog creates an empty in-memory fact log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		facts: make(map[string]*fact.Fact),
	}
}

// Append implements Log. The mutex makes the insert-if-absent check and the
// paired envelope write atomic per fact.
func (l *MemoryLog) Append(_ context.Context, f *fact.Fact) (AppendResult, error) {
	if !f.Verify() {
		return AppendResult{}, &IntegrityError{FactID: f.ID, Reason: "signature mismatch"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.facts[f.ID]; exists {
		return AppendResult{Inserted: false}, nil
	}

	var envelope *fact.Fact
	if f.Kind != fact.KindEnvelopeWritten {
		env, err := fact.NewEnvelopeWritten("factlog", f)
		if err != nil {
			return AppendResult{}, &StorageError{Op: "append", Err: err}
		}
		envelope = env
	}

	l.insertLocked(f.Clone())
	if envelope != nil {
		l.insertLocked(envelope.Clone())
	}

	return AppendResult{Inserted: true, Envelope: envelope}, nil
}

// insertLocked stores a fact and keeps the order slice sorted by timestamp,
// stable on insertion order for equal timestamps.
func (l *MemoryLog) insertLocked(f *fact.Fact) {
	l.facts[f.ID] = f
	pos := sort.Search(len(l.order), func(i int) bool {
		return l.facts[l.order[i]].Timestamp > f.Timestamp
	})
	l.order = append(l.order, "")
	copy(l.order[pos+1:], l.order[pos:])
	l.order[pos] = f.ID
}

// GetByID implements Log.
func (l *MemoryLog) GetByID(_ context.Context, id string) (*fact.Fact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, ok := l.facts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

// Query implements Log.
func (l *MemoryLog) Query(_ context.Context, q Query) ([]*fact.Fact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*fact.Fact
	skipped := 0
	for _, id := range l.order {
		f := l.facts[id]
		if !matchesQuery(f, q) {
			continue
		}
		if skipped < q.Skip {
			skipped++
			continue
		}
		out = append(out, f.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// GetByCausalID implements Log.
func (l *MemoryLog) GetByCausalID(_ context.Context, id string) ([]*fact.Fact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*fact.Fact
	for _, fid := range l.order {
		if f := l.facts[fid]; f.CausedBy == id {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

// GetLatest implements Log.
func (l *MemoryLog) GetLatest(_ context.Context, limit int) ([]*fact.Fact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*fact.Fact
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.facts[l.order[i]].Clone())
	}
	return out, nil
}

// MigrateSchema implements Log.
func (l *MemoryLog) MigrateSchema(ctx context.Context, fromVersion, toVersion int) (int, error) {
	l.mu.RLock()
	var candidates []string
	for _, id := range l.order {
		if l.facts[id].SchemaVersion == fromVersion {
			candidates = append(candidates, id)
		}
	}
	l.mu.RUnlock()

	migrated := 0
	for _, id := range candidates {
		l.mu.Lock()
		f, ok := l.facts[id]
		if !ok || f.SchemaVersion != fromVersion {
			// Already migrated by a concurrent or prior run.
			l.mu.Unlock()
			continue
		}
		rewritten := f.Clone()
		rewritten.SchemaVersion = toVersion
		if err := rewritten.Sign(); err != nil {
			l.mu.Unlock()
			return migrated, &StorageError{Op: "migrate", Err: err}
		}
		l.facts[id] = rewritten
		l.mu.Unlock()

		audit, err := fact.NewSchemaMigrated("migrator", id, fromVersion, toVersion)
		if err != nil {
			return migrated, &StorageError{Op: "migrate", Err: err}
		}
		if _, err := l.Append(ctx, audit); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// Close implements Log. No-op for the in-memory implementation.
func (l *MemoryLog) Close() error { return nil }

// Len returns the number of stored facts (including envelope meta-facts).
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.facts)
}

// matchesQuery applies all Query filters, ANDed together.
func matchesQuery(f *fact.Fact, q Query) bool {
	if q.Kind != "" && f.Kind != q.Kind {
		return false
	}
	if q.Source != "" && f.Source != q.Source {
		return false
	}
	if q.FromTs > 0 && f.Timestamp < q.FromTs {
		return false
	}
	if q.ToTs > 0 && f.Timestamp > q.ToTs {
		return false
	}
	if q.SchemaVersion > 0 && f.SchemaVersion != q.SchemaVersion {
		return false
	}
	if q.EntityID != "" {
		found := false
		for _, v := range f.Subject {
			if v == q.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
