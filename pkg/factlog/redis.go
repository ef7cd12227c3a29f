package factlog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// maxAppendRetries bounds optimistic-transaction retries when concurrent
// appends of the same fact ID race on the WATCH.
const maxAppendRetries = 5

// RedisLog is the durable Log implementation. Each fact is stored as a Redis
// hash with secondary SET indexes for kind, source, subject entities, causal
// references and schema version, plus a ZSET ordering all facts by timestamp.
//
// The insert-if-absent check and the paired EnvelopeWritten write run inside a
// WATCH/MULTI transaction keyed on the fact's hash key, so concurrent appends
// of different facts proceed in parallel while appends of the same fact are
// serialized.
type RedisLog struct {
	rdb      *redis.Client
	instance string
}

// NewRedisLog creates a fact log for the given instance namespace.
func NewRedisLog(redisOpts *redis.Options, instance string) (*RedisLog, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisLog{
		rdb:      redis.NewClient(redisOpts),
		instance: instance,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (l *RedisLog) Close() error {
	return l.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Client exposes the underlying Redis client for operational tooling that
// shares the connection (views, CLI scans).
func (l *RedisLog) Client() *redis.Client {
	return l.rdb
}

// Instance returns the namespace this log writes under.
func (l *RedisLog) Instance() string {
	return l.instance
}

// Append implements Log.
func (l *RedisLog) Append(ctx context.Context, f *fact.Fact) (AppendResult, error) {
	if !f.Verify() {
		return AppendResult{}, &IntegrityError{FactID: f.ID, Reason: "signature mismatch"}
	}

	key := FactKey(l.instance, f.ID)
	var result AppendResult

	txn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			result = AppendResult{Inserted: false}
			return nil
		}

		var envelope *fact.Fact
		if f.Kind != fact.KindEnvelopeWritten {
			envelope, err = fact.NewEnvelopeWritten("factlog", f)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := l.writeFact(ctx, pipe, f); err != nil {
				return err
			}
			if envelope != nil {
				if err := l.writeFact(ctx, pipe, envelope); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = AppendResult{Inserted: true, Envelope: envelope}
		return nil
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		err := l.rdb.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the fact key mid-transaction; the next
			// attempt observes the winner's insert and no-ops.
			continue
		}
		return AppendResult{}, &StorageError{Op: "append", Err: err}
	}
	return AppendResult{}, &StorageError{Op: "append", Err: fmt.Errorf("transaction contention on fact %s", f.ID)}
}

// writeFact queues the hash write and all index updates for one fact.
func (l *RedisLog) writeFact(ctx context.Context, pipe redis.Pipeliner, f *fact.Fact) error {
	hash, err := FactToHash(f)
	if err != nil {
		return err
	}

	pipe.HSet(ctx, FactKey(l.instance, f.ID), hash)
	pipe.ZAdd(ctx, ByTimeKey(l.instance), redis.Z{Score: float64(f.Timestamp), Member: f.ID})
	pipe.SAdd(ctx, KindIndexKey(l.instance, string(f.Kind)), f.ID)
	pipe.SAdd(ctx, SourceIndexKey(l.instance, f.Source), f.ID)
	pipe.SAdd(ctx, SchemaIndexKey(l.instance, f.SchemaVersion), f.ID)
	for _, entity := range f.Subject {
		pipe.SAdd(ctx, EntityIndexKey(l.instance, entity), f.ID)
	}
	if f.CausedBy != "" {
		pipe.SAdd(ctx, CausalIndexKey(l.instance, f.CausedBy), f.ID)
	}
	return nil
}

// GetByID implements Log.
func (l *RedisLog) GetByID(ctx context.Context, id string) (*fact.Fact, error) {
	hash, err := l.rdb.HGetAll(ctx, FactKey(l.instance, id)).Result()
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	// HGetAll returns an empty map for missing keys.
	if len(hash) == 0 {
		return nil, ErrNotFound
	}
	f, err := HashToFact(hash)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return f, nil
}

// queryScanPage is how many candidate IDs each ZRANGEBYSCORE round trip
// pulls while scanning a query's time window.
const queryScanPage = 512

// Query implements Log. The time-ordered ZSET drives the scan in pages, so
// a narrow Limit never loads the whole window; remaining filters are
// applied per fact.
func (l *RedisLog) Query(ctx context.Context, q Query) ([]*fact.Fact, error) {
	min := "-inf"
	if q.FromTs > 0 {
		min = fmt.Sprintf("%d", q.FromTs)
	}
	max := "+inf"
	if q.ToTs > 0 {
		max = fmt.Sprintf("%d", q.ToTs)
	}

	var out []*fact.Fact
	skipped := 0
	for offset := int64(0); ; offset += queryScanPage {
		ids, err := l.rdb.ZRangeByScore(ctx, ByTimeKey(l.instance), &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  queryScanPage,
		}).Result()
		if err != nil {
			return nil, &StorageError{Op: "query", Err: err}
		}

		for _, id := range ids {
			f, err := l.GetByID(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !matchesQuery(f, q) {
				continue
			}
			if skipped < q.Skip {
				skipped++
				continue
			}
			out = append(out, f)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		if len(ids) < queryScanPage {
			return out, nil
		}
	}
}

// GetByCausalID implements Log.
func (l *RedisLog) GetByCausalID(ctx context.Context, id string) ([]*fact.Fact, error) {
	ids, err := l.rdb.SMembers(ctx, CausalIndexKey(l.instance, id)).Result()
	if err != nil {
		return nil, &StorageError{Op: "causal", Err: err}
	}

	var out []*fact.Fact
	for _, fid := range ids {
		f, err := l.GetByID(ctx, fid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// GetLatest implements Log.
func (l *RedisLog) GetLatest(ctx context.Context, limit int) ([]*fact.Fact, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := l.rdb.ZRevRange(ctx, ByTimeKey(l.instance), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, &StorageError{Op: "latest", Err: err}
	}

	var out []*fact.Fact
	for _, id := range ids {
		f, err := l.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// MigrateSchema implements Log. Each record is rewritten and audited
// individually, so an interrupted run can simply be re-invoked: records
// already at toVersion drop out of the candidate set.
func (l *RedisLog) MigrateSchema(ctx context.Context, fromVersion, toVersion int) (int, error) {
	ids, err := l.rdb.SMembers(ctx, SchemaIndexKey(l.instance, fromVersion)).Result()
	if err != nil {
		return 0, &StorageError{Op: "migrate", Err: err}
	}
	sort.Strings(ids)

	migrated := 0
	for _, id := range ids {
		f, err := l.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return migrated, err
		}
		if f.SchemaVersion != fromVersion {
			continue
		}

		f.SchemaVersion = toVersion
		if err := f.Sign(); err != nil {
			return migrated, &StorageError{Op: "migrate", Err: err}
		}
		hash, err := FactToHash(f)
		if err != nil {
			return migrated, &StorageError{Op: "migrate", Err: err}
		}

		_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, FactKey(l.instance, id), hash)
			pipe.SRem(ctx, SchemaIndexKey(l.instance, fromVersion), id)
			pipe.SAdd(ctx, SchemaIndexKey(l.instance, toVersion), id)
			return nil
		})
		if err != nil {
			return migrated, &StorageError{Op: "migrate", Err: err}
		}

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
