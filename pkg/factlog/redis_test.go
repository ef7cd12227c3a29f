package factlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// setupRedisLog creates a fact log backed by a miniredis instance.
func setupRedisLog(t *testing.T) (*RedisLog, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	l, err := NewRedisLog(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l, mr
}

func TestNewRedisLog(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewRedisLog(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
	})

	t.Run("pings", func(t *testing.T) {
		l, _ := setupRedisLog(t)
		assert.NoError(t, l.Ping(context.Background()))
	})
}

func TestRedisAppendIdempotence(t *testing.T) {
	ctx := context.Background()
	l, mr := setupRedisLog(t)

	f, err := fact.NewProjectCreated("ingest", "p1", "demo", "", "")
	require.NoError(t, err)

	first, err := l.Append(ctx, f)
	require.NoError(t, err)
	assert.True(t, first.Inserted)
	require.NotNil(t, first.Envelope)
	assert.Equal(t, f.ID, first.Envelope.CausedBy)

	second, err := l.Append(ctx, f)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Nil(t, second.Envelope)

	envelopes, err := l.Query(ctx, Query{Kind: fact.KindEnvelopeWritten})
	require.NoError(t, err)
	assert.Len(t, envelopes, 1, "exactly one envelope per logical insert")

	// Both the fact and its envelope landed in the same transaction.
	assert.True(t, mr.Exists(FactKey("test-instance", f.ID)))
	assert.True(t, mr.Exists(FactKey("test-instance", first.Envelope.ID)))
}

func TestRedisAppendIntegrityRejection(t *testing.T) {
	ctx := context.Background()
	l, mr := setupRedisLog(t)

	f, err := fact.NewProjectCreated("ingest", "p1", "demo", "", "")
	require.NoError(t, err)
	f.Subject["projectId"] = "p2"

	_, err = l.Append(ctx, f)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.False(t, mr.Exists(FactKey("test-instance", f.ID)))
}

func TestRedisGetByID(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	f, err := fact.NewTaskStatusChanged("bridge", "t1", "p1", "pending", "completed", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, f)
	require.NoError(t, err)

	got, err := l.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Timestamp, got.Timestamp)
	assert.Equal(t, "completed", got.PayloadString("newStatus"))
	assert.True(t, got.Verify(), "signature must survive the hash round-trip")

	_, err = l.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisQuery(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	p1, err := fact.NewProjectCreated("ingest", "p1", "one", "", "")
	require.NoError(t, err)
	p2, err := fact.NewProjectCreated("ingest", "p2", "two", "", "")
	require.NoError(t, err)
	task, err := fact.NewTaskCreated("bridge", "t1", "p1", "x", "", "", "")
	require.NoError(t, err)
	for _, f := range []*fact.Fact{p1, p2, task} {
		_, err := l.Append(ctx, f)
		require.NoError(t, err)
	}

	t.Run("kind and source filters", func(t *testing.T) {
		facts, err := l.Query(ctx, Query{Kind: fact.KindProjectCreated})
		require.NoError(t, err)
		assert.Len(t, facts, 2)

		facts, err = l.Query(ctx, Query{Source: "bridge"})
		require.NoError(t, err)
		assert.Len(t, facts, 1)
	})

	t.Run("entity filter spans subject values", func(t *testing.T) {
		facts, err := l.Query(ctx, Query{EntityID: "p1"})
		require.NoError(t, err)
		assert.Len(t, facts, 2)
	})

	t.Run("schema version filter", func(t *testing.T) {
		facts, err := l.Query(ctx, Query{SchemaVersion: fact.CurrentSchemaVersion, Kind: fact.KindProjectCreated})
		require.NoError(t, err)
		assert.Len(t, facts, 2)
	})

	t.Run("skip and limit paginate the filtered sequence", func(t *testing.T) {
		all, err := l.Query(ctx, Query{Kind: fact.KindProjectCreated})
		require.NoError(t, err)
		require.Len(t, all, 2)

		page, err := l.Query(ctx, Query{Kind: fact.KindProjectCreated, Skip: 1, Limit: 5})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, all[1].ID, page[0].ID)
	})
}

func TestRedisQueryPagesLargeWindows(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	// Enough facts (plus their envelopes) to span several scan pages.
	const total = 300
	for i := 0; i < total; i++ {
		f, err := fact.NewTaskCreated("ingest", fmt.Sprintf("task-%03d", i), "p1", "title", "", "", "")
		require.NoError(t, err)
		_, err = l.Append(ctx, f)
		require.NoError(t, err)
	}

	all, err := l.Query(ctx, Query{Kind: fact.KindTaskCreated})
	require.NoError(t, err)
	require.Len(t, all, total)

	ids := make(map[string]bool, total)
	for _, f := range all {
		ids[f.ID] = true
	}
	assert.Len(t, ids, total, "paged scan must not duplicate facts")

	// Skip/Limit slice the same sequence the full scan produces.
	window, err := l.Query(ctx, Query{Kind: fact.KindTaskCreated, Skip: total - 50, Limit: 20})
	require.NoError(t, err)
	require.Len(t, window, 20)
	for i, f := range window {
		assert.Equal(t, all[total-50+i].ID, f.ID)
	}
}

func TestRedisGetByCausalID(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	parent, err := fact.NewProjectCreated("ingest", "p1", "demo", "", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, parent)
	require.NoError(t, err)

	child, err := fact.NewProjectProgressCalculated("agent", "p1", 25, 1, 4, parent.ID)
	require.NoError(t, err)
	_, err = l.Append(ctx, child)
	require.NoError(t, err)

	caused, err := l.GetByCausalID(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, caused, 2, "child fact plus the parent's envelope")

	found := false
	for _, f := range caused {
		if f.ID == child.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRedisGetLatest(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	for i := 0; i < 3; i++ {
		f, err := fact.NewProjectCreated("ingest", "p", "demo", "", "")
		require.NoError(t, err)
		_, err = l.Append(ctx, f)
		require.NoError(t, err)
	}

	latest, err := l.GetLatest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.GreaterOrEqual(t, latest[0].Timestamp, latest[1].Timestamp)
}

func TestRedisMigrateSchema(t *testing.T) {
	ctx := context.Background()
	l, _ := setupRedisLog(t)

	f, err := fact.NewProjectCreated("ingest", "p1", "demo", "", "")
	require.NoError(t, err)
	res, err := l.Append(ctx, f)
	require.NoError(t, err)

	// The fact and its envelope are both at the current version.
	count, err := l.MigrateSchema(ctx, fact.CurrentSchemaVersion, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := l.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SchemaVersion)
	assert.True(t, got.Verify())

	env, err := l.GetByID(ctx, res.Envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, env.SchemaVersion)

	audits, err := l.Query(ctx, Query{Kind: fact.KindSchemaMigrated})
	require.NoError(t, err)
	assert.Len(t, audits, 2)

	count, err = l.MigrateSchema(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = l.MigrateSchema(ctx, 2, 3)
	require.NoError(t, err)
	assert.Zero(t, count)
}
