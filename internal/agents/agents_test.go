package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
	"github.com/tinycrops/agentWeb/pkg/stream"
)

func setupRouter(t *testing.T) (stream.Router, *factlog.MemoryLog) {
	t.Helper()
	l := factlog.NewMemoryLog()
	r := stream.NewMemoryRouter(l)
	t.Cleanup(func() {
		r.Close()
	})
	return r, l
}

func startAgent(t *testing.T, c interface {
	Init(context.Context, stream.Router) error
	Start(context.Context) error
}, r stream.Router) {
	t.Helper()
	require.NoError(t, c.Init(context.Background(), r))
	require.NoError(t, c.Start(context.Background()))
}

func progressFacts(t *testing.T, l *factlog.MemoryLog, projectID string) []*fact.Fact {
	t.Helper()
	out, err := l.Query(context.Background(), factlog.Query{
		Kind:     fact.KindProjectProgressCalculated,
		EntityID: projectID,
	})
	require.NoError(t, err)
	return out
}

func TestProgressAgent_CalculatesCompletion(t *testing.T) {
	r, l := setupRouter(t)
	ctx := context.Background()

	a, err := NewProgressAgent(consumer.Options{ID: "progress-1"})
	require.NoError(t, err)
	startAgent(t, a, r)

	t1, err := fact.NewTaskCreated("ingest", "task-1", "proj-1", "first", "", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, t1))
	t2, err := fact.NewTaskCreated("ingest", "task-2", "proj-1", "second", "", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, t2))

	require.Eventually(t, func() bool {
		return a.TaskCount("proj-1") == 2
	}, 3*time.Second, 10*time.Millisecond)

	done, err := fact.NewTaskStatusChanged("ingest", "task-1", "proj-1", "pending", "done", t1.ID)
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, done))

	// Three recalculations: 0%, 0%, then 50%.
	require.Eventually(t, func() bool {
		return len(progressFacts(t, l, "proj-1")) == 3
	}, 3*time.Second, 10*time.Millisecond)

	facts := progressFacts(t, l, "proj-1")
	last := facts[len(facts)-1]
	progress, ok := last.PayloadFloat("progress")
	require.True(t, ok)
	assert.Equal(t, 50.0, progress)
	assert.Equal(t, "progress-1", last.Source)
	assert.Equal(t, done.ID, last.CausedBy, "progress is causally linked to the triggering task fact")

	completed, _ := last.PayloadFloat("completedTasks")
	total, _ := last.PayloadFloat("totalTasks")
	assert.Equal(t, 1.0, completed)
	assert.Equal(t, 2.0, total)
}

func TestProgressAgent_StatusViaUpdate(t *testing.T) {
	r, l := setupRouter(t)
	ctx := context.Background()

	a, err := NewProgressAgent(consumer.Options{ID: "progress-1"})
	require.NoError(t, err)
	startAgent(t, a, r)

	t1, err := fact.NewTaskCreated("ingest", "task-1", "proj-1", "only", "", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, t1))

	// An update without a status change triggers no recalculation.
	quiet, err := fact.NewTaskUpdated("ingest", "task-1", "proj-1", map[string]any{"assignee": "ada"}, t1.ID)
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, quiet))

	upd, err := fact.NewTaskUpdated("ingest", "task-1", "proj-1", map[string]any{"status": "completed"}, t1.ID)
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, upd))

	require.Eventually(t, func() bool {
		return len(progressFacts(t, l, "proj-1")) == 2
	}, 3*time.Second, 10*time.Millisecond)

	facts := progressFacts(t, l, "proj-1")
	progress, ok := facts[len(facts)-1].PayloadFloat("progress")
	require.True(t, ok)
	assert.Equal(t, 100.0, progress)
}

func TestProgressAgent_SnapshotRoundTrip(t *testing.T) {
	a, err := NewProgressAgent(consumer.Options{})
	require.NoError(t, err)
	a.setStatus("proj-1", "task-1", "done")
	a.setStatus("proj-1", "task-2", "pending")

	data, err := a.Snapshot()
	require.NoError(t, err)

	fresh, err := NewProgressAgent(consumer.Options{})
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(data))
	assert.Equal(t, 2, fresh.TaskCount("proj-1"))
}

func TestRelationAgent_ExtractsDependencies(t *testing.T) {
	r, l := setupRouter(t)
	ctx := context.Background()

	a, err := NewRelationAgent(consumer.Options{ID: "relation-1"})
	require.NoError(t, err)
	startAgent(t, a, r)

	p, err := fact.NewProjectCreated("ingest", "proj-api", "API",
		"Serves the frontend. Depends on proj-auth and depends on proj-db. Required by proj-dashboard.", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, p))

	require.Eventually(t, func() bool {
		return a.EmittedEdges() == 3
	}, 3*time.Second, 10*time.Millisecond)

	edges, err := l.Query(ctx, factlog.Query{Kind: fact.KindDependencyEdgeAdded})
	require.NoError(t, err)
	require.Len(t, edges, 3)

	type edge struct{ src, tgt string }
	var got []edge
	for _, e := range edges {
		assert.Equal(t, "relation-1", e.Source)
		assert.Equal(t, p.ID, e.CausedBy)
		got = append(got, edge{e.Subject["sourceProjectId"], e.Subject["targetProjectId"]})
	}
	assert.Contains(t, got, edge{"proj-api", "proj-auth"})
	assert.Contains(t, got, edge{"proj-api", "proj-db"})
	assert.Contains(t, got, edge{"proj-dashboard", "proj-api"})
}

func TestRelationAgent_DeduplicatesAndScansUpdates(t *testing.T) {
	r, l := setupRouter(t)
	ctx := context.Background()

	a, err := NewRelationAgent(consumer.Options{ID: "relation-1"})
	require.NoError(t, err)
	startAgent(t, a, r)

	p, err := fact.NewProjectCreated("ingest", "proj-api", "API", "Depends on proj-auth.", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, p))

	require.Eventually(t, func() bool {
		return a.EmittedEdges() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// An updated description repeating the same mention emits nothing new;
	// a fresh mention does.
	u, err := fact.NewProjectUpdated("ingest", "proj-api",
		map[string]any{"description": "Depends on proj-auth. Now also depends on proj-cache."}, p.ID)
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, u))

	require.Eventually(t, func() bool {
		return a.EmittedEdges() == 2
	}, 3*time.Second, 10*time.Millisecond)

	edges, err := l.Query(ctx, factlog.Query{Kind: fact.KindDependencyEdgeAdded})
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestRelationAgent_IgnoresSelfMention(t *testing.T) {
	r, _ := setupRouter(t)
	ctx := context.Background()

	a, err := NewRelationAgent(consumer.Options{})
	require.NoError(t, err)
	startAgent(t, a, r)

	p, err := fact.NewProjectCreated("ingest", "proj-api", "API", "Depends on proj-api.", "")
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, p))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, a.EmittedEdges())
}
