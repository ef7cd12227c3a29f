package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

func setupMemoryRouter(t *testing.T) (*MemoryRouter, *factlog.MemoryLog) {
	t.Helper()
	l := factlog.NewMemoryLog()
	r := NewMemoryRouter(l)
	t.Cleanup(func() {
		r.Close()
	})
	return r, l
}

func makeTaskFact(t *testing.T, taskID string) *fact.Fact {
	t.Helper()
	f, err := fact.NewTaskCreated("test-agent", taskID, "proj-1", "title "+taskID, "", "", "")
	require.NoError(t, err)
	return f
}

// collector accumulates delivered facts behind a mutex so test goroutines
// can poll it with require.Eventually.
type collector struct {
	mu    sync.Mutex
	facts []*fact.Fact
}

func (c *collector) handler(ctx context.Context, f *fact.Fact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = append(c.facts, f)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.facts))
	for i, f := range c.facts {
		out[i] = f.ID
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.facts)
}

func TestMemoryRouter_PublishStoresBeforeDelivery(t *testing.T) {
	r, l := setupMemoryRouter(t)
	ctx := context.Background()

	f := makeTaskFact(t, "task-1")
	require.NoError(t, r.Publish(ctx, f))

	stored, err := l.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, stored.ID)

	// Duplicate publish is a no-op: no second log record, no redelivery.
	require.NoError(t, r.Publish(ctx, f))
	assert.Equal(t, 2, l.Len()) // fact + its envelope
}

func TestMemoryRouter_RejectsTamperedFact(t *testing.T) {
	r, l := setupMemoryRouter(t)
	ctx := context.Background()

	f := makeTaskFact(t, "task-1")
	f.Payload["title"] = "tampered"

	err := r.Publish(ctx, f)
	require.Error(t, err)
	assert.True(t, factlog.IsIntegrity(err))
	assert.Equal(t, 0, l.Len())
}

func TestMemoryRouter_DeliveryOrder(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	c := &collector{}
	_, err := r.Subscribe(ctx, fact.KindTaskCreated, c.handler, SubscribeOptions{
		Group:    "agents",
		Consumer: "agent-1",
	})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 5; i++ {
		f := makeTaskFact(t, fmt.Sprintf("task-%d", i))
		require.NoError(t, r.Publish(ctx, f))
		want = append(want, f.ID)
	}

	require.Eventually(t, func() bool {
		return c.len() == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, c.ids())
}

func TestMemoryRouter_GroupsAreIndependent(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	a := &collector{}
	b := &collector{}
	_, err := r.Subscribe(ctx, fact.KindTaskCreated, a.handler, SubscribeOptions{Group: "agents", Consumer: "a-1"})
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, fact.KindTaskCreated, b.handler, SubscribeOptions{Group: "views", Consumer: "v-1"})
	require.NoError(t, err)

	f := makeTaskFact(t, "task-1")
	require.NoError(t, r.Publish(ctx, f))

	// Both groups get their own copy.
	require.Eventually(t, func() bool {
		return a.len() == 1 && b.len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryRouter_CompetingConsumers(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	a := &collector{}
	b := &collector{}
	_, err := r.Subscribe(ctx, fact.KindTaskCreated, a.handler, SubscribeOptions{Group: "agents", Consumer: "a-1"})
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, fact.KindTaskCreated, b.handler, SubscribeOptions{Group: "agents", Consumer: "a-2"})
	require.NoError(t, err)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, r.Publish(ctx, makeTaskFact(t, fmt.Sprintf("task-%d", i))))
	}

	// Within one group each fact is handled exactly once, regardless of
	// which consumer picked it up.
	require.Eventually(t, func() bool {
		return a.len()+b.len() == n
	}, 2*time.Second, 10*time.Millisecond)

	seen := make(map[string]bool)
	for _, id := range append(a.ids(), b.ids()...) {
		assert.False(t, seen[id], "fact %s delivered twice within the group", id)
		seen[id] = true
	}
}

func TestMemoryRouter_RedeliversOnHandlerError(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	var got []string
	handler := func(ctx context.Context, f *fact.Fact) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return fmt.Errorf("transient failure")
		}
		got = append(got, f.ID)
		return nil
	}

	_, err := r.Subscribe(ctx, fact.KindTaskCreated, handler, SubscribeOptions{
		Group:      "agents",
		Consumer:   "a-1",
		RetryDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	f1 := makeTaskFact(t, "task-1")
	f2 := makeTaskFact(t, "task-2")
	require.NoError(t, r.Publish(ctx, f1))
	require.NoError(t, r.Publish(ctx, f2))

	// The failed fact is retried before the next one: order is preserved.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{f1.ID, f2.ID}, got)
	assert.Equal(t, 3, attempts)
}

func TestMemoryRouter_RecoversFromHandlerPanic(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, f *fact.Fact) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return nil
	}

	_, err := r.Subscribe(ctx, fact.KindTaskCreated, handler, SubscribeOptions{
		Group:      "agents",
		Consumer:   "a-1",
		RetryDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, makeTaskFact(t, "task-1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryRouter_EnvelopeDelivery(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	c := &collector{}
	_, err := r.Subscribe(ctx, fact.KindEnvelopeWritten, c.handler, SubscribeOptions{
		Group:    "guardian",
		Consumer: "g-1",
	})
	require.NoError(t, err)

	f := makeTaskFact(t, "task-1")
	require.NoError(t, r.Publish(ctx, f))

	require.Eventually(t, func() bool {
		return c.len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	env := c.facts[0]
	c.mu.Unlock()
	assert.Equal(t, fact.KindEnvelopeWritten, env.Kind)
	assert.Equal(t, f.ID, env.CausedBy)
	assert.Equal(t, f.ID, env.Subject["factId"])
}

func TestMemoryRouter_Unsubscribe(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	c := &collector{}
	sub, err := r.Subscribe(ctx, fact.KindTaskCreated, c.handler, SubscribeOptions{
		Group:    "agents",
		Consumer: "a-1",
	})
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, makeTaskFact(t, "task-1")))
	require.Eventually(t, func() bool {
		return c.len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Unsubscribe(sub))
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription loop still running after Unsubscribe")
	}

	// Unsubscribing twice is an error.
	assert.Error(t, r.Unsubscribe(sub))
}

func TestMemoryRouter_SubscribeValidation(t *testing.T) {
	r, _ := setupMemoryRouter(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, fact.KindTaskCreated, func(context.Context, *fact.Fact) error { return nil },
		SubscribeOptions{Consumer: "a-1"})
	assert.Error(t, err)

	_, err = r.Subscribe(ctx, fact.KindTaskCreated, func(context.Context, *fact.Fact) error { return nil },
		SubscribeOptions{Group: "agents"})
	assert.Error(t, err)
}
