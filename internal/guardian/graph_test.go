package guardian

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddEdge(t *testing.T) {
	adj := make(map[string][]string)
	assert.True(t, addEdge(adj, "a", "b"))
	assert.True(t, addEdge(adj, "a", "c"))
	assert.False(t, addEdge(adj, "a", "b"), "duplicate edge must be rejected")
	assert.Equal(t, []string{"b", "c"}, adj["a"], "insertion order preserved")
}

func TestRemoveEdge(t *testing.T) {
	adj := map[string][]string{"a": {"b", "c"}}
	removeEdge(adj, "a", "b")
	assert.Equal(t, []string{"c"}, adj["a"])

	removeEdge(adj, "a", "missing") // no-op
	assert.Equal(t, []string{"c"}, adj["a"])

	removeEdge(adj, "a", "c")
	_, exists := adj["a"]
	assert.False(t, exists, "empty adjacency list is removed")
}

func TestFindPath(t *testing.T) {
	t.Run("direct edge", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}}
		assert.Equal(t, []string{"a", "b"}, findPath(adj, "a", "b"))
	})

	t.Run("multi hop", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}}
		assert.Equal(t, []string{"a", "b", "c", "d"}, findPath(adj, "a", "d"))
	})

	t.Run("unreachable", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}, "c": {"d"}}
		assert.Nil(t, findPath(adj, "a", "d"))
	})

	t.Run("same node", func(t *testing.T) {
		assert.Equal(t, []string{"a"}, findPath(map[string][]string{}, "a", "a"))
	})

	t.Run("first path in insertion order", func(t *testing.T) {
		// Both a->b->d and a->c->d exist; b was inserted first.
		adj := map[string][]string{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
		assert.Equal(t, []string{"a", "b", "d"}, findPath(adj, "a", "d"))
	})

	t.Run("backtracks over dead ends", func(t *testing.T) {
		adj := map[string][]string{"a": {"x", "b"}, "x": {}, "b": {"d"}}
		assert.Equal(t, []string{"a", "b", "d"}, findPath(adj, "a", "d"))
	})

	t.Run("does not loop on existing cycles", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}, "b": {"a", "c"}}
		assert.Equal(t, []string{"a", "b", "c"}, findPath(adj, "a", "c"))
	})

	t.Run("deep chain", func(t *testing.T) {
		adj := make(map[string][]string)
		prev := "n0"
		for i := 1; i <= 10000; i++ {
			cur := fmt.Sprintf("n%d", i)
			adj[prev] = []string{cur}
			prev = cur
		}
		path := findPath(adj, "n0", prev)
		assert.Len(t, path, 10001)
	})
}
