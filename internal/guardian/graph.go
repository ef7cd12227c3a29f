package guardian

// Adjacency lists keep insertion order so cycle reports are deterministic.

// addEdge appends to to the adjacency list of from, skipping duplicates.
// Returns false when the edge was already present.
func addEdge(adj map[string][]string, from, to string) bool {
	for _, n := range adj[from] {
		if n == to {
			return false
		}
	}
	adj[from] = append(adj[from], to)
	return true
}

// removeEdge deletes to from the adjacency list of from.
func removeEdge(adj map[string][]string, from, to string) {
	neighbors := adj[from]
	for i, n := range neighbors {
		if n == to {
			adj[from] = append(neighbors[:i], neighbors[i+1:]...)
			if len(adj[from]) == 0 {
				delete(adj, from)
			}
			return
		}
	}
}

// findPath returns the first path from from to to discovered by a
// depth-first walk of adj in adjacency insertion order, or nil when to is
// unreachable. The walk uses an explicit stack, so graph depth is bounded
// by memory rather than the call stack. Nodes are only excluded while on
// the current path, matching path-tracking cycle search semantics.
func findPath(adj map[string][]string, from, to string) []string {
	type frame struct {
		node string
		next int
	}
	stack := []frame{{node: from}}
	onPath := map[string]bool{from: true}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.node == to {
			path := make([]string, len(stack))
			for i, fr := range stack {
				path[i] = fr.node
			}
			return path
		}

		neighbors := adj[top.node]
		descended := false
		for top.next < len(neighbors) {
			n := neighbors[top.next]
			top.next++
			if onPath[n] {
				continue
			}
			onPath[n] = true
			stack = append(stack, frame{node: n})
			descended = true
			break
		}
		if !descended {
			delete(onPath, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}
