package guardian

import (
	"encoding/json"
	"fmt"
	"sort"
)

// snapshotState is the serialized form of the guardian's derived state.
// Adjacency lists keep their insertion order; the known set is sorted so
// equal states serialize identically.
type snapshotState struct {
	Progress   map[string]float64  `json:"progress"`
	Forward    map[string][]string `json:"forward"`
	Reverse    map[string][]string `json:"reverse"`
	Known      []string            `json:"known"`
	Violations []ViolationRecord   `json:"violations"`
}

// Snapshot implements consumer.Snapshotter.
func (g *Guardian) Snapshot() ([]byte, error) {
	g.mu.Lock()
	state := snapshotState{
		Progress:   make(map[string]float64, len(g.progress)),
		Forward:    make(map[string][]string, len(g.forward)),
		Reverse:    make(map[string][]string, len(g.reverse)),
		Known:      make([]string, 0, len(g.known)),
		Violations: make([]ViolationRecord, len(g.violations)),
	}
	for k, v := range g.progress {
		state.Progress[k] = v
	}
	for k, v := range g.forward {
		state.Forward[k] = append([]string(nil), v...)
	}
	for k, v := range g.reverse {
		state.Reverse[k] = append([]string(nil), v...)
	}
	for id := range g.known {
		state.Known = append(state.Known, id)
	}
	copy(state.Violations, g.violations)
	g.mu.Unlock()

	sort.Strings(state.Known)
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize guardian state: %w", err)
	}
	return data, nil
}

// Restore implements consumer.Snapshotter. The previous state is replaced
// wholesale.
func (g *Guardian) Restore(data []byte) error {
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize guardian state: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress = make(map[string]float64, len(state.Progress))
	for k, v := range state.Progress {
		g.progress[k] = v
	}
	g.forward = make(map[string][]string, len(state.Forward))
	for k, v := range state.Forward {
		g.forward[k] = append([]string(nil), v...)
	}
	g.reverse = make(map[string][]string, len(state.Reverse))
	for k, v := range state.Reverse {
		g.reverse[k] = append([]string(nil), v...)
	}
	g.known = make(map[string]bool, len(state.Known))
	for _, id := range state.Known {
		g.known[id] = true
	}
	g.violations = append([]ViolationRecord(nil), state.Violations...)
	return nil
}
