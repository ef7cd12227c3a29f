package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/fact"
)

// RelationGroup is the consumer group name for relation extraction.
const RelationGroup = "relation-agent"

// dependsOnPattern matches "depends on <project-id>" mentions in project
// descriptions. requiredByPattern matches the inverse direction.
var (
	dependsOnPattern  = regexp.MustCompile(`(?i)depends on ([a-zA-Z0-9_-]+)`)
	requiredByPattern = regexp.MustCompile(`(?i)required by ([a-zA-Z0-9_-]+)`)
)

// RelationAgent scans project descriptions for dependency mentions and
// publishes a DependencyEdgeAdded fact per newly discovered edge. Whether an
// edge is structurally acceptable is the guardian's call, not this agent's.
type RelationAgent struct {
	*consumer.Consumer

	mu      sync.Mutex
	emitted map[string]bool // "source->target" pairs already published
}

// NewRelationAgent creates a relation agent in the Created state.
func NewRelationAgent(opts consumer.Options) (*RelationAgent, error) {
	if opts.Group == "" {
		opts.Group = RelationGroup
	}
	a := &RelationAgent{
		emitted: make(map[string]bool),
	}
	if opts.Snapshotter == nil {
		opts.Snapshotter = a
	}

	base, err := consumer.New(opts)
	if err != nil {
		return nil, err
	}
	a.Consumer = base

	if err := a.Handle(fact.KindProjectCreated, a.onProject); err != nil {
		return nil, err
	}
	if err := a.Handle(fact.KindProjectUpdated, a.onProject); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *RelationAgent) onProject(ctx context.Context, f *fact.Fact) error {
	projectID := f.Subject["projectId"]
	if projectID == "" {
		log.Printf("[WARN] relation agent: project fact %s is missing its project id, skipping", f.ID)
		return nil
	}

	description := f.PayloadString("description")
	if description == "" {
		if updates, ok := f.Payload["updates"].(map[string]any); ok {
			description, _ = updates["description"].(string)
		}
	}
	if description == "" {
		return nil
	}

	for _, m := range dependsOnPattern.FindAllStringSubmatch(description, -1) {
		if err := a.emitEdge(ctx, projectID, m[1], f.ID); err != nil {
			return err
		}
	}
	for _, m := range requiredByPattern.FindAllStringSubmatch(description, -1) {
		if err := a.emitEdge(ctx, m[1], projectID, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// emitEdge publishes one dependency edge, at most once per (source, target)
// pair across the agent's lifetime.
func (a *RelationAgent) emitEdge(ctx context.Context, source, target, causedBy string) error {
	if source == target {
		// A self-mention is noise, not a dependency.
		return nil
	}
	key := source + "->" + target
	a.mu.Lock()
	if a.emitted[key] {
		a.mu.Unlock()
		return nil
	}
	a.emitted[key] = true
	a.mu.Unlock()

	ef, err := fact.NewDependencyEdgeAdded(a.ID(), source, target, "depends_on", causedBy)
	if err != nil {
		return fmt.Errorf("failed to build dependency fact %s: %w", key, err)
	}
	log.Printf("[DEBUG] relation agent: discovered edge %s -> %s", source, target)
	if err := a.Publish(ctx, ef); err != nil {
		a.mu.Lock()
		delete(a.emitted, key)
		a.mu.Unlock()
		return err
	}
	return nil
}

// EmittedEdges reports how many distinct edges this agent has published.
func (a *RelationAgent) EmittedEdges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.emitted)
}

// Snapshot implements consumer.Snapshotter.
func (a *RelationAgent) Snapshot() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.emitted)
}

// Restore implements consumer.Snapshotter.
func (a *RelationAgent) Restore(data []byte) error {
	emitted := make(map[string]bool)
	if err := json.Unmarshal(data, &emitted); err != nil {
		return fmt.Errorf("failed to deserialize relation agent state: %w", err)
	}
	a.mu.Lock()
	a.emitted = emitted
	a.mu.Unlock()
	return nil
}
