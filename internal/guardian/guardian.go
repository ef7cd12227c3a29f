// Package guardian implements the invariant monitor. It consumes progress,
// dependency and audit facts, maintains derived state (progress watermarks,
// a dependency graph, a known-facts set), and reports every invariant breach
// as an InvariantViolated fact through the normal publish path.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
	"github.com/tinycrops/agentWeb/pkg/stream"
)

// DefaultGroup is the consumer group the guardian joins unless overridden.
const DefaultGroup = "guardian"

// maxViolationHistory bounds the in-memory violation log; older entries are
// dropped first. The emitted InvariantViolated facts remain in the fact log.
const maxViolationHistory = 1000

// ViolationRecord is one detected breach, kept in memory for inspection and
// snapshots.
type ViolationRecord struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	FactID    string         `json:"factId"`
	Timestamp int64          `json:"ts"`
}

// Guardian is a Consumer specialization. All derived state lives behind one
// mutex; handlers run on the router's delivery goroutines.
type Guardian struct {
	*consumer.Consumer

	log factlog.Log

	mu         sync.Mutex
	progress   map[string]float64
	forward    map[string][]string
	reverse    map[string][]string
	known      map[string]bool
	violations []ViolationRecord
}

// New creates a guardian consuming progress, dependency-edge and audit
// facts. The fact log is used to resolve causal references.
func New(l factlog.Log, opts consumer.Options) (*Guardian, error) {
	if l == nil {
		return nil, fmt.Errorf("fact log cannot be nil")
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}

	g := &Guardian{
		log:      l,
		progress: make(map[string]float64),
		forward:  make(map[string][]string),
		reverse:  make(map[string][]string),
		known:    make(map[string]bool),
	}
	if opts.Snapshotter == nil {
		opts.Snapshotter = g
	}

	base, err := consumer.New(opts)
	if err != nil {
		return nil, err
	}
	g.Consumer = base

	checks := map[fact.Kind]stream.Handler{
		fact.KindProjectProgressCalculated: g.checkProgress,
		fact.KindDependencyEdgeAdded:       g.checkAcyclicity,
		fact.KindEnvelopeWritten:           g.checkCausalIntegrity,
	}
	for kind, check := range checks {
		if err := g.Handle(kind, g.guarded(check)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// guarded wraps a check so an unexpected panic becomes a SystemError
// violation instead of crashing the delivery loop.
func (g *Guardian) guarded(check stream.Handler) stream.Handler {
	return func(ctx context.Context, f *fact.Fact) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ERROR] guardian check panicked on fact %s: %v", f.ID, r)
				err = g.emitViolation(ctx, fact.ViolationSystemError,
					fmt.Sprintf("check panicked processing %s fact: %v", f.Kind, r),
					map[string]any{"factId": f.ID, "kind": string(f.Kind)}, f.ID)
			}
		}()
		return check(ctx, f)
	}
}

// checkProgress enforces the per-entity monotonic progress watermark. A
// regressive update is rejected without touching stored state.
func (g *Guardian) checkProgress(ctx context.Context, f *fact.Fact) error {
	entityID := f.Subject["projectId"]
	value, ok := f.PayloadFloat("progress")
	if entityID == "" || !ok {
		return g.emitViolation(ctx, fact.ViolationSystemError,
			"progress fact is missing its project id or progress value",
			map[string]any{"factId": f.ID}, f.ID)
	}
	if value < 0 || value > 100 {
		return g.emitViolation(ctx, fact.ViolationSystemError,
			fmt.Sprintf("progress value %.2f for %s is outside [0,100]", value, entityID),
			map[string]any{"entityId": entityID, "progress": value}, f.ID)
	}

	g.mu.Lock()
	current := g.progress[entityID]
	if value < current {
		g.mu.Unlock()
		log.Printf("[WARN] guardian: progress reduction on %s (%.2f -> %.2f), rejecting", entityID, current, value)
		return g.emitViolation(ctx, fact.ViolationProgressReduction,
			fmt.Sprintf("progress for %s regressed from %.2f to %.2f", entityID, current, value),
			map[string]any{
				"entityId":         entityID,
				"previousProgress": current,
				"newProgress":      value,
			}, f.ID)
	}
	g.progress[entityID] = value
	g.mu.Unlock()
	return nil
}

// checkAcyclicity tentatively inserts the new edge, searches for a path that
// closes a cycle through it, and rolls the edge back when one is found. The
// reported cycle is the first discovered in adjacency insertion order.
func (g *Guardian) checkAcyclicity(ctx context.Context, f *fact.Fact) error {
	source := f.Subject["sourceProjectId"]
	target := f.Subject["targetProjectId"]
	if source == "" || target == "" {
		return g.emitViolation(ctx, fact.ViolationSystemError,
			"dependency fact is missing its source or target project id",
			map[string]any{"factId": f.ID}, f.ID)
	}

	g.mu.Lock()
	if !addEdge(g.forward, source, target) {
		// Already present; the graph is unchanged.
		g.mu.Unlock()
		return nil
	}
	addEdge(g.reverse, target, source)

	path := findPath(g.forward, target, source)
	if path == nil {
		g.mu.Unlock()
		return nil
	}

	removeEdge(g.forward, source, target)
	removeEdge(g.reverse, target, source)
	g.mu.Unlock()

	cycle := append([]string{source}, path...)
	log.Printf("[WARN] guardian: edge %s -> %s closes cycle %v, rejecting", source, target, cycle)
	return g.emitViolation(ctx, fact.ViolationCyclicDependency,
		fmt.Sprintf("dependency %s -> %s would create a cycle", source, target),
		map[string]any{
			"sourceProjectId": source,
			"targetProjectId": target,
			"cycle":           cycle,
		}, f.ID)
}

// checkCausalIntegrity verifies that a newly logged fact's causal ancestor
// exists. The referenced fact itself may not be visible yet (log write and
// audit dispatch can race), which is skipped rather than reported.
func (g *Guardian) checkCausalIntegrity(ctx context.Context, f *fact.Fact) error {
	g.markKnown(f.ID)

	refID := f.Subject["factId"]
	if refID == "" {
		return g.emitViolation(ctx, fact.ViolationSystemError,
			"audit fact is missing its referenced fact id",
			map[string]any{"factId": f.ID}, f.ID)
	}

	logged, err := g.log.GetByID(ctx, refID)
	if errors.Is(err, factlog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve audited fact %s: %w", refID, err)
	}
	g.markKnown(logged.ID)

	if logged.CausedBy == "" || g.isKnown(logged.CausedBy) {
		return nil
	}

	ancestor, err := g.log.GetByID(ctx, logged.CausedBy)
	if errors.Is(err, factlog.ErrNotFound) {
		log.Printf("[WARN] guardian: fact %s references missing causal ancestor %s", logged.ID, logged.CausedBy)
		return g.emitViolation(ctx, fact.ViolationMissingCausalEvent,
			fmt.Sprintf("fact %s claims cause %s, which does not exist", logged.ID, logged.CausedBy),
			map[string]any{
				"eventId":  logged.ID,
				"causedBy": logged.CausedBy,
			}, f.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve causal ancestor %s: %w", logged.CausedBy, err)
	}
	g.markKnown(ancestor.ID)
	return nil
}

// emitViolation records the breach locally and publishes exactly one
// InvariantViolated fact causally linked to the trigger.
func (g *Guardian) emitViolation(ctx context.Context, invariantType, message string, details map[string]any, causedBy string) error {
	g.mu.Lock()
	g.violations = append(g.violations, ViolationRecord{
		Type:      invariantType,
		Message:   message,
		Details:   details,
		FactID:    causedBy,
		Timestamp: time.Now().UnixMilli(),
	})
	if len(g.violations) > maxViolationHistory {
		g.violations = g.violations[len(g.violations)-maxViolationHistory:]
	}
	g.mu.Unlock()

	vf, err := fact.NewInvariantViolated(g.ID(), invariantType, message, details, causedBy)
	if err != nil {
		return fmt.Errorf("failed to build violation fact: %w", err)
	}
	if err := g.Publish(ctx, vf); err != nil {
		return fmt.Errorf("failed to publish violation fact: %w", err)
	}
	return nil
}

func (g *Guardian) markKnown(id string) {
	g.mu.Lock()
	g.known[id] = true
	g.mu.Unlock()
}

func (g *Guardian) isKnown(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known[id]
}

// Progress returns the accepted watermark for one entity.
func (g *Guardian) Progress(entityID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress[entityID]
}

// Dependencies returns the outgoing edges of one entity in insertion order.
func (g *Guardian) Dependencies(entityID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.forward[entityID]))
	copy(out, g.forward[entityID])
	return out
}

// Dependents returns the incoming edges of one entity in insertion order.
func (g *Guardian) Dependents(entityID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.reverse[entityID]))
	copy(out, g.reverse[entityID])
	return out
}

// Violations returns a copy of the in-memory violation history.
func (g *Guardian) Violations() []ViolationRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ViolationRecord, len(g.violations))
	copy(out, g.violations)
	return out
}

// KnownFactCount reports the size of the known-facts set.
func (g *Guardian) KnownFactCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.known)
}
