// Package agents contains the derived-fact producers feeding the guardian:
// a progress calculator over task facts and a relation extractor over
// project descriptions. Both are ordinary consumers publishing through the
// same router they consume from.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/fact"
)

// ProgressGroup is the consumer group name for progress calculation.
const ProgressGroup = "progress-agent"

// completedStatuses are the task states that count toward progress.
var completedStatuses = map[string]bool{
	"done":      true,
	"completed": true,
}

// ProgressAgent derives a completion percentage per project from task facts
// and publishes a ProjectProgressCalculated fact after every change.
type ProgressAgent struct {
	*consumer.Consumer

	mu    sync.Mutex
	tasks map[string]map[string]string // projectID -> taskID -> status
}

// NewProgressAgent creates a progress agent in the Created state.
func NewProgressAgent(opts consumer.Options) (*ProgressAgent, error) {
	if opts.Group == "" {
		opts.Group = ProgressGroup
	}
	a := &ProgressAgent{
		tasks: make(map[string]map[string]string),
	}
	if opts.Snapshotter == nil {
		opts.Snapshotter = a
	}

	base, err := consumer.New(opts)
	if err != nil {
		return nil, err
	}
	a.Consumer = base

	if err := a.Handle(fact.KindTaskCreated, a.onTaskCreated); err != nil {
		return nil, err
	}
	if err := a.Handle(fact.KindTaskUpdated, a.onTaskUpdated); err != nil {
		return nil, err
	}
	if err := a.Handle(fact.KindTaskStatusChanged, a.onTaskStatusChanged); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ProgressAgent) onTaskCreated(ctx context.Context, f *fact.Fact) error {
	taskID, projectID := f.Subject["taskId"], f.Subject["projectId"]
	if taskID == "" || projectID == "" {
		log.Printf("[WARN] progress agent: TaskCreated fact %s is missing its ids, skipping", f.ID)
		return nil
	}
	status := f.PayloadString("status")
	if status == "" {
		status = "pending"
	}
	a.setStatus(projectID, taskID, status)
	return a.recalculate(ctx, projectID, f.ID)
}

func (a *ProgressAgent) onTaskUpdated(ctx context.Context, f *fact.Fact) error {
	taskID, projectID := f.Subject["taskId"], f.Subject["projectId"]
	if taskID == "" || projectID == "" {
		log.Printf("[WARN] progress agent: TaskUpdated fact %s is missing its ids, skipping", f.ID)
		return nil
	}
	updates, _ := f.Payload["updates"].(map[string]any)
	status, _ := updates["status"].(string)
	if status == "" {
		// Nothing progress-relevant changed.
		return nil
	}
	a.setStatus(projectID, taskID, status)
	return a.recalculate(ctx, projectID, f.ID)
}

func (a *ProgressAgent) onTaskStatusChanged(ctx context.Context, f *fact.Fact) error {
	taskID, projectID := f.Subject["taskId"], f.Subject["projectId"]
	if taskID == "" || projectID == "" {
		log.Printf("[WARN] progress agent: TaskStatusChanged fact %s is missing its ids, skipping", f.ID)
		return nil
	}
	a.setStatus(projectID, taskID, f.PayloadString("newStatus"))
	return a.recalculate(ctx, projectID, f.ID)
}

func (a *ProgressAgent) setStatus(projectID, taskID, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tasks[projectID] == nil {
		a.tasks[projectID] = make(map[string]string)
	}
	a.tasks[projectID][taskID] = status
}

// recalculate publishes the project's current completion percentage, causally
// linked to the task fact that triggered it.
func (a *ProgressAgent) recalculate(ctx context.Context, projectID, causedBy string) error {
	a.mu.Lock()
	total := len(a.tasks[projectID])
	completed := 0
	for _, status := range a.tasks[projectID] {
		if completedStatuses[status] {
			completed++
		}
	}
	a.mu.Unlock()

	progress := 0.0
	if total > 0 {
		progress = float64(completed) / float64(total) * 100
	}

	pf, err := fact.NewProjectProgressCalculated(a.ID(), projectID, progress, completed, total, causedBy)
	if err != nil {
		return fmt.Errorf("failed to build progress fact for %s: %w", projectID, err)
	}
	log.Printf("[DEBUG] progress agent: %s at %.1f%% (%d/%d tasks)", projectID, progress, completed, total)
	return a.Publish(ctx, pf)
}

// TaskCount reports how many tasks are tracked for a project.
func (a *ProgressAgent) TaskCount(projectID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks[projectID])
}

// Snapshot implements consumer.Snapshotter.
func (a *ProgressAgent) Snapshot() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.tasks)
}

// Restore implements consumer.Snapshotter.
func (a *ProgressAgent) Restore(data []byte) error {
	tasks := make(map[string]map[string]string)
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to deserialize progress agent state: %w", err)
	}
	a.mu.Lock()
	a.tasks = tasks
	a.mu.Unlock()
	return nil
}
