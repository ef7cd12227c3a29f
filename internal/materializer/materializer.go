// Package materializer maintains query-friendly Redis views derived from the
// fact stream: one hash per project plus capped insight and violation lists.
// It is a pure projection; it publishes nothing and can be rebuilt from the
// log at any time.
package materializer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/fact"
)

// Group is the consumer group name for view materialization.
const Group = "materializer"

// maxListEntries caps the insight and violation lists per key.
const maxListEntries = 100

// Materializer projects facts into Redis view keys.
type Materializer struct {
	*consumer.Consumer

	rdb      *redis.Client
	instance string
}

// New creates a materializer writing views under the given instance
// namespace.
func New(redisOpts *redis.Options, instance string, opts consumer.Options) (*Materializer, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if opts.Group == "" {
		opts.Group = Group
	}

	m := &Materializer{
		rdb:      redis.NewClient(redisOpts),
		instance: instance,
	}
	base, err := consumer.New(opts)
	if err != nil {
		return nil, err
	}
	m.Consumer = base

	handlers := map[fact.Kind]func(context.Context, *fact.Fact) error{
		fact.KindProjectCreated:            m.onProjectCreated,
		fact.KindProjectUpdated:            m.onProjectUpdated,
		fact.KindProjectProgressCalculated: m.onProgress,
		fact.KindInsightRaised:             m.onInsight,
		fact.KindInvariantViolated:         m.onViolation,
	}
	for kind, h := range handlers {
		if err := m.Handle(kind, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Materializer) onProjectCreated(ctx context.Context, f *fact.Fact) error {
	projectID := f.Subject["projectId"]
	if projectID == "" {
		return nil
	}
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, ProjectViewKey(m.instance, projectID), map[string]interface{}{
		"projectId":   projectID,
		"name":        f.PayloadString("name"),
		"description": f.PayloadString("description"),
		"createdAt":   f.PayloadString("createdAt"),
	})
	pipe.SAdd(ctx, ProjectSetKey(m.instance), projectID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to materialize project %s: %w", projectID, err)
	}
	return nil
}

func (m *Materializer) onProjectUpdated(ctx context.Context, f *fact.Fact) error {
	projectID := f.Subject["projectId"]
	updates, _ := f.Payload["updates"].(map[string]any)
	if projectID == "" || len(updates) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		fields[k] = fmt.Sprintf("%v", v)
	}
	if err := m.rdb.HSet(ctx, ProjectViewKey(m.instance, projectID), fields).Err(); err != nil {
		return fmt.Errorf("failed to update project view %s: %w", projectID, err)
	}
	return nil
}

func (m *Materializer) onProgress(ctx context.Context, f *fact.Fact) error {
	projectID := f.Subject["projectId"]
	progress, ok := f.PayloadFloat("progress")
	if projectID == "" || !ok {
		return nil
	}
	completed, _ := f.PayloadFloat("completedTasks")
	total, _ := f.PayloadFloat("totalTasks")
	err := m.rdb.HSet(ctx, ProjectViewKey(m.instance, projectID), map[string]interface{}{
		"progress":       fmt.Sprintf("%.2f", progress),
		"completedTasks": int(completed),
		"totalTasks":     int(total),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to record progress for %s: %w", projectID, err)
	}
	log.Printf("[DEBUG] materializer: %s progress %.1f%%", projectID, progress)
	return nil
}

func (m *Materializer) onInsight(ctx context.Context, f *fact.Fact) error {
	projectID := f.Subject["projectId"]
	if projectID == "" {
		return nil
	}
	entry, err := json.Marshal(map[string]any{
		"message":  f.PayloadString("message"),
		"severity": f.PayloadString("severity"),
		"factId":   f.ID,
		"ts":       f.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode insight %s: %w", f.ID, err)
	}
	return m.appendCapped(ctx, InsightsKey(m.instance, projectID), entry)
}

func (m *Materializer) onViolation(ctx context.Context, f *fact.Fact) error {
	entry, err := json.Marshal(map[string]any{
		"invariantType": f.Subject["invariantType"],
		"message":       f.PayloadString("message"),
		"details":       f.Payload["details"],
		"causedBy":      f.CausedBy,
		"factId":        f.ID,
		"ts":            f.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode violation %s: %w", f.ID, err)
	}
	return m.appendCapped(ctx, ViolationsKey(m.instance), entry)
}

func (m *Materializer) appendCapped(ctx context.Context, key string, entry []byte) error {
	pipe := m.rdb.TxPipeline()
	pipe.RPush(ctx, key, string(entry))
	pipe.LTrim(ctx, key, -maxListEntries, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to view list %s: %w", key, err)
	}
	return nil
}

// ProjectView returns the materialized hash for one project.
func (m *Materializer) ProjectView(ctx context.Context, projectID string) (map[string]string, error) {
	view, err := m.rdb.HGetAll(ctx, ProjectViewKey(m.instance, projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read project view %s: %w", projectID, err)
	}
	return view, nil
}

// ProjectIDs returns every project that has a materialized view.
func (m *Materializer) ProjectIDs(ctx context.Context) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, ProjectSetKey(m.instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list project views: %w", err)
	}
	return ids, nil
}

// Insights returns the capped insight list for one project, oldest first.
func (m *Materializer) Insights(ctx context.Context, projectID string) ([]string, error) {
	entries, err := m.rdb.LRange(ctx, InsightsKey(m.instance, projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read insights for %s: %w", projectID, err)
	}
	return entries, nil
}

// Violations returns the capped violation list, oldest first.
func (m *Materializer) Violations(ctx context.Context) ([]string, error) {
	entries, err := m.rdb.LRange(ctx, ViolationsKey(m.instance), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read violations view: %w", err)
	}
	return entries, nil
}

// Close releases the Redis connection.
func (m *Materializer) Close() error {
	return m.rdb.Close()
}
