package materializer

import "fmt"

// View keys live beside the fact log keys under the same instance namespace.

// ProjectViewKey returns the HASH key of one project's materialized view.
// Pattern: agentweb:{instance}:view:project:{project_id}
func ProjectViewKey(instance, projectID string) string {
	return fmt.Sprintf("agentweb:%s:view:project:%s", instance, projectID)
}

// ProjectSetKey returns the SET key of all materialized project IDs.
// Pattern: agentweb:{instance}:view:projects
func ProjectSetKey(instance string) string {
	return fmt.Sprintf("agentweb:%s:view:projects", instance)
}

// InsightsKey returns the LIST key of recent insights for one project.
// Pattern: agentweb:{instance}:view:insights:{project_id}
func InsightsKey(instance, projectID string) string {
	return fmt.Sprintf("agentweb:%s:view:insights:%s", instance, projectID)
}

// ViolationsKey returns the LIST key of recent invariant violations.
// Pattern: agentweb:{instance}:view:violations
func ViolationsKey(instance string) string {
	return fmt.Sprintf("agentweb:%s:view:violations", instance)
}
