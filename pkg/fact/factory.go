package fact

import "time"

// Factory constructors for the standard fact kinds. Each guarantees the
// subject and payload shape downstream consumers rely on.

// NewProjectCreated builds a ProjectCreated fact.
func NewProjectCreated(source, projectID, name, description, causedBy string) (*Fact, error) {
	return New(source, KindProjectCreated,
		map[string]string{"projectId": projectID},
		map[string]any{
			"name":        name,
			"description": description,
			"createdAt":   time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewProjectUpdated builds a ProjectUpdated fact carrying a partial field update.
func NewProjectUpdated(source, projectID string, updates map[string]any, causedBy string) (*Fact, error) {
	return New(source, KindProjectUpdated,
		map[string]string{"projectId": projectID},
		map[string]any{
			"updates":   updates,
			"updatedAt": time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewTaskCreated builds a TaskCreated fact.
func NewTaskCreated(source, taskID, projectID, title, description, assignee, causedBy string) (*Fact, error) {
	return New(source, KindTaskCreated,
		map[string]string{"taskId": taskID, "projectId": projectID},
		map[string]any{
			"title":       title,
			"description": description,
			"assignee":    assignee,
			"status":      "pending",
			"createdAt":   time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewTaskUpdated builds a TaskUpdated fact carrying a partial field update.
func NewTaskUpdated(source, taskID, projectID string, updates map[string]any, causedBy string) (*Fact, error) {
	return New(source, KindTaskUpdated,
		map[string]string{"taskId": taskID, "projectId": projectID},
		map[string]any{
			"updates":   updates,
			"updatedAt": time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewTaskStatusChanged builds a TaskStatusChanged fact.
func NewTaskStatusChanged(source, taskID, projectID, oldStatus, newStatus, causedBy string) (*Fact, error) {
	return New(source, KindTaskStatusChanged,
		map[string]string{"taskId": taskID, "projectId": projectID},
		map[string]any{
			"oldStatus": oldStatus,
			"newStatus": newStatus,
			"updatedAt": time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewProjectProgressCalculated builds a ProjectProgressCalculated fact.
// progress is a percentage in [0, 100].
func NewProjectProgressCalculated(source, projectID string, progress float64, completedTasks, totalTasks int, causedBy string) (*Fact, error) {
	return New(source, KindProjectProgressCalculated,
		map[string]string{"projectId": projectID},
		map[string]any{
			"progress":       progress,
			"completedTasks": completedTasks,
			"totalTasks":     totalTasks,
			"calculatedAt":   time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewDependencyEdgeAdded builds a DependencyEdgeAdded fact for the directed
// edge sourceProjectID -> targetProjectID.
func NewDependencyEdgeAdded(source, sourceProjectID, targetProjectID, dependencyType, causedBy string) (*Fact, error) {
	return New(source, KindDependencyEdgeAdded,
		map[string]string{"sourceProjectId": sourceProjectID, "targetProjectId": targetProjectID},
		map[string]any{
			"dependencyType": dependencyType,
			"createdAt":      time.Now().Format(time.RFC3339),
		},
		causedBy)
}

// NewInsightRaised builds an InsightRaised fact.
func NewInsightRaised(source, projectID, message, severity, causedBy string) (*Fact, error) {
	return New(source, KindInsightRaised,
		map[string]string{"projectId": projectID},
		map[string]any{
			"message":  message,
			"severity": severity,
		},
		causedBy)
}

// NewInvariantViolated builds an InvariantViolated fact. invariantType is one
// of the Violation* constants; details carries the check-specific fields.
func NewInvariantViolated(source, invariantType, message string, details map[string]any, causedBy string) (*Fact, error) {
	if details == nil {
		details = map[string]any{}
	}
	return New(source, KindInvariantViolated,
		map[string]string{"invariantType": invariantType},
		map[string]any{
			"message": message,
			"details": details,
		},
		causedBy)
}

// NewEnvelopeWritten builds the audit meta-fact paired with a first-time log
// insert. It references the logged fact's identity fields and is causally
// linked to it. Envelope facts never generate envelopes of their own.
func NewEnvelopeWritten(source string, logged *Fact) (*Fact, error) {
	return New(source, KindEnvelopeWritten,
		map[string]string{"factId": logged.ID},
		map[string]any{
			"factId": logged.ID,
			"kind":   string(logged.Kind),
			"source": logged.Source,
			"ts":     logged.Timestamp,
		},
		logged.ID)
}

// NewSchemaMigrated builds the per-record audit fact for a schema migration.
func NewSchemaMigrated(source, factID string, fromVersion, toVersion int) (*Fact, error) {
	return New(source, KindSchemaMigrated,
		map[string]string{"factId": factID},
		map[string]any{
			"factId":      factID,
			"fromVersion": fromVersion,
			"toVersion":   toVersion,
		},
		factID)
}
