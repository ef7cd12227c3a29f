package factlog

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced by instance name so multiple agentWeb instances can
// coexist on one Redis server.
//
// Key pattern: agentweb:{instance}:{entity}...

// FactKey returns the Redis hash key holding one fact.
// Pattern: agentweb:{instance}:fact:{fact_id}
func FactKey(instance, factID string) string {
	return fmt.Sprintf("agentweb:%s:fact:%s", instance, factID)
}

// ByTimeKey returns the ZSET key ordering all fact IDs by timestamp.
// Pattern: agentweb:{instance}:facts:by_time
func ByTimeKey(instance string) string {
	return fmt.Sprintf("agentweb:%s:facts:by_time", instance)
}

// KindIndexKey returns the SET key of fact IDs for one kind.
// Pattern: agentweb:{instance}:facts:kind:{kind}
func KindIndexKey(instance, kind string) string {
	return fmt.Sprintf("agentweb:%s:facts:kind:%s", instance, kind)
}

// SourceIndexKey returns the SET key of fact IDs for one source.
// Pattern: agentweb:{instance}:facts:source:{source}
func SourceIndexKey(instance, source string) string {
	return fmt.Sprintf("agentweb:%s:facts:source:%s", instance, source)
}

// EntityIndexKey returns the SET key of fact IDs whose subject references the
// given entity value.
// Pattern: agentweb:{instance}:facts:entity:{entity_id}
func EntityIndexKey(instance, entityID string) string {
	return fmt.Sprintf("agentweb:%s:facts:entity:%s", instance, entityID)
}

// CausalIndexKey returns the SET key of fact IDs caused by the given fact.
// Pattern: agentweb:{instance}:facts:caused_by:{fact_id}
func CausalIndexKey(instance, factID string) string {
	return fmt.Sprintf("agentweb:%s:facts:caused_by:%s", instance, factID)
}

// SchemaIndexKey returns the SET key of fact IDs stored at one schema version.
// Pattern: agentweb:{instance}:facts:schema:{version}
func SchemaIndexKey(instance string, version int) string {
	return fmt.Sprintf("agentweb:%s:facts:schema:%d", instance, version)
}
