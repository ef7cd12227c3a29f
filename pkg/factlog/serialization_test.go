package factlog

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

func TestFactHashRoundTrip(t *testing.T) {
	f, err := fact.NewDependencyEdgeAdded("relation-agent", "proj-a", "proj-b", "depends-on", "cause-id")
	require.NoError(t, err)

	hash, err := FactToHash(f)
	require.NoError(t, err)

	// Redis returns hashes as string maps; simulate that conversion the same
	// way go-redis does for HGetAll.
	stringHash := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			stringHash[k] = val
		case int:
			stringHash[k] = strconv.Itoa(val)
		case int64:
			stringHash[k] = strconv.FormatInt(val, 10)
		}
	}

	got, err := HashToFact(stringHash)
	require.NoError(t, err)

	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Timestamp, got.Timestamp)
	assert.Equal(t, f.Kind, got.Kind)
	assert.Equal(t, f.Subject, got.Subject)
	assert.Equal(t, f.CausedBy, got.CausedBy)
	assert.Equal(t, f.SchemaVersion, got.SchemaVersion)
	assert.True(t, got.Verify(), "signature must verify after the round-trip")
}

func TestHashToFactRejectsMalformedFields(t *testing.T) {
	t.Run("bad timestamp", func(t *testing.T) {
		_, err := HashToFact(map[string]string{"ts": "nope", "schema_version": "1"})
		assert.Error(t, err)
	})

	t.Run("bad schema version", func(t *testing.T) {
		_, err := HashToFact(map[string]string{"ts": "123", "schema_version": "x"})
		assert.Error(t, err)
	})

	t.Run("bad subject JSON", func(t *testing.T) {
		_, err := HashToFact(map[string]string{"ts": "123", "schema_version": "1", "subject": "{"})
		assert.Error(t, err)
	})
}
