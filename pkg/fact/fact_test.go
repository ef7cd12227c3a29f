package fact

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("creates signed fact with generated ID", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, map[string]string{"projectId": "p1"}, map[string]any{"sha": "abc123"}, "")
		require.NoError(t, err)

		_, err = uuid.Parse(f.ID)
		assert.NoError(t, err, "ID should be a valid UUID")
		assert.Greater(t, f.Timestamp, int64(0))
		assert.Equal(t, CurrentSchemaVersion, f.SchemaVersion)
		assert.NotEmpty(t, f.Signature)
		assert.True(t, f.Verify())
	})

	t.Run("rejects empty source", func(t *testing.T) {
		_, err := New("", KindRepoCommit, nil, nil, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "source")
	})

	t.Run("rejects empty kind", func(t *testing.T) {
		_, err := New("ingest", "", nil, nil, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "kind")
	})

	t.Run("defaults nil subject and payload to empty maps", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, "")
		require.NoError(t, err)
		assert.NotNil(t, f.Subject)
		assert.NotNil(t, f.Payload)
	})
}

func TestVerify(t *testing.T) {
	t.Run("detects payload tampering", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, map[string]any{"sha": "abc123"}, "")
		require.NoError(t, err)

		f.Payload["sha"] = "evil"
		assert.False(t, f.Verify())
	})

	t.Run("detects subject tampering", func(t *testing.T) {
		f, err := New("ingest", KindTaskCreated, map[string]string{"taskId": "t1"}, nil, "")
		require.NoError(t, err)

		f.Subject["taskId"] = "t2"
		assert.False(t, f.Verify())
	})

	t.Run("detects causal reference tampering", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, uuid.NewString())
		require.NoError(t, err)

		f.CausedBy = uuid.NewString()
		assert.False(t, f.Verify())
	})

	t.Run("detects signature replacement", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, "")
		require.NoError(t, err)

		f.Signature = "0000"
		assert.False(t, f.Verify())
	})

	t.Run("survives JSON round-trip", func(t *testing.T) {
		f, err := New("ingest", KindProjectProgressCalculated,
			map[string]string{"projectId": "p1"},
			map[string]any{"progress": 42.5, "completedTasks": float64(3), "totalTasks": float64(7)},
			"")
		require.NoError(t, err)

		data, err := json.Marshal(f)
		require.NoError(t, err)

		var decoded Fact
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.Verify(), "signature must verify after a wire round-trip")
	})
}

func TestSign(t *testing.T) {
	t.Run("re-signing after a schema rewrite restores verifiability", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, "")
		require.NoError(t, err)

		f.SchemaVersion = CurrentSchemaVersion + 1
		assert.False(t, f.Verify())

		require.NoError(t, f.Sign())
		assert.True(t, f.Verify())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts well-formed fact", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, "")
		require.NoError(t, err)
		assert.NoError(t, f.Validate())
	})

	t.Run("rejects malformed ID", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, nil, "")
		require.NoError(t, err)
		f.ID = "not-a-uuid"
		assert.Error(t, f.Validate())
	})

	t.Run("rejects tampered fact", func(t *testing.T) {
		f, err := New("ingest", KindRepoCommit, nil, map[string]any{"n": 1.0}, "")
		require.NoError(t, err)
		f.Payload["n"] = 2.0
		err = f.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "integrity")
	})
}

func TestClone(t *testing.T) {
	f, err := New("ingest", KindTaskCreated, map[string]string{"taskId": "t1"}, map[string]any{"title": "x"}, "")
	require.NoError(t, err)

	cp := f.Clone()
	cp.Subject["taskId"] = "t2"
	cp.Payload["title"] = "y"

	assert.Equal(t, "t1", f.Subject["taskId"])
	assert.Equal(t, "x", f.Payload["title"])
}

func TestPayloadFloat(t *testing.T) {
	f, err := New("agent", KindProjectProgressCalculated, nil, map[string]any{
		"float":  55.5,
		"int":    7,
		"string": "nope",
	}, "")
	require.NoError(t, err)

	v, ok := f.PayloadFloat("float")
	assert.True(t, ok)
	assert.Equal(t, 55.5, v)

	v, ok = f.PayloadFloat("int")
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = f.PayloadFloat("string")
	assert.False(t, ok)

	_, ok = f.PayloadFloat("missing")
	assert.False(t, ok)
}
