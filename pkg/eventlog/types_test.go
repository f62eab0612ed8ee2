package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventJSONRoundTrip covers spec §8's round-trip law: encoding then
// decoding an Event must reproduce it exactly, payload included.
func TestEventJSONRoundTrip(t *testing.T) {
	original, err := NewBuilder().
		Kind("CellCreated").
		AggregateID("d").
		WithPayload(Payload{
			"cell_id":   "c1",
			"cell_type": "code",
			"nested":    map[string]any{"a": float64(1), "b": []any{"x", "y"}},
		}).
		Build(1)
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original, decoded)
}

func TestEventWireFieldNames(t *testing.T) {
	e, err := NewBuilder().Kind("DocumentCreated").AggregateID("d").Build(1)
	require.NoError(t, err)

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"id", "event_type", "aggregate_id", "payload", "timestamp", "version"} {
		_, ok := raw[key]
		assert.True(t, ok, "wire format must include %q", key)
	}
}
