package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsMetadata(t *testing.T) {
	evt, err := New("LOAD_CREATED", CategoryLoad, map[string]any{"load_id": "L1", "weight": 500})
	require.NoError(t, err)

	_, err = uuid.Parse(evt.Metadata.EventID)
	assert.NoError(t, err, "event id should be a uuid")
	_, err = uuid.Parse(evt.Metadata.CorrelationID)
	assert.NoError(t, err, "correlation id should be a uuid")

	assert.NotEqual(t, evt.Metadata.EventID, evt.Metadata.CorrelationID)
	assert.Equal(t, DefaultVersion, evt.Metadata.EventVersion)
	assert.Equal(t, time.UTC, evt.Metadata.EventTime.Location())
	assert.JSONEq(t, `{"load_id":"L1","weight":500}`, string(evt.Payload))
}

func TestNew_Options(t *testing.T) {
	parent, err := New("LOAD_CREATED", CategoryLoad, nil)
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	evt, err := New("LOAD_ASSIGNED", CategoryLoad, json.RawMessage(`{"load_id":"L1"}`),
		WithEventID("abc123"),
		WithVersion("2.1"),
		WithProducer("load-service"),
		WithEventTime(at),
		CausedBy(parent),
	)
	require.NoError(t, err)

	assert.Equal(t, "abc123", evt.Metadata.EventID)
	assert.Equal(t, "2.1", evt.Metadata.EventVersion)
	assert.Equal(t, "load-service", evt.Metadata.Producer)
	assert.Equal(t, parent.Metadata.CorrelationID, evt.Metadata.CorrelationID)
	assert.True(t, at.Equal(evt.Metadata.EventTime))
	assert.Equal(t, []byte("abc123"), evt.Key())
}

func TestNew_InvalidRawPayload(t *testing.T) {
	_, err := New("X", CategorySystem, []byte("{not json"))
	assert.Error(t, err)
}

func TestFillDefaults_KeepsExisting(t *testing.T) {
	evt := &Event{Metadata: Metadata{EventID: "id-1", Producer: "a"}}
	evt.FillDefaults("b")

	assert.Equal(t, "id-1", evt.Metadata.EventID)
	assert.Equal(t, "a", evt.Metadata.Producer)
	assert.NotEmpty(t, evt.Metadata.CorrelationID)
	assert.False(t, evt.Metadata.EventTime.IsZero())
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	payload := `{"load_id":"L1","weight":500.5,"stops":[{"location":{"lat":1.5,"lng":-2}},{"location":null}],"notes":null}`
	evt, err := New("LOAD_CREATED", CategoryLoad, json.RawMessage(payload), WithProducer("load-service"))
	require.NoError(t, err)

	body, err := Marshal(evt)
	require.NoError(t, err)

	got, err := Unmarshal(body)
	require.NoError(t, err)

	assert.Equal(t, evt.Metadata.EventID, got.Metadata.EventID)
	assert.Equal(t, evt.Metadata.CorrelationID, got.Metadata.CorrelationID)
	assert.Equal(t, evt.Metadata.Category, got.Metadata.Category)
	assert.True(t, evt.Metadata.EventTime.Equal(got.Metadata.EventTime))
	assert.JSONEq(t, payload, string(got.Payload))
}

func TestUnmarshal_Errors(t *testing.T) {
	_, err := Unmarshal([]byte("garbage"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"metadata":{},"payload":{}}`))
	assert.Error(t, err, "event_type is required")
}

func TestPayloadTree_UsesNumbers(t *testing.T) {
	evt := &Event{Payload: json.RawMessage(`{"weight":500,"ratio":0.25}`)}
	tree, err := evt.PayloadTree()
	require.NoError(t, err)

	m, ok := tree.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "500", m["weight"].(interface{ String() string }).String())
	assert.Equal(t, "0.25", m["ratio"].(interface{ String() string }).String())
}

func TestCategory(t *testing.T) {
	c, ok := ParseCategory(" load ")
	assert.True(t, ok)
	assert.Equal(t, CategoryLoad, c)
	assert.Equal(t, "load_events", c.TopicName())
	assert.Equal(t, "position_events", CategoryPosition.TopicName())

	_, ok = ParseCategory("UNKNOWN_CATEGORY")
	assert.False(t, ok)
	assert.False(t, Category("nope").Valid())
	assert.Len(t, Categories(), 8)
}
