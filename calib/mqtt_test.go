package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_DisabledWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := &Config{Segments: []SegmentConfig{{ID: 1, Channel: "PtP"}}}

	client, err := InitMQTT(config, nil)
	require.NoError(t, err)
	assert.Nil(t, client, "no broker configured should disable MQTT")
}

func TestMQTTClient_NilSafety(t *testing.T) {
	var c *MQTTClient
	assert.False(t, c.IsConnected())
	assert.Nil(t, c.Client())
}

func TestOnConnect_SubscribesToSurfaceTopic(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var got *Snapshot
	c := &MQTTClient{
		surfaceTopic: "cal/surface",
		snapshotHandler: func(_ []byte, snap *Snapshot, err error) {
			require.NoError(t, err)
			got = snap
		},
	}
	c.onConnect(mock)

	mock.SimulateMessage("cal/surface", []byte(`{
		"ptpMeanPerSegment": [1.2, 0.0],
		"latMeanPerSegment": [0.0, 0.8]
	}`))

	require.NotNil(t, got, "handler never received a snapshot")
	assert.Equal(t, []float64{1.2, 0.0}, got.PtPMeanPerSegment)
}

func TestHandleSurfaceMessage_DecodeError(t *testing.T) {
	var gotRaw []byte
	var gotErr error
	c := &MQTTClient{
		surfaceTopic: "cal/surface",
		snapshotHandler: func(raw []byte, snap *Snapshot, err error) {
			gotRaw = raw
			gotErr = err
			assert.Nil(t, snap)
		},
	}

	mock := NewMockClient()
	c.handleSurfaceMessage(mock, &mockMessage{topic: "cal/surface", payload: []byte(`{bad`)})

	assert.Error(t, gotErr)
	assert.Equal(t, []byte(`{bad`), gotRaw, "raw payload must reach the handler for archiving")
}

func TestHandleSurfaceMessage_NoHandler(t *testing.T) {
	c := &MQTTClient{surfaceTopic: "cal/surface"}
	mock := NewMockClient()

	// Must not panic with no handler installed.
	c.handleSurfaceMessage(mock, &mockMessage{topic: "cal/surface", payload: []byte(`{}`)})
}

func TestSetSnapshotHandler_Replaces(t *testing.T) {
	firstCalled := false
	secondCalled := false

	c := &MQTTClient{
		surfaceTopic:    "cal/surface",
		snapshotHandler: func([]byte, *Snapshot, error) { firstCalled = true },
	}
	c.SetSnapshotHandler(func([]byte, *Snapshot, error) { secondCalled = true })

	mock := NewMockClient()
	c.handleSurfaceMessage(mock, &mockMessage{topic: "cal/surface", payload: []byte(`{}`)})

	assert.False(t, firstCalled)
	assert.True(t, secondCalled)
}
