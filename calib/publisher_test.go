package calib

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDensities(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "cal")

	err := p.PublishDensities([]float64{0.4, 0.6}, 3, 0.02, false)
	require.NoError(t, err)

	published := client.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "cal/densities", published[0].Topic)
	assert.True(t, published[0].Retain, "density vector should be retained")
	assert.Equal(t, byte(0), published[0].QoS)

	var msg densityMessage
	require.NoError(t, json.Unmarshal(published[0].Payload, &msg))
	assert.Equal(t, []float64{0.4, 0.6}, msg.Densities)
	assert.Equal(t, 3, msg.Iteration)
	assert.InDelta(t, 0.02, msg.MaxStep, 1e-12)
	assert.False(t, msg.Converged)
	assert.NotZero(t, msg.Timestamp)
}

func TestPublishDensities_NotConnected(t *testing.T) {
	p := NewPublisher(NewMockClient(), "cal")
	err := p.PublishDensities([]float64{0.5}, 1, 0.1, false)
	assert.Error(t, err)
}

func TestPublishDensities_NilClient(t *testing.T) {
	p := NewPublisher(nil, "cal")
	err := p.PublishDensities([]float64{0.5}, 1, 0.1, false)
	assert.Error(t, err)
}

func TestPublishDensities_PublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("broker rejected"))
	p := NewPublisher(client, "cal")

	err := p.PublishDensities([]float64{0.5}, 1, 0.1, true)
	assert.ErrorContains(t, err, "broker rejected")
}

func TestPublishRecords(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "cal")

	records := []Record{
		{Segment: 1, Channel: ChannelPtP, Measured: 1.2, OldDensity: 0.5, NewDensity: 0.55},
		{Segment: 3, Channel: ChannelLAT, Measured: -0.8, OldDensity: 0.5, NewDensity: 0.45},
	}
	require.NoError(t, p.PublishRecords(records))

	published := client.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "cal/segments/1", published[0].Topic)
	assert.Equal(t, "cal/segments/3", published[1].Topic)

	var msg segmentMessage
	require.NoError(t, json.Unmarshal(published[1].Payload, &msg))
	assert.Equal(t, 3, msg.Segment)
	assert.Equal(t, ChannelLAT, msg.Channel)
	assert.InDelta(t, -0.8, msg.Measured, 1e-12)
	assert.InDelta(t, 0.45, msg.Density, 1e-12)
}

func TestPublishRecords_Empty(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "cal")

	require.NoError(t, p.PublishRecords(nil))
	assert.Empty(t, client.Published())
}

func TestNewPublisher_DefaultPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "")

	require.NoError(t, p.PublishDensities([]float64{0.5}, 1, 0.1, false))
	published := client.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "fibrocal/densities", published[0].Topic)
}
