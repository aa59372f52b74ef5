package calib

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// densityMessage is the retained whole-vector payload.
type densityMessage struct {
	Densities []float64 `json:"densities"`
	Iteration int       `json:"iteration"`
	MaxStep   float64   `json:"maxStep"`
	Converged bool      `json:"converged"`
	Timestamp int64     `json:"timestamp"`
}

// segmentMessage is the per-segment payload.
type segmentMessage struct {
	Segment   int     `json:"segment"`
	Channel   Channel `json:"channel"`
	Measured  float64 `json:"measured"`
	Density   float64 `json:"density"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher publishes calibration results to MQTT: the full density
// vector to a retained combined topic, and per-segment unit records to
// individual topics.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a density publisher. If client is nil, publishing
// is disabled (for testing and file-only runs).
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = "fibrocal"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // Fire and forget for iteration updates
		retain:        true, // Retain so late subscribers see the latest vector
	}
}

// PublishDensities publishes the full density vector after one pass.
// Topic: {prefix}/densities
func (p *Publisher) PublishDensities(densities []float64, iteration int, maxStep float64, converged bool) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	msg := densityMessage{
		Densities: densities,
		Iteration: iteration,
		MaxStep:   maxStep,
		Converged: converged,
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling densities: %w", err)
	}

	topic := fmt.Sprintf("%s/densities", p.publishPrefix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published densities: iteration=%d maxStep=%.4f converged=%v", iteration, maxStep, converged)
	return nil
}

// PublishRecords publishes one message per unit record.
// Topic: {prefix}/segments/{id}
func (p *Publisher) PublishRecords(records []Record) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	for _, r := range records {
		msg := segmentMessage{
			Segment:   r.Segment,
			Channel:   r.Channel,
			Measured:  r.Measured,
			Density:   r.NewDensity,
			Timestamp: time.Now().Unix(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshaling segment %d record: %w", r.Segment, err)
		}

		topic := fmt.Sprintf("%s/segments/%d", p.publishPrefix, r.Segment)
		token := p.client.Publish(topic, p.qos, p.retain, payload)
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}
	return nil
}
