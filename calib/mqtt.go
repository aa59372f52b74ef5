package calib

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// SnapshotHandler is called when a surface snapshot message is received.
// Parameters: rawPayload, decoded snapshot, decode error. rawPayload is
// provided so callers can archive payloads that failed to decode.
type SnapshotHandler func(rawPayload []byte, snap *Snapshot, err error)

// MQTTClient manages the MQTT connection and the surface-snapshot
// subscription for the calibration service.
type MQTTClient struct {
	client          mqtt.Client
	config          *Config
	snapshotHandler SnapshotHandler
	surfaceTopic    string
	isConnected     bool
	mu              sync.RWMutex
}

// InitMQTT initializes the MQTT client with the provided configuration.
// If neither MQTT_BROKER nor config.MQTT.Broker is set, MQTT is disabled
// and this returns (nil, nil).
func InitMQTT(config *Config, handler SnapshotHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	surfaceTopic := config.MQTT.SurfaceTopic
	if surfaceTopic == "" {
		surfaceTopic = "fibrocal/surface"
	}

	client := &MQTTClient{
		config:          config,
		snapshotHandler: handler,
		surfaceTopic:    surfaceTopic,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "fibrocal"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the surface snapshot topic. It also runs on
// every reconnect, so the subscription survives broker restarts.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Printf("MQTT connected, subscribing to %s...", c.surfaceTopic)
	c.setConnected(true)

	token := client.Subscribe(c.surfaceTopic, 0, c.handleSurfaceMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", c.surfaceTopic, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", c.surfaceTopic)
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

func (c *MQTTClient) handleSurfaceMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("Received surface snapshot (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	snap, err := ParseSnapshot(payload)
	handler := c.getSnapshotHandler()
	if handler == nil {
		return
	}
	if err != nil {
		handler(payload, nil, err)
		return
	}
	handler(payload, snap, nil)
}

// SetSnapshotHandler replaces the snapshot callback.
func (c *MQTTClient) SetSnapshotHandler(handler SnapshotHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotHandler = handler
}

func (c *MQTTClient) getSnapshotHandler() SnapshotHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotHandler
}

// IsConnected returns the connection status. Safe on a nil client so
// callers in file-only modes need no guard.
func (c *MQTTClient) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.client != nil && c.client.IsConnected()
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Client exposes the underlying paho client for the Publisher.
func (c *MQTTClient) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Disconnect cleanly shuts down the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		log.Println("MQTT disconnected")
	}
	c.setConnected(false)
}
