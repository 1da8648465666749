package survey

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PositionHandler is called for every decoded position message.
type PositionHandler func(p Position)

// MQTTClient manages the broker connection and the position subscription.
type MQTTClient struct {
	client        mqtt.Client
	positionTopic string
	handler       PositionHandler
	isConnected   bool
	mu            sync.RWMutex
}

// MQTTSettings resolves the effective broker settings. Environment
// variables override the config file.
func MQTTSettings(cfg MQTTConfig) MQTTConfig {
	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	out := cfg
	out.Broker = env("MQTT_BROKER", cfg.Broker)
	out.ClientID = env("MQTT_CLIENT_ID", cfg.ClientID)
	out.Username = env("MQTT_USERNAME", cfg.Username)
	out.Password = env("MQTT_PASSWORD", cfg.Password)
	out.PublishPrefix = env("MQTT_PUBLISH_PREFIX", cfg.PublishPrefix)
	out.PositionTopic = env("MQTT_POSITION_TOPIC", cfg.PositionTopic)
	if out.ClientID == "" {
		out.ClientID = "linkpass"
	}
	if out.PublishPrefix == "" {
		out.PublishPrefix = "linkpass"
	}
	return out
}

// InitMQTT creates a client for the configured broker and starts
// connecting in the background. It returns nil when no broker is set.
func InitMQTT(cfg MQTTConfig, handler PositionHandler) (*MQTTClient, error) {
	settings := MQTTSettings(cfg)
	if settings.Broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler != nil && settings.PositionTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but no position topic configured")
	}

	client := &MQTTClient{
		positionTopic: settings.PositionTopic,
		handler:       handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Positions must reach the session in broker order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()
	return client, nil
}

// NewMQTTClient wraps an existing mqtt.Client, typically a mock.
func NewMQTTClient(client mqtt.Client, positionTopic string, handler PositionHandler) *MQTTClient {
	return &MQTTClient{client: client, positionTopic: positionTopic, handler: handler}
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if err := c.Subscribe(); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

// Subscribe subscribes to the position topic. It is called on every
// (re)connect.
func (c *MQTTClient) Subscribe() error {
	if c.handler == nil || c.positionTopic == "" {
		return nil
	}
	token := c.client.Subscribe(c.positionTopic, 1, c.onPosition)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", c.positionTopic, token.Error())
	}
	log.Printf("[MQTT] subscribed to %s", c.positionTopic)
	return nil
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onPosition(client mqtt.Client, msg mqtt.Message) {
	p, err := DecodePosition(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] bad position on %s: %v", msg.Topic(), err)
		return
	}
	c.handler(p)
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
