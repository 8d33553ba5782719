package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"faceverify/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	publishQoS     = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// Werte im Status-Topic
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Client hält die Verbindung zum Broker. Der Verbindungsstatus liegt retained
// unter <topic_prefix>/status; bricht die Verbindung ab, setzt der Broker ihn
// über das Last Will auf "offline".
type Client struct {
	config config.MQTTConfig
	client mqtt.Client
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// StatusTopic liefert das retained Topic mit online/offline
func (c *Client) StatusTopic() string {
	return c.config.TopicPrefix + "/status"
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := c.options()
	if len(opts.Servers) == 0 {
		return fmt.Errorf("invalid MQTT broker address %q", c.config.Broker)
	}
	c.client = mqtt.NewClient(opts)

	broker := opts.Servers[0].String()
	log.Infof("Connecting to MQTT broker at %s", broker)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout connecting to MQTT broker at %s", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker at %s: %w", broker, err)
	}
	return nil
}

// options baut die Paho-Optionen aus der Konfiguration
func (c *Client) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)).
		SetClientID(c.config.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout).
		SetWill(c.StatusTopic(), StatusOffline, publishQoS, true)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// nach jeder (Wieder-)Verbindung den Status erneuern
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		log.Info("MQTT client connected")
		cl.Publish(c.StatusTopic(), publishQoS, true, StatusOnline)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	return opts
}

// Stop meldet den Dienst ab und trennt die Verbindung
func (c *Client) Stop() {
	if !c.IsConnected() {
		return
	}
	log.Info("Disconnecting MQTT client...")
	c.client.Publish(c.StatusTopic(), publishQoS, true, StatusOffline).WaitTimeout(publishTimeout)
	c.client.Disconnect(quiesceMillis)
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic.
// Strings und Byte-Slices werden unverändert gesendet, alles andere als JSON.
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, publishQoS, retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}
