package homeassistant

import (
	"fmt"
	"strings"

	"faceverify/config"
	"faceverify/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Constants for Home Assistant MQTT Discovery
const (
	// Component-Typ für den Verifikationszustand
	ComponentBinarySensor = "binary_sensor"

	// Node-ID unter dem Discovery-Präfix
	NodeID = "faceverify"
)

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	PayloadOn           string  `json:"payload_on"`
	PayloadOff          string  `json:"payload_off"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryManager legt für jede Session einen binary_sensor in Home Assistant an
type DiscoveryManager struct {
	pub             mqtt.MessagePublisher
	topics          *mqtt.Publisher
	discoveryPrefix string
	statusTopic     string
	device          *Device
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery.
// topics liefert die State- und Result-Topics der Sessions.
func NewDiscoveryManager(pub mqtt.MessagePublisher, topics *mqtt.Publisher, cfg config.MQTTConfig) *DiscoveryManager {
	prefix := cfg.DiscoveryPrefix
	if prefix == "" {
		prefix = "homeassistant"
	}
	return &DiscoveryManager{
		pub:             pub,
		topics:          topics,
		discoveryPrefix: prefix,
		statusTopic:     cfg.TopicPrefix + "/status", // wie Client.StatusTopic
		device: &Device{
			Identifiers:  []string{"faceverify"},
			Name:         "Face Verify",
			Manufacturer: "faceverify",
			Model:        "LBP Verifier",
		},
	}
}

// ConfigTopic liefert das Discovery-Topic einer Session
func (dm *DiscoveryManager) ConfigTopic(sessionID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config",
		dm.discoveryPrefix,
		ComponentBinarySensor,
		NodeID,
		objectID(sessionID))
}

// RegisterSession veröffentlicht die Discovery-Konfiguration einer Session
func (dm *DiscoveryManager) RegisterSession(sessionID string) {
	sensorConfig := SensorConfig{
		Name:                fmt.Sprintf("Face Verify %s", sessionID),
		UniqueID:            "faceverify_" + objectID(sessionID),
		StateTopic:          dm.topics.StateTopic(sessionID),
		PayloadOn:           mqtt.StateVerified,
		PayloadOff:          mqtt.StateUnverified,
		Icon:                "mdi:face-recognition",
		JSONAttributesTopic: dm.topics.ResultTopic(sessionID),
		AvailabilityTopic:   dm.statusTopic,
		PayloadAvailable:    mqtt.StatusOnline,
		PayloadNotAvailable: mqtt.StatusOffline,
		Device:              dm.device,
	}

	log.Infof("Registering Home Assistant sensor for session: %s", sessionID)
	if err := dm.pub.PublishMessage(dm.ConfigTopic(sessionID), sensorConfig, true); err != nil {
		log.Errorf("Failed to publish discovery configuration for session %s: %v", sessionID, err)
	}
}

// RemoveSession entfernt den Sensor einer Session aus Home Assistant
func (dm *DiscoveryManager) RemoveSession(sessionID string) {
	if err := dm.pub.PublishMessage(dm.ConfigTopic(sessionID), []byte{}, true); err != nil {
		log.Errorf("Failed to remove discovery configuration for session %s: %v", sessionID, err)
	}
}

// objectID macht eine Session-ID für Topics und unique_id verwendbar
func objectID(sessionID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, sessionID)
}
