package homeassistant

import (
	"testing"

	"faceverify/config"
	"faceverify/internal/integrations/mqtt"

	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload interface{}
	retain  bool
}

type recorder struct {
	msgs []published
}

func (r *recorder) PublishMessage(topic string, payload interface{}, retain bool) error {
	r.msgs = append(r.msgs, published{topic, payload, retain})
	return nil
}

func newManager(t *testing.T) (*DiscoveryManager, *recorder) {
	t.Helper()
	rec := &recorder{}
	topics := mqtt.NewPublisher(rec, "fv")
	t.Cleanup(topics.Close)
	return NewDiscoveryManager(rec, topics, config.MQTTConfig{TopicPrefix: "fv"}), rec
}

func TestRegisterSession(t *testing.T) {
	dm, rec := newManager(t)

	dm.RegisterSession("Front Door")

	require.Len(t, rec.msgs, 1)
	msg := rec.msgs[0]
	require.Equal(t, "homeassistant/binary_sensor/faceverify/front_door/config", msg.topic)
	require.True(t, msg.retain)

	sensor, ok := msg.payload.(SensorConfig)
	require.True(t, ok)
	require.Equal(t, "faceverify_front_door", sensor.UniqueID)
	require.Equal(t, "fv/Front Door/state", sensor.StateTopic)
	require.Equal(t, "fv/Front Door/result", sensor.JSONAttributesTopic)
	require.Equal(t, mqtt.StateVerified, sensor.PayloadOn)
	require.Equal(t, mqtt.StateUnverified, sensor.PayloadOff)
	require.Equal(t, "fv/status", sensor.AvailabilityTopic)
}

func TestRemoveSessionClearsRetainedConfig(t *testing.T) {
	dm, rec := newManager(t)

	dm.RemoveSession("abc")

	require.Len(t, rec.msgs, 1)
	require.Equal(t, dm.ConfigTopic("abc"), rec.msgs[0].topic)
	require.Equal(t, []byte{}, rec.msgs[0].payload)
	require.True(t, rec.msgs[0].retain)
}
