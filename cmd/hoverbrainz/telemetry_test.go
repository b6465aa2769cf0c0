package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBroadcastFanout(t *testing.T) {
	src := make(chan StateBroadcast)
	fast := make(chan StateBroadcast, 4)
	full := make(chan StateBroadcast) // never ready

	done := make(chan struct{})
	go func() {
		runBroadcastFanout(context.Background(), src, []chan StateBroadcast{fast, full})
		close(done)
	}()

	src <- BroadcastReverseChanged{Reverse: true}
	src <- BroadcastShutdown{Reason: ReasonOverheat}
	close(src)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fanout did not exit on closed source")
	}

	var got []StateBroadcast
	for b := range fast {
		got = append(got, b)
	}
	require.Len(t, got, 2)
	assert.Equal(t, BroadcastShutdown{Reason: ReasonOverheat}, got[1])

	_, ok := <-full
	assert.False(t, ok, "outputs are closed when the fanout exits")
}

type published struct {
	ev   outboundEvent
	body []byte
}

func TestRunTelemetrySink_KeepsGoingAfterFailures(t *testing.T) {
	src := make(chan StateBroadcast, 4)
	var mu sync.Mutex
	var got []published
	calls := 0

	publish := func(_ context.Context, ev outboundEvent, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("broker away")
		}
		got = append(got, published{ev: ev, body: body})
		return nil
	}

	at := time.Unix(1700000000, 0)
	src <- BroadcastSafetyChanged{From: SafetyState{}, To: SafetyState{Level: SafetyThermalWarning}, At: at}
	src <- BroadcastTelemetry{Frame: TelemetryFrame{Tick: 25, BatteryVolts: 39.5}, At: at}
	close(src)

	runTelemetrySink(context.Background(), "test", src, publish, discardLogger())

	require.Len(t, got, 1)
	assert.Equal(t, outTelemetry, got[0].ev.Type)

	var env struct {
		Type string         `json:"type"`
		Ts   time.Time      `json:"ts"`
		Data TelemetryFrame `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].body, &env))
	assert.Equal(t, uint64(25), env.Data.Tick)
	assert.True(t, env.Ts.Equal(at))
}

type fakeToken struct {
	mqtt.Token
	err error
}

func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                 { return t.err }

type fakeMQTT struct {
	topics []string
	qos    []byte
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	return fakeToken{}
}

func TestMQTTPublish_TopicPerType(t *testing.T) {
	client := &fakeMQTT{}
	pub := mqttPublish(client, MQTTConfig{Topic: "hoverbrainz/telemetry", QoS: 1})

	require.NoError(t, pub(context.Background(), outboundEvent{Type: outShutdown}, []byte(`{}`)))
	assert.Equal(t, []string{"hoverbrainz/telemetry/shutdown"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)
}

type fakeAMQP struct {
	keys []string
	msgs []amqp.Publishing
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, exchange+"/"+key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestAMQPPublish_RoutingKeyPerType(t *testing.T) {
	ch := &fakeAMQP{}
	pub := amqpPublish(ch, AMQPConfig{Exchange: "hoverbrainz", RoutingKey: "telemetry"})

	at := time.Unix(1700000000, 0)
	require.NoError(t, pub(context.Background(), outboundEvent{Type: outSafetyChanged, At: at}, []byte(`{"a":1}`)))

	assert.Equal(t, []string{"hoverbrainz/telemetry.safety_changed"}, ch.keys)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	assert.Equal(t, outSafetyChanged, ch.msgs[0].Type)
	assert.Equal(t, []byte(`{"a":1}`), ch.msgs[0].Body)
}
