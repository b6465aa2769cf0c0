package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ============================================================================
// Telemetry fan-out and message-broker sinks
// ============================================================================
// The daemon publishes broadcasts on one channel. runBroadcastFanout copies
// each broadcast to every observer (websocket broadcaster, MQTT, AMQP)
// without blocking; a slow observer loses frames, never the loop.
// ============================================================================

// runBroadcastFanout copies src to every out until ctx is canceled or src closes.
func runBroadcastFanout(ctx context.Context, src <-chan StateBroadcast, outs []chan StateBroadcast) {
	defer func() {
		for _, o := range outs {
			close(o)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			for _, o := range outs {
				select {
				case o <- b:
				default:
				}
			}
		}
	}
}

// publishFunc delivers one encoded event to a broker.
type publishFunc func(ctx context.Context, ev outboundEvent, body []byte) error

// runTelemetrySink encodes broadcasts and hands them to publish. Publish
// errors are logged and the frame is dropped; brokers reconnect on their own.
func runTelemetrySink(ctx context.Context, name string, src <-chan StateBroadcast, publish publishFunc, logger *slog.Logger) {
	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			body, err := ev.marshal()
			if err != nil {
				logger.Warn("telemetry marshal failed", "sink", name, "type", ev.Type, "error", err)
				continue
			}
			if err := publish(ctx, ev, body); err != nil {
				failures++
				// Log the first failure and then every 100th.
				if failures%100 == 1 {
					logger.Warn("telemetry publish failed", "sink", name, "type", ev.Type, "failures", failures, "error", err)
				}
				continue
			}
			failures = 0
		}
	}
}

// ----------------------------------------------------------------------------
// MQTT
// ----------------------------------------------------------------------------

const mqttTimeout = 5 * time.Second

// mqttPublisher is the subset of mqtt.Client used here.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// connectMQTT connects to the broker. The returned close function
// disconnects cleanly.
func connectMQTT(cfg MQTTConfig, logger *slog.Logger) (mqtt.Client, func(), error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, func() { client.Disconnect(250) }, nil
}

// mqttPublish publishes each event on <topic>/<type>.
func mqttPublish(client mqttPublisher, cfg MQTTConfig) publishFunc {
	return func(_ context.Context, ev outboundEvent, body []byte) error {
		tok := client.Publish(cfg.Topic+"/"+ev.Type, cfg.QoS, false, body)
		if !tok.WaitTimeout(mqttTimeout) {
			return errors.New("mqtt publish timeout")
		}
		return tok.Error()
	}
}

// ----------------------------------------------------------------------------
// AMQP
// ----------------------------------------------------------------------------

// amqpChannel is the subset of *amqp.Channel used here.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// connectAMQP dials the broker and declares the telemetry topic exchange.
func connectAMQP(cfg AMQPConfig, logger *slog.Logger) (*amqp.Channel, func(), error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp declare exchange %s: %w", cfg.Exchange, err)
	}
	logger.Info("amqp connected", "exchange", cfg.Exchange)
	return ch, func() {
		_ = ch.Close()
		_ = conn.Close()
	}, nil
}

// amqpPublish publishes each event with routing key <routing_key>.<type>.
func amqpPublish(ch amqpChannel, cfg AMQPConfig) publishFunc {
	return func(ctx context.Context, ev outboundEvent, body []byte) error {
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return ch.PublishWithContext(pubCtx, cfg.Exchange, cfg.RoutingKey+"."+ev.Type, false, false, amqp.Publishing{
			ContentType: "application/json",
			Type:        ev.Type,
			Timestamp:   ev.At,
			Body:        body,
		})
	}
}
