package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

// StartMQTT subscribes to the topic phones publish sensor payloads on. The
// second topic level, when present, is taken as the device id.
func StartMQTT(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) error {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	handler := mqttHandler(ctx, cfg, parser, out, logger)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// resubscribe after every reconnect of a clean session
		token := c.Subscribe(current.Topic, current.QoS, handler)
		if token.Wait() && token.Error() != nil && logger != nil {
			logger.Error("mqtt subscribe failed", "topic", current.Topic, "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", current.Broker, token.Error())
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic)
	}
	go func() {
		<-ctx.Done()
		client.Unsubscribe(current.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
	}()
	return nil
}

func mqttHandler(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handleMQTTPayload(ctx, msg.Topic(), msg.Payload(), cfg, parser, out, logger)
	}
}

func handleMQTTPayload(ctx context.Context, topic string, payload []byte, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) int {
	fields, err := parser.ParseLine(string(payload))
	if err != nil || len(fields) == 0 {
		return 0
	}
	if device := deviceFromTopic(topic); device != "" {
		for i := range fields {
			if fields[i].DeviceID == "" {
				fields[i].DeviceID = device
			}
		}
	}
	return emitFields(ctx, fields, "mqtt", cfg.Get(), out, logger)
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}
