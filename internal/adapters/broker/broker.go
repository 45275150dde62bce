// Package broker bridges an MQTT broker into the shared ingestion pipeline.
// Delivery is at-most-once: subscriptions are QoS 0 and messages during a
// disconnection are lost by design.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrConnectFailed = errors.New("broker connect failed")

const (
	reconnectInterval = 5 * time.Second
	processTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds, paho convention
)

type pipeline interface {
	Process(ctx context.Context, sourceDeviceID string, payload []byte, hint string) error
}

type Config struct {
	BrokerURL string
	ClientID  string
	Topics    []string
	Pipeline  pipeline
}

type Adapter struct {
	client   mqtt.Client
	topics   []string
	pipeline pipeline
}

func New(cfg Config) *Adapter {
	a := &Adapter{
		topics:   cfg.Topics,
		pipeline: cfg.Pipeline,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.SetMaxReconnectInterval(reconnectInterval)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		slog.Info("Broker connected, subscribing...", "topics", a.topics)
		a.subscribeAll(client)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		slog.Error("Broker connection lost", "error", err)
	})

	a.client = mqtt.NewClient(opts)
	return a
}

// Run connects and blocks until the context is cancelled. Reconnects and
// resubscriptions are handled by the client's connect handler. With connect
// retry enabled the connect token only completes on success, so cancellation
// is raced against it rather than waited out.
func (a *Adapter) Run(ctx context.Context) error {
	const fn = "BrokerAdapter:Run"
	token := a.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("%s:%w:%w", fn, ErrConnectFailed, token.Error())
		}
	case <-ctx.Done():
		a.client.Disconnect(disconnectQuiesce)
		return nil
	}
	<-ctx.Done()
	return nil
}

func (a *Adapter) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing broker adapter resources...")
	if a.client.IsConnected() {
		if token := a.client.Unsubscribe(a.topics...); token.Wait() && token.Error() != nil {
			slog.ErrorContext(ctx, "Broker unsubscribe failed", "error", token.Error())
		}
	}
	a.client.Disconnect(disconnectQuiesce)
}

func (a *Adapter) subscribeAll(client mqtt.Client) {
	for _, topic := range a.topics {
		if token := client.Subscribe(topic, 0, a.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("Broker subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (a *Adapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := a.handleMessage(msg.Topic(), msg.Payload()); err != nil {
		slog.Error("Dropping broker message",
			"topic", msg.Topic(),
			"error", err,
		)
	}
}

// handleMessage runs one broker message through the pipeline. The topic is
// the channel hint; the broker supplies no device identity of its own.
func (a *Adapter) handleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	return a.pipeline.Process(ctx, "", payload, topic)
}
