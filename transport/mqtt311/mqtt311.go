// Package mqtt311 binds transport.Transport to an MQTT 3.1.1 client from
// github.com/eclipse/paho.mqtt.golang.
//
// The binding owns the paho client. It installs its own connect, connection
// lost and default publish handlers, chaining any OnConnect and
// OnConnectionLost handlers already present on the options, and turns off
// paho's own resubscription: subscriptions are restored by the consumer after
// every reconnect.
package mqtt311

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// Option configures a Transport.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Transport implements transport.Transport over paho.mqtt.golang.
type Transport struct {
	client  mqtt.Client
	inbound *transport.Inbound
	log     *slog.Logger
}

// New creates a Transport from opts. The client is not connected; call
// Connect. opts is modified and must not be reused.
func New(opts *mqtt.ClientOptions, options ...Option) *Transport {
	cfg := config{logger: slog.Default()}
	for _, o := range options {
		o(&cfg)
	}

	t := &Transport{
		inbound: transport.NewInbound(),
		log:     cfg.logger,
	}

	userConnect := opts.OnConnect
	userLost := opts.OnConnectionLost

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		t.log.Info("mqtt311.connection.up")
		t.inbound.Connectivity(transport.Connectivity{State: transport.Up})
		if userConnect != nil {
			userConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		t.log.Warn("mqtt311.connection.lost", slog.String("err", err.Error()))
		t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: err})
		if userLost != nil {
			userLost(c, err)
		}
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		t.inbound.Publish(m.Topic(), m.Payload())
	})
	opts.SetResumeSubs(false)

	t.client = mqtt.NewClient(opts)
	return t
}

// Client returns the underlying paho client.
func (t *Transport) Client() mqtt.Client { return t.client }

// Connect opens the connection and waits for CONNACK.
func (t *Transport) Connect(ctx context.Context) error {
	if err := wait(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("mqtt311 connect: %w", err)
	}
	return nil
}

// Disconnect closes the connection, allowing in-flight work up to quiesce to
// finish, and stops inbound delivery. The Transport cannot be reused.
func (t *Transport) Disconnect(quiesce time.Duration) {
	t.client.Disconnect(uint(quiesce.Milliseconds()))
	t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: transport.ErrClosed})
	t.inbound.Close()
}

// Connected implements transport.StateReporter.
func (t *Transport) Connected() bool {
	return t.client.IsConnectionOpen()
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	if !t.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	if err := wait(ctx, t.client.Publish(topic, byte(qos), false, payload)); err != nil {
		return fmt.Errorf("mqtt311 publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(ctx context.Context, filter string, qos transport.QoS) error {
	if !t.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	tok := t.client.Subscribe(filter, byte(qos), nil)
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("mqtt311 subscribe %s: %w", filter, err)
	}
	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		if code, ok := st.Result()[filter]; ok && code >= subackFailure {
			return &transport.RejectedError{Op: "subscribe", Filter: filter, Code: code}
		}
	}
	return nil
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, filter string) error {
	if !t.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	if err := wait(ctx, t.client.Unsubscribe(filter)); err != nil {
		return fmt.Errorf("mqtt311 unsubscribe %s: %w", filter, err)
	}
	return nil
}

// Attach implements transport.Transport.
func (t *Transport) Attach(h transport.Handler) (func(), error) {
	return t.inbound.Attach(h)
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Compile-time interface checks
var (
	_ transport.Transport     = (*Transport)(nil)
	_ transport.StateReporter = (*Transport)(nil)
)
