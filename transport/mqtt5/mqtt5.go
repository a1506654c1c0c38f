// Package mqtt5 binds transport.Transport to an MQTT5 connection managed by
// github.com/eclipse/paho.golang/autopaho.
//
// autopaho reconnects on its own. Every (re)connection is reported as Up and
// every loss as Down; subscriptions are restored by the consumer, so the
// binding does not track them.
package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// reasonFailure is the lowest MQTT5 reason code that signals failure.
const reasonFailure = 0x80

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

// Transport implements transport.Transport over an autopaho connection.
type Transport struct {
	cm        *autopaho.ConnectionManager
	inbound   *transport.Inbound
	log       *slog.Logger
	connected atomic.Bool
}

// New starts an autopaho connection manager from cfg. It returns without
// waiting for the connection; use AwaitConnection for that. Callbacks already
// present on cfg are chained.
func New(ctx context.Context, cfg autopaho.ClientConfig, options ...Option) (*Transport, error) {
	oc := config{logger: slog.Default()}
	for _, o := range options {
		o(&oc)
	}

	t := &Transport{
		inbound: transport.NewInbound(),
		log:     oc.logger,
	}

	userUp := cfg.OnConnectionUp
	cfg.OnConnectionUp = func(cm *autopaho.ConnectionManager, ack *paho.Connack) {
		t.connected.Store(true)
		t.log.Info("mqtt5.connection.up", slog.Bool("session_present", ack.SessionPresent))
		t.inbound.Connectivity(transport.Connectivity{State: transport.Up, SessionPresent: ack.SessionPresent})
		if userUp != nil {
			userUp(cm, ack)
		}
	}

	userClientErr := cfg.ClientConfig.OnClientError
	cfg.ClientConfig.OnClientError = func(err error) {
		t.down(err)
		if userClientErr != nil {
			userClientErr(err)
		}
	}

	userServerDisconnect := cfg.ClientConfig.OnServerDisconnect
	cfg.ClientConfig.OnServerDisconnect = func(d *paho.Disconnect) {
		t.down(fmt.Errorf("server disconnect (reason 0x%02x)", d.ReasonCode))
		if userServerDisconnect != nil {
			userServerDisconnect(d)
		}
	}

	cfg.ClientConfig.OnPublishReceived = append(cfg.ClientConfig.OnPublishReceived,
		func(pr paho.PublishReceived) (bool, error) {
			t.inbound.Publish(pr.Packet.Topic, pr.Packet.Payload)
			return true, nil
		})

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		t.inbound.Close()
		return nil, fmt.Errorf("mqtt5 connect: %w", err)
	}
	t.cm = cm
	return t, nil
}

func (t *Transport) down(err error) {
	if !t.connected.Swap(false) {
		return
	}
	t.log.Warn("mqtt5.connection.lost", slog.String("err", err.Error()))
	t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: err})
}

// ConnectionManager returns the underlying autopaho connection manager.
func (t *Transport) ConnectionManager() *autopaho.ConnectionManager { return t.cm }

// AwaitConnection blocks until the first connection is up or ctx ends.
func (t *Transport) AwaitConnection(ctx context.Context) error {
	return t.cm.AwaitConnection(ctx)
}

// Disconnect closes the connection and stops inbound delivery. The Transport
// cannot be reused.
func (t *Transport) Disconnect(ctx context.Context) error {
	err := t.cm.Disconnect(ctx)
	t.connected.Store(false)
	t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: transport.ErrClosed})
	t.inbound.Close()
	return err
}

// Connected implements transport.StateReporter.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	resp, err := t.cm.Publish(ctx, &paho.Publish{
		QoS:     byte(qos),
		Topic:   topic,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("mqtt5 publish %s: %w", topic, err)
	}
	if resp != nil && resp.ReasonCode >= reasonFailure {
		return fmt.Errorf("mqtt5 publish %s: rejected (reason 0x%02x)", topic, resp.ReasonCode)
	}
	return nil
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(ctx context.Context, filter string, qos transport.QoS) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	ack, err := t.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	})
	if err != nil {
		return fmt.Errorf("mqtt5 subscribe %s: %w", filter, err)
	}
	if ack != nil && len(ack.Reasons) > 0 && ack.Reasons[0] >= reasonFailure {
		return &transport.RejectedError{Op: "subscribe", Filter: filter, Code: ack.Reasons[0]}
	}
	return nil
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, filter string) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	ack, err := t.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	if err != nil {
		return fmt.Errorf("mqtt5 unsubscribe %s: %w", filter, err)
	}
	if ack != nil && len(ack.Reasons) > 0 && ack.Reasons[0] >= reasonFailure {
		return &transport.RejectedError{Op: "unsubscribe", Filter: filter, Code: ack.Reasons[0]}
	}
	return nil
}

// Attach implements transport.Transport.
func (t *Transport) Attach(h transport.Handler) (func(), error) {
	return t.inbound.Attach(h)
}

// Compile-time interface checks
var (
	_ transport.Transport     = (*Transport)(nil)
	_ transport.StateReporter = (*Transport)(nil)
)
