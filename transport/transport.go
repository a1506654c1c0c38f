// Package transport defines the publish/subscribe contract the request/response
// engine is built on, independent of the MQTT client behind it.
//
// Bindings live in sub-packages:
//
//	mqtt311  : github.com/eclipse/paho.mqtt.golang (MQTT 3.1.1)
//	mqtt5    : github.com/eclipse/paho.golang autopaho (MQTT 5)
//	memory   : in-process broker for tests and local development
//	redis    : Redis PUBLISH / PSUBSCRIBE
//
// Every binding delivers inbound publishes and connectivity changes to its
// attached Handler from a single goroutine, in the order they were received.
// Consumers therefore never see two Handler calls overlap.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// QoS is an MQTT quality of service level. QoS 2 is not supported.
type QoS byte

const (
	// AtMostOnce delivers a message zero or one times.
	AtMostOnce QoS = 0
	// AtLeastOnce delivers a message one or more times.
	AtLeastOnce QoS = 1
)

var (
	// ErrNotConnected is returned when an operation is attempted while the
	// underlying client has no connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned after the transport was shut down.
	ErrClosed = errors.New("transport: closed")
	// ErrAlreadyAttached is returned when a second handler is attached.
	ErrAlreadyAttached = errors.New("transport: handler already attached")
)

// RejectedError reports a subscribe or unsubscribe that the broker refused.
type RejectedError struct {
	Op     string
	Filter string
	Code   byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transport: %s %q rejected by broker (code 0x%02x)", e.Op, e.Filter, e.Code)
}

// Transport is a connected publish/subscribe client.
type Transport interface {
	// Publish sends payload to topic. It returns once the client accepted the
	// message (for QoS 1, once PUBACK was received).
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// Subscribe subscribes to filter and returns once the broker acknowledged
	// it. A broker-side refusal is reported as *RejectedError.
	Subscribe(ctx context.Context, filter string, qos QoS) error

	// Unsubscribe removes the subscription for filter and returns once the
	// broker acknowledged it.
	Unsubscribe(ctx context.Context, filter string) error

	// Attach installs the handler for inbound traffic. Only one handler may be
	// attached at a time; the returned function detaches it.
	Attach(h Handler) (detach func(), err error)
}

// Handler receives inbound traffic from a Transport. Calls are serialized.
type Handler interface {
	// HandlePublish is called for every publish matching any active
	// subscription. The payload must not be retained after the call returns
	// without copying.
	HandlePublish(topic string, payload []byte)

	// HandleConnectivity is called whenever the connection goes up or down.
	HandleConnectivity(ev Connectivity)
}

// ConnectionState describes the state of the transport's connection.
type ConnectionState int

const (
	// Down means no connection; subscriptions must be re-established once Up.
	Down ConnectionState = iota
	// Up means a connection was (re-)established.
	Up
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Connectivity is a connection state change.
type Connectivity struct {
	State ConnectionState
	// SessionPresent is set on Up when the broker resumed a previous session.
	SessionPresent bool
	// Err carries the cause of a Down transition, when known.
	Err error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnPublish      func(topic string, payload []byte)
	OnConnectivity func(ev Connectivity)
}

// HandlePublish implements Handler.
func (f HandlerFuncs) HandlePublish(topic string, payload []byte) {
	if f.OnPublish != nil {
		f.OnPublish(topic, payload)
	}
}

// HandleConnectivity implements Handler.
func (f HandlerFuncs) HandleConnectivity(ev Connectivity) {
	if f.OnConnectivity != nil {
		f.OnConnectivity(ev)
	}
}

var _ Handler = HandlerFuncs{}

// StateReporter is implemented by transports that can report their current
// connection state synchronously. Consumers use it to learn the initial state
// before the first Connectivity event arrives.
type StateReporter interface {
	Connected() bool
}
