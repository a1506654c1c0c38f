// Package memory provides an in-process implementation of transport.Transport.
// A Broker fans publishes out to every connected Transport with a matching
// subscription, using standard MQTT topic filter rules. It is suitable for
// tests and local development; it has no persistence and no retained
// messages.
//
// Transports support fault injection: Drop and Restore simulate a connection
// loss and recovery, and SetSubscribeHook lets a test delay or fail individual
// subscribe calls.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/iot-device-sdk-go/internal/topic"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// ErrConnectionLost is the cause reported when Drop is called.
var ErrConnectionLost = errors.New("memory: connection lost")

// Broker routes publishes between Transports created with Connect.
type Broker struct {
	mu      sync.RWMutex
	clients map[*Transport]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[*Transport]struct{})}
}

// Connect creates a new connected client of the broker.
func (b *Broker) Connect() *Transport {
	t := &Transport{
		id:        uuid.NewString(),
		broker:    b,
		connected: true,
		subs:      make(map[string]transport.QoS),
		subCalls:  make(map[string]int),
		unsubCall: make(map[string]int),
		inbound:   transport.NewInbound(),
	}
	b.mu.Lock()
	b.clients[t] = struct{}{}
	b.mu.Unlock()
	return t
}

// Publish injects a message as if a connected peer had published it. It
// returns the number of clients the message was delivered to.
func (b *Broker) Publish(topicName string, payload []byte) int {
	b.mu.RLock()
	clients := make([]*Transport, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.deliver(topicName, payload) {
			delivered++
		}
	}
	return delivered
}

func (b *Broker) remove(t *Transport) {
	b.mu.Lock()
	delete(b.clients, t)
	b.mu.Unlock()
}

// SubscribeHook runs before a subscribe is applied. Returning an error fails
// the subscribe with that error. The hook may block.
type SubscribeHook func(ctx context.Context, filter string) error

// Transport is a single client of a Broker.
type Transport struct {
	id     string
	broker *Broker

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[string]transport.QoS
	subCalls  map[string]int
	unsubCall map[string]int
	published []Message
	hook      SubscribeHook

	inbound *transport.Inbound
}

// Message is a publish recorded by a Transport.
type Message struct {
	Topic   string
	Payload []byte
	QoS     transport.QoS
}

// ID returns the client identifier.
func (t *Transport) ID() string { return t.id }

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topicName string, payload []byte, qos transport.QoS) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := topic.ValidateName(topicName); err != nil {
		return err
	}
	if err := t.usable(); err != nil {
		return err
	}

	t.mu.Lock()
	t.published = append(t.published, Message{Topic: topicName, Payload: append([]byte(nil), payload...), QoS: qos})
	t.mu.Unlock()

	t.broker.Publish(topicName, payload)
	return nil
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(ctx context.Context, filter string, qos transport.QoS) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}

	t.mu.Lock()
	t.subCalls[filter]++
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, filter); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return err
	}
	t.subs[filter] = qos
	return nil
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, filter string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubCall[filter]++
	if err := t.usableLocked(); err != nil {
		return err
	}
	delete(t.subs, filter)
	return nil
}

// Attach implements transport.Transport.
func (t *Transport) Attach(h transport.Handler) (func(), error) {
	return t.inbound.Attach(h)
}

// Drop simulates an unexpected connection loss. Subscriptions are discarded,
// as with a clean session.
func (t *Transport) Drop() {
	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.subs = make(map[string]transport.QoS)
	t.mu.Unlock()

	t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: ErrConnectionLost})
}

// Restore re-establishes a dropped connection.
func (t *Transport) Restore() {
	t.mu.Lock()
	if t.connected || t.closed {
		t.mu.Unlock()
		return
	}
	t.connected = true
	t.mu.Unlock()

	t.inbound.Connectivity(transport.Connectivity{State: transport.Up})
}

// Close disconnects the client from its broker and stops delivery.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.subs = nil
	t.mu.Unlock()

	t.broker.remove(t)
	t.inbound.Close()
	return nil
}

// SetSubscribeHook installs a hook consulted by every subsequent Subscribe.
// Pass nil to remove it.
func (t *Transport) SetSubscribeHook(h SubscribeHook) {
	t.mu.Lock()
	t.hook = h
	t.mu.Unlock()
}

// Subscriptions returns the currently active filters, sorted.
func (t *Transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for f := range t.subs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SubscribeCalls returns how many times Subscribe was called for filter.
func (t *Transport) SubscribeCalls(filter string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subCalls[filter]
}

// UnsubscribeCalls returns how many times Unsubscribe was called for filter.
func (t *Transport) UnsubscribeCalls(filter string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsubCall[filter]
}

// Published returns a copy of every message published through this client.
func (t *Transport) Published() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}

func (t *Transport) deliver(topicName string, payload []byte) bool {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return false
	}
	matched := false
	for f := range t.subs {
		if topic.Match(f, topicName) {
			matched = true
			break
		}
	}
	t.mu.Unlock()

	if matched {
		t.inbound.Publish(topicName, payload)
	}
	return matched
}

func (t *Transport) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usableLocked()
}

func (t *Transport) usableLocked() error {
	if t.closed {
		return transport.ErrClosed
	}
	if !t.connected {
		return transport.ErrNotConnected
	}
	return nil
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)

// Connected implements transport.StateReporter.
func (t *Transport) Connected() bool {
	return t.usable() == nil
}

var _ transport.StateReporter = (*Transport)(nil)
