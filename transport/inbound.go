package transport

import (
	"sync"

	"github.com/ggoodman/iot-device-sdk-go/internal/mailbox"
)

// Inbound serializes inbound traffic onto a single goroutine and forwards it to
// the attached Handler. Bindings use it to satisfy the ordering guarantee of
// the Transport contract regardless of how their client library calls back.
//
// The zero value is not usable; create one with NewInbound.
type Inbound struct {
	mu      sync.Mutex
	handler Handler
	gen     uint64

	box *mailbox.Mailbox[inboundEvent]
}

type inboundEvent struct {
	topic        string
	payload      []byte
	connectivity *Connectivity
}

// NewInbound starts the delivery goroutine. Call Close to stop it.
func NewInbound() *Inbound {
	in := &Inbound{box: mailbox.New[inboundEvent]()}
	go in.box.Run(in.deliver)
	return in
}

// Attach implements the Attach half of Transport.
func (in *Inbound) Attach(h Handler) (func(), error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.handler != nil {
		return nil, ErrAlreadyAttached
	}
	in.handler = h
	in.gen++
	gen := in.gen

	var once sync.Once
	return func() {
		once.Do(func() {
			in.mu.Lock()
			if in.gen == gen {
				in.handler = nil
			}
			in.mu.Unlock()
		})
	}, nil
}

// Publish queues an inbound publish. The payload is copied.
func (in *Inbound) Publish(topic string, payload []byte) {
	in.box.Post(inboundEvent{topic: topic, payload: append([]byte(nil), payload...)})
}

// Connectivity queues a connection state change.
func (in *Inbound) Connectivity(ev Connectivity) {
	in.box.Post(inboundEvent{connectivity: &ev})
}

// Close stops delivery once queued events have been drained.
func (in *Inbound) Close() {
	in.box.Close()
}

// Done is closed once the delivery goroutine has exited.
func (in *Inbound) Done() <-chan struct{} { return in.box.Done() }

func (in *Inbound) deliver(ev inboundEvent) {
	in.mu.Lock()
	h := in.handler
	in.mu.Unlock()
	if h == nil {
		return
	}
	if ev.connectivity != nil {
		h.HandleConnectivity(*ev.connectivity)
		return
	}
	h.HandlePublish(ev.topic, ev.payload)
}
