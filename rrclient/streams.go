package rrclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/ggoodman/iot-device-sdk-go/internal/logctx"
	"github.com/ggoodman/iot-device-sdk-go/internal/topic"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// StreamStatus is the lifecycle state of a streaming operation.
//
//	Establishing -> Established <-> Lost
//	any -> Halted (only through Close)
type StreamStatus int32

const (
	StatusEstablishing StreamStatus = iota + 1
	StatusEstablished
	StatusLost
	StatusHalted
)

// String implements fmt.Stringer.
func (s StreamStatus) String() string {
	switch s {
	case StatusEstablishing:
		return "establishing"
	case StatusEstablished:
		return "established"
	case StatusLost:
		return "lost"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// StatusEvent is delivered to a stream's status handler on every transition.
type StatusEvent struct {
	Status StreamStatus
	// Err is the cause of a Lost transition, when known.
	Err error
}

// Publish is an inbound message delivered to a stream. Payload is shared with
// other consumers of the same message and must not be modified.
type Publish struct {
	Topic   string
	Payload []byte
}

// StreamOptions configures OpenStream.
type StreamOptions struct {
	Filter string
	QoS    transport.QoS

	// OnEvent is called for every publish matching Filter while the stream is
	// open. Required.
	OnEvent func(ctx context.Context, msg Publish)
	// OnStatus is called on every lifecycle transition. Optional.
	OnStatus func(ctx context.Context, ev StatusEvent)
}

// Stream is an open streaming operation. Handlers run on the client's event
// loop, one at a time; they must not block. The context they receive may be
// passed to OpenStream, Stream.Close or Client.Close from inside a handler;
// those calls then return without waiting for the loop.
type Stream struct {
	c       *Client
	opts    StreamOptions
	status  atomic.Int32
	closing atomic.Bool
	done    chan struct{}

	// Owned by the loop goroutine.
	id     uint64
	ctx    context.Context
	handle subscriptionHandle
	halted bool
}

// OpenStream subscribes to opts.Filter and starts delivering events. It
// returns once the stream is registered; the subscription itself completes in
// the background, reported through OnStatus.
//
// Called with a handler's context, OpenStream registers the stream after that
// handler returns. A registration failure is then reported as a Halted status
// carrying the error.
func (c *Client) OpenStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	if err := topic.ValidateFilter(opts.Filter); err != nil {
		return nil, streamError(KindInvalidRequest, opts.Filter, err)
	}
	if opts.QoS > transport.AtLeastOnce {
		return nil, streamError(KindInvalidRequest, opts.Filter, fmt.Errorf("unsupported qos %d", opts.QoS))
	}
	if opts.OnEvent == nil {
		return nil, streamError(KindInvalidRequest, opts.Filter, errors.New("missing event handler"))
	}
	if c.closed.Load() {
		return nil, streamError(KindClosed, opts.Filter, nil)
	}

	s := &Stream{c: c, opts: opts, done: make(chan struct{})}

	if c.inHandler(ctx) {
		if !c.post(func() { c.openDeferred(s) }) {
			return nil, streamError(KindClosed, opts.Filter, nil)
		}
		return s, nil
	}

	errc := make(chan error, 1)
	if !c.post(func() { errc <- c.openStream(s) }) {
		return nil, streamError(KindClosed, opts.Filter, nil)
	}

	select {
	case err := <-errc:
		if err != nil {
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		// Registration may still happen; make sure it does not outlive us.
		c.post(func() { c.haltStream(s) })
		return nil, streamError(ctxKind(ctx.Err()), opts.Filter, ctx.Err())
	case <-c.box.Done():
		return nil, streamError(KindClosed, opts.Filter, nil)
	}
}

func (c *Client) openStream(s *Stream) error {
	filter := s.opts.Filter
	if c.shut || s.halted || s.closing.Load() {
		return streamError(KindClosed, filter, nil)
	}
	if !c.subs.holds(filter, consumerStream) && c.subs.heldBy(consumerStream) >= c.cfg.MaxStreamingSubscriptions {
		return streamError(KindCapacity, filter,
			fmt.Errorf("limit of %d streaming filters reached", c.cfg.MaxStreamingSubscriptions))
	}

	c.nextID++
	s.id = c.nextID
	s.ctx = logctx.WithStreamData(c.loopCtx, &logctx.StreamData{ID: s.id, Filter: filter})
	c.streams[s.id] = s
	c.metrics.streamOpened()

	c.log.DebugContext(s.ctx, "stream.open")
	c.setStreamStatus(s, StatusEstablishing, nil)

	s.handle = c.acquire(filter, s.opts.QoS, &consumer{
		kind:      consumerStream,
		onPublish: func(topicName string, payload []byte) { c.onStreamPublish(s, topicName, payload) },
		onStatus:  func(ev subEvent, err error) { c.onStreamStatus(s, ev, err) },
	})
	if c.subscribed(s.handle) {
		c.setStreamStatus(s, StatusEstablished, nil)
	}
	return nil
}

// openDeferred registers a stream opened from a handler.
func (c *Client) openDeferred(s *Stream) {
	err := c.openStream(s)
	if err == nil {
		return
	}
	c.log.WarnContext(c.loopCtx, "stream.open.fail", slog.String("filter", s.opts.Filter), slog.String("err", err.Error()))
	c.haltStream(s)
	if s.opts.OnStatus != nil {
		c.callout(c.loopCtx, "status", func(ctx context.Context) {
			s.opts.OnStatus(ctx, StatusEvent{Status: StatusHalted, Err: err})
		})
	}
}

func (c *Client) onStreamStatus(s *Stream, ev subEvent, err error) {
	if s.halted || s.closing.Load() {
		return
	}
	switch ev {
	case subEventSubscribed:
		c.setStreamStatus(s, StatusEstablished, nil)
	case subEventFailed, subEventLost:
		c.setStreamStatus(s, StatusLost, err)
	}
}

func (c *Client) onStreamPublish(s *Stream, topicName string, payload []byte) {
	if s.halted || s.closing.Load() {
		return
	}
	ok := c.callout(s.ctx, "event", func(ctx context.Context) {
		s.opts.OnEvent(ctx, Publish{Topic: topicName, Payload: payload})
	})
	if ok {
		c.metrics.streamEvent("delivered")
	} else {
		c.metrics.streamEvent("panic")
	}
}

func (c *Client) setStreamStatus(s *Stream, st StreamStatus, err error) {
	if StreamStatus(s.status.Load()) == st {
		return
	}
	s.status.Store(int32(st))

	if st == StatusLost && err != nil {
		c.log.InfoContext(s.ctx, "stream.status", slog.String("status", st.String()), slog.String("err", err.Error()))
	} else {
		c.log.DebugContext(s.ctx, "stream.status", slog.String("status", st.String()))
	}

	if s.opts.OnStatus == nil {
		return
	}
	c.callout(s.ctx, "status", func(ctx context.Context) {
		s.opts.OnStatus(ctx, StatusEvent{Status: st, Err: err})
	})
}

// haltStream moves s to Halted and releases its subscription. Safe to call
// more than once, and before the stream was registered.
func (c *Client) haltStream(s *Stream) {
	if s.halted {
		return
	}
	s.halted = true

	if s.id != 0 {
		c.release(s.handle)
		delete(c.streams, s.id)
		c.metrics.streamHalted()
		c.setStreamStatus(s, StatusHalted, nil)
	} else {
		s.status.Store(int32(StatusHalted))
	}
	close(s.done)
}

func (c *Client) streamsInOrder() []*Stream {
	out := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Filter returns the stream's topic filter.
func (s *Stream) Filter() string { return s.opts.Filter }

// Status returns the most recent lifecycle state.
func (s *Stream) Status() StreamStatus { return StreamStatus(s.status.Load()) }

// Done is closed once the stream is halted.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close halts the stream and releases its subscription. Once it returns, no
// event handler of this stream starts again. The final Halted status has been
// delivered by then, unless Close was called with a handler's context, in
// which case it follows once that handler returns.
func (s *Stream) Close(ctx context.Context) error {
	c := s.c
	s.closing.Store(true)

	// If the loop is gone, shutdown already halted every stream.
	c.post(func() { c.haltStream(s) })
	if c.inHandler(ctx) {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
