package rrclient

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/iot-device-sdk-go/internal/logctx"
	"github.com/ggoodman/iot-device-sdk-go/internal/mailbox"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Client correlates requests with responses and manages streaming operations
// on top of a transport.Transport.
//
// All bookkeeping is owned by a single goroutine that drains the client's
// mailbox. Public methods, transport callbacks, timers and I/O completions only
// post work to it, so none of the tables below are guarded by locks.
type Client struct {
	t       transport.Transport
	probe   transport.StateReporter
	cfg     Config
	log     *slog.Logger
	metrics *clientMetrics

	box      *mailbox.Mailbox[func()]
	detach   func()
	loopCtx  context.Context
	closed   atomic.Bool
	stopOnce sync.Once

	// Owned by the loop goroutine.
	shut      bool
	connected bool
	nextID    uint64
	subs      subscriptionTable
	requests  map[uint64]*pendingRequest
	byToken   map[string]*pendingRequest
	queue     []*pendingRequest
	streams   map[uint64]*Stream
}

type calloutKey struct{}

// calloutMark identifies the context handed to one handler invocation. It is
// active only while that invocation runs.
type calloutMark struct {
	c      *Client
	active atomic.Bool
}

// New creates a client bound to t and starts its event loop. The client
// attaches itself as t's inbound handler; a transport can serve only one
// client at a time.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	cc := clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cc)
	}

	m, err := newClientMetrics(cc.registry)
	if err != nil {
		return nil, fmt.Errorf("register rrclient metrics: %w", err)
	}

	c := &Client{
		t:        t,
		cfg:      cc.cfg.withDefaults(),
		log:      slog.New(logctx.Handler{Handler: cc.logger.Handler()}),
		metrics:  m,
		box:      mailbox.New[func()](),
		subs:     newSubscriptionTable(),
		requests: make(map[uint64]*pendingRequest),
		byToken:  make(map[string]*pendingRequest),
		streams:  make(map[uint64]*Stream),
	}
	c.loopCtx = context.Background()

	if p, ok := t.(transport.StateReporter); ok {
		c.probe = p
		c.connected = p.Connected()
	}
	c.metrics.setConnected(c.connected)

	detach, err := t.Attach(inboundHandler{c: c})
	if err != nil {
		return nil, fmt.Errorf("attach to transport: %w", err)
	}
	c.detach = detach

	go c.box.Run(c.runOne)

	return c, nil
}

// Close fails every pending request with KindClosed, halts every stream and
// detaches from the transport. It waits for the event loop to exit or for ctx
// to end. Close may be called from a stream handler with the handler's
// context; it then returns at once and the shutdown runs after the handler.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.CompareAndSwap(false, true) {
		c.post(func() {
			c.shutdown()
			c.stop()
		})
	}
	if c.inHandler(ctx) {
		return nil
	}

	select {
	case <-c.box.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) stop() {
	c.stopOnce.Do(func() {
		c.detach()
		c.box.Close()
	})
}

func (c *Client) post(fn func()) bool {
	return c.box.Post(fn)
}

func (c *Client) runOne(fn func()) {
	fn()
}

// inHandler reports whether ctx belongs to a handler invocation that has not
// returned yet. Such a caller may be the loop itself, so it must not wait for
// work it posts.
func (c *Client) inHandler(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	m, ok := ctx.Value(calloutKey{}).(*calloutMark)
	return ok && m.c == c && m.active.Load()
}

// callout runs a user handler on the loop, recovering panics. fn receives a
// context marked as belonging to this invocation.
func (c *Client) callout(ctx context.Context, what string, fn func(ctx context.Context)) (ok bool) {
	m := &calloutMark{c: c}
	m.active.Store(true)
	hctx := context.WithValue(ctx, calloutKey{}, m)
	defer func() {
		m.active.Store(false)
		if r := recover(); r != nil {
			c.log.ErrorContext(ctx, "engine.handler.panic", slog.String("handler", what), slog.Any("panic", r))
			ok = false
		}
	}()
	fn(hctx)
	return true
}

// isConnected consults the transport when the loop believes it is down, so
// that work submitted right after a connect does not race the Up event.
func (c *Client) isConnected() bool {
	if c.connected {
		return true
	}
	if c.probe != nil && c.probe.Connected() {
		c.connected = true
		c.metrics.setConnected(true)
	}
	return c.connected
}

func (c *Client) shutdown() {
	if c.shut {
		return
	}
	c.shut = true

	for _, p := range c.pendingInOrder() {
		c.resolve(p, nil, requestError(KindClosed, p.req.PublishTopic, nil))
	}
	for _, s := range c.streamsInOrder() {
		c.haltStream(s)
	}

	c.log.DebugContext(c.loopCtx, "engine.shutdown")
}

func (c *Client) handleConnectivity(ev transport.Connectivity) {
	if c.shut {
		return
	}
	switch ev.State {
	case transport.Down:
		c.log.InfoContext(c.loopCtx, "engine.connection.down", slog.Any("err", ev.Err))
		c.connected = false
		c.metrics.setConnected(false)
		c.subscriptionsLost(ev.Err)
		for _, p := range slices.Clone(c.queue) {
			c.resolve(p, nil, requestError(KindTransport, p.req.PublishTopic, transport.ErrNotConnected))
		}
	case transport.Up:
		c.log.InfoContext(c.loopCtx, "engine.connection.up", slog.Bool("session_present", ev.SessionPresent))
		c.connected = true
		c.metrics.setConnected(true)
		c.resubscribeAll()
		c.drainQueue()
	}
}

type inboundHandler struct {
	c *Client
}

func (h inboundHandler) HandlePublish(topic string, payload []byte) {
	h.c.post(func() {
		if h.c.shut {
			return
		}
		h.c.dispatch(topic, payload)
	})
}

func (h inboundHandler) HandleConnectivity(ev transport.Connectivity) {
	h.c.post(func() { h.c.handleConnectivity(ev) })
}

var _ transport.Handler = inboundHandler{}
