package rrclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/ggoodman/iot-device-sdk-go/internal/jsonpath"
	"github.com/ggoodman/iot-device-sdk-go/internal/logctx"
	"github.com/ggoodman/iot-device-sdk-go/internal/topic"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Outcome tells which kind of response path resolved a request.
type Outcome int

const (
	// Accepted marks a success path.
	Accepted Outcome = iota + 1
	// Rejected marks a failure path: the service answered with a modeled
	// error document.
	Rejected
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ResponsePath is a topic on which a response to a request may arrive.
type ResponsePath struct {
	// Topic is the exact topic name, without wildcards.
	Topic string
	// CorrelationTokenPath is a dotted JSON path (for example "clientToken")
	// naming the field that must equal the request's correlation token. Empty
	// means any publish on Topic answers the request.
	CorrelationTokenPath string
	// Outcome classifies a response arriving on this path.
	Outcome Outcome
}

// Request describes one request/response exchange.
type Request struct {
	PublishTopic string
	Payload      []byte
	QoS          transport.QoS

	// SubscriptionFilters are subscribed before publishing. Empty means the
	// distinct topics of ResponsePaths.
	SubscriptionFilters []string

	// ResponsePaths are checked in order against every inbound publish.
	ResponsePaths []ResponsePath

	// CorrelationToken identifies the response when ResponsePaths declare a
	// token path. Empty means responses are matched by topic alone, and such
	// requests with overlapping response topics are run one at a time.
	CorrelationToken string

	// Timeout overrides Config.OperationTimeout. A deadline on the submit
	// context still applies.
	Timeout time.Duration
}

// Response is the publish that resolved a request.
type Response struct {
	Topic            string
	Payload          []byte
	Outcome          Outcome
	CorrelationToken string
}

// Future is the eventual result of a submitted request.
type Future struct {
	topic string
	done  chan struct{}
	resp  *Response
	err   error
}

func newFuture(topic string) *Future {
	return &Future{topic: topic, done: make(chan struct{})}
}

// Done is closed once the request resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the request resolves or ctx ends. It must not be called
// from a stream handler, since the handler blocks the loop resolving it.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	default:
	}
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, requestError(ctxKind(ctx.Err()), f.topic, ctx.Err())
	}
}

func (f *Future) complete(resp *Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

type requestState int

const (
	reqQueued requestState = iota
	reqSubscribing
	reqPublishing
	reqAwaiting
	reqDone
)

type pendingRequest struct {
	id      uint64
	req     Request
	filters []string
	ctx     context.Context
	future  *Future

	state    requestState
	handles  []subscriptionHandle
	started  time.Time
	deadline time.Time
	timer    *time.Timer
	stopCtx  func() bool
}

// Submit starts a request and returns immediately. The returned future
// resolves exactly once: with the response, or with an *Error.
func (c *Client) Submit(ctx context.Context, req Request) *Future {
	f := newFuture(req.PublishTopic)

	req, filters, err := normalizeRequest(req)
	if err != nil {
		f.complete(nil, requestError(KindInvalidRequest, req.PublishTopic, err))
		return f
	}
	if c.closed.Load() {
		f.complete(nil, requestError(KindClosed, req.PublishTopic, nil))
		return f
	}
	if err := ctx.Err(); err != nil {
		f.complete(nil, requestError(ctxKind(err), req.PublishTopic, err))
		return f
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.OperationTimeout
	}
	now := time.Now()
	p := &pendingRequest{
		req:      req,
		filters:  filters,
		ctx:      ctx,
		future:   f,
		started:  now,
		deadline: now.Add(timeout),
	}

	if !c.post(func() { c.startRequest(p) }) {
		f.complete(nil, requestError(KindClosed, req.PublishTopic, nil))
	}
	return f
}

func normalizeRequest(req Request) (Request, []string, error) {
	if err := topic.ValidateName(req.PublishTopic); err != nil {
		return req, nil, fmt.Errorf("publish topic: %w", err)
	}
	if req.QoS > transport.AtLeastOnce {
		return req, nil, fmt.Errorf("unsupported qos %d", req.QoS)
	}
	if len(req.ResponsePaths) == 0 {
		return req, nil, errors.New("no response paths")
	}

	req.ResponsePaths = slices.Clone(req.ResponsePaths)
	var topics []string
	for i, path := range req.ResponsePaths {
		if err := topic.ValidateName(path.Topic); err != nil {
			return req, nil, fmt.Errorf("response path %d: %w", i, err)
		}
		if path.CorrelationTokenPath != "" && req.CorrelationToken == "" {
			return req, nil, fmt.Errorf("response path %d declares a token path but the request has no correlation token", i)
		}
		if path.Outcome != Accepted && path.Outcome != Rejected {
			req.ResponsePaths[i].Outcome = Accepted
		}
		if !slices.Contains(topics, path.Topic) {
			topics = append(topics, path.Topic)
		}
	}

	filters := topics
	if len(req.SubscriptionFilters) > 0 {
		filters = nil
		for _, f := range req.SubscriptionFilters {
			if err := topic.ValidateFilter(f); err != nil {
				return req, nil, fmt.Errorf("subscription filter %q: %w", f, err)
			}
			if !slices.Contains(filters, f) {
				filters = append(filters, f)
			}
		}
		for _, t := range topics {
			if !slices.ContainsFunc(filters, func(f string) bool { return topic.Match(f, t) }) {
				return req, nil, fmt.Errorf("response topic %q is not covered by any subscription filter", t)
			}
		}
	}
	req.SubscriptionFilters = filters

	return req, filters, nil
}

func (c *Client) startRequest(p *pendingRequest) {
	topicName := p.req.PublishTopic
	if c.shut {
		p.future.complete(nil, requestError(KindClosed, topicName, nil))
		return
	}
	if p.req.CorrelationToken != "" {
		if _, dup := c.byToken[p.req.CorrelationToken]; dup {
			p.future.complete(nil, requestError(KindDuplicateToken, topicName, nil))
			return
		}
	}
	if len(p.filters) > c.cfg.MaxRequestResponseSubscriptions {
		p.future.complete(nil, requestError(KindCapacity, topicName,
			fmt.Errorf("request needs %d filters, limit is %d", len(p.filters), c.cfg.MaxRequestResponseSubscriptions)))
		return
	}
	if !c.isConnected() {
		p.future.complete(nil, requestError(KindTransport, topicName, transport.ErrNotConnected))
		return
	}

	c.nextID++
	p.id = c.nextID
	p.ctx = logctx.WithRequestData(p.ctx, &logctx.RequestData{
		ID:               p.id,
		PublishTopic:     topicName,
		CorrelationToken: p.req.CorrelationToken,
	})

	c.requests[p.id] = p
	if p.req.CorrelationToken != "" {
		c.byToken[p.req.CorrelationToken] = p
	}
	c.metrics.requestStarted()

	p.timer = time.AfterFunc(time.Until(p.deadline), func() {
		c.post(func() {
			c.resolve(p, nil, requestError(KindTimeout, topicName, nil))
		})
	})
	ctx := p.ctx
	p.stopCtx = context.AfterFunc(ctx, func() {
		c.post(func() {
			c.resolve(p, nil, requestError(ctxKind(ctx.Err()), topicName, ctx.Err()))
		})
	})

	if c.blocked(p, len(c.queue)) {
		p.state = reqQueued
		c.queue = append(c.queue, p)
		c.log.DebugContext(p.ctx, "request.queued", slog.Int("queue_len", len(c.queue)))
		return
	}
	c.activate(p)
}

// blocked reports whether p has to wait: it conflicts with an active request
// or with one of the first n queued requests, or its filters do not fit.
func (c *Client) blocked(p *pendingRequest, n int) bool {
	for _, q := range c.queue[:n] {
		if q != p && conflicts(p, q) {
			return true
		}
	}
	for _, q := range c.requests {
		if q != p && q.state != reqQueued && q.state != reqDone && conflicts(p, q) {
			return true
		}
	}

	needed := 0
	for _, f := range p.filters {
		if !c.subs.holds(f, consumerRequest) {
			needed++
		}
	}
	return needed > 0 && c.subs.heldBy(consumerRequest)+needed > c.cfg.MaxRequestResponseSubscriptions
}

// conflicts reports whether a response to one request could be mistaken for
// a response to the other. Only requests without a correlation token are
// ambiguous.
func conflicts(a, b *pendingRequest) bool {
	if a.req.CorrelationToken != "" || b.req.CorrelationToken != "" {
		return false
	}
	for _, pa := range a.req.ResponsePaths {
		for _, pb := range b.req.ResponsePaths {
			if pa.Topic == pb.Topic {
				return true
			}
		}
	}
	return false
}

// drainQueue activates queued requests, oldest first, that no longer have to
// wait.
func (c *Client) drainQueue() {
	if c.shut || !c.connected {
		return
	}
	for i := 0; i < len(c.queue); {
		p := c.queue[i]
		if c.blocked(p, i) {
			i++
			continue
		}
		c.queue = slices.Delete(c.queue, i, i+1)
		c.log.DebugContext(p.ctx, "request.dequeued")
		c.activate(p)
	}
}

func (c *Client) activate(p *pendingRequest) {
	p.state = reqSubscribing
	p.handles = make([]subscriptionHandle, 0, len(p.filters))
	for _, f := range p.filters {
		cons := &consumer{
			kind:      consumerRequest,
			onPublish: func(topicName string, payload []byte) { c.onRequestPublish(p, topicName, payload) },
			onStatus:  func(ev subEvent, err error) { c.onRequestStatus(p, ev, err) },
		}
		p.handles = append(p.handles, c.acquire(f, p.req.QoS, cons))
	}
	c.maybePublish(p)
}

func (c *Client) onRequestStatus(p *pendingRequest, ev subEvent, err error) {
	if p.state == reqDone {
		return
	}
	switch ev {
	case subEventSubscribed:
		c.maybePublish(p)
	case subEventFailed:
		c.resolve(p, nil, requestError(KindTransport, p.req.PublishTopic, fmt.Errorf("subscribe: %w", err)))
	case subEventLost:
		if err == nil {
			err = transport.ErrNotConnected
		}
		c.resolve(p, nil, requestError(KindTransport, p.req.PublishTopic, err))
	}
}

// maybePublish sends the request once every filter is acknowledged.
func (c *Client) maybePublish(p *pendingRequest) {
	if p.state != reqSubscribing {
		return
	}
	for _, h := range p.handles {
		if !c.subscribed(h) {
			return
		}
	}
	p.state = reqPublishing

	topicName, payload, qos, deadline := p.req.PublishTopic, p.req.Payload, p.req.QoS, p.deadline
	go func() {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		err := c.t.Publish(ctx, topicName, payload, qos)
		c.post(func() { c.onRequestPublished(p, err) })
	}()
}

func (c *Client) onRequestPublished(p *pendingRequest, err error) {
	if p.state == reqDone {
		return
	}
	if err != nil {
		// The publish runs under the request deadline and may report it
		// before the timer does.
		if errors.Is(err, context.DeadlineExceeded) && !time.Now().Before(p.deadline) {
			c.resolve(p, nil, requestError(KindTimeout, p.req.PublishTopic, nil))
			return
		}
		c.resolve(p, nil, requestError(KindTransport, p.req.PublishTopic, fmt.Errorf("publish: %w", err)))
		return
	}
	if p.state == reqPublishing {
		p.state = reqAwaiting
	}
	c.log.DebugContext(p.ctx, "request.published")
}

// onRequestPublish matches an inbound publish against p's response paths.
func (c *Client) onRequestPublish(p *pendingRequest, topicName string, payload []byte) {
	// A fast responder may answer before the publish call returns.
	if p.state != reqPublishing && p.state != reqAwaiting {
		return
	}

	for _, path := range p.req.ResponsePaths {
		if path.Topic != topicName {
			continue
		}
		if path.CorrelationTokenPath != "" {
			token, err := jsonpath.ExtractString(payload, path.CorrelationTokenPath)
			if err != nil {
				c.resolve(p, nil, requestError(KindParse, p.req.PublishTopic,
					fmt.Errorf("extract %q from %s: %w", path.CorrelationTokenPath, topicName, err)))
				return
			}
			if token != p.req.CorrelationToken {
				return
			}
		}
		c.resolve(p, &Response{
			Topic:            topicName,
			Payload:          payload,
			Outcome:          path.Outcome,
			CorrelationToken: p.req.CorrelationToken,
		}, nil)
		return
	}

	// Not one of our paths. If it carries our token the service answered on a
	// topic we did not expect; otherwise it belongs to somebody else.
	if p.req.CorrelationToken == "" {
		return
	}
	for _, path := range p.req.ResponsePaths {
		if path.CorrelationTokenPath == "" {
			continue
		}
		if token, err := jsonpath.ExtractString(payload, path.CorrelationTokenPath); err == nil && token == p.req.CorrelationToken {
			c.resolve(p, nil, requestError(KindInvalidResponsePath, p.req.PublishTopic,
				fmt.Errorf("response on %s", topicName)))
		}
		return
	}
}

// resolve completes p exactly once and releases everything it holds.
func (c *Client) resolve(p *pendingRequest, resp *Response, err error) {
	if p.state == reqDone {
		return
	}
	wasQueued := p.state == reqQueued
	p.state = reqDone

	if p.timer != nil {
		p.timer.Stop()
	}
	if p.stopCtx != nil {
		p.stopCtx()
	}
	for _, h := range p.handles {
		c.release(h)
	}
	p.handles = nil

	delete(c.requests, p.id)
	if tok := p.req.CorrelationToken; tok != "" && c.byToken[tok] == p {
		delete(c.byToken, tok)
	}
	if wasQueued {
		if i := slices.Index(c.queue, p); i >= 0 {
			c.queue = slices.Delete(c.queue, i, i+1)
		}
	}

	elapsed := time.Since(p.started)
	c.metrics.requestResolved(resp, err, elapsed)
	if err != nil {
		c.log.DebugContext(p.ctx, "request.fail", slog.String("err", err.Error()), slog.Duration("elapsed", elapsed))
	} else {
		c.log.DebugContext(p.ctx, "request.ok", slog.String("outcome", resp.Outcome.String()), slog.Duration("elapsed", elapsed))
	}

	p.future.complete(resp, err)

	c.drainQueue()
}

func (c *Client) pendingInOrder() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(c.requests))
	for _, p := range c.requests {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func ctxKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCanceled
}
