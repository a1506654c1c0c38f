package rrclient

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/ggoodman/iot-device-sdk-go/internal/logctx"
	"github.com/ggoodman/iot-device-sdk-go/internal/topic"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

type subState int

const (
	subUnsubscribed subState = iota
	subSubscribing
	subSubscribed
	subUnsubscribing
)

func (s subState) String() string {
	switch s {
	case subUnsubscribed:
		return "unsubscribed"
	case subSubscribing:
		return "subscribing"
	case subSubscribed:
		return "subscribed"
	case subUnsubscribing:
		return "unsubscribing"
	default:
		return "unknown"
	}
}

type consumerKind int

const (
	consumerRequest consumerKind = iota
	consumerStream
)

type subEvent int

const (
	// subEventSubscribed: the broker acknowledged the subscription.
	subEventSubscribed subEvent = iota
	// subEventFailed: the subscribe call failed or was rejected.
	subEventFailed
	// subEventLost: the connection dropped; the subscription is gone.
	subEventLost
)

// consumer is one party interested in a topic filter. A request holds one
// consumer per filter it needs; a stream holds exactly one.
type consumer struct {
	kind      consumerKind
	onPublish func(topic string, payload []byte)
	onStatus  func(ev subEvent, err error)
	released  bool
}

// subRecord tracks one topic filter. Its refcount is len(consumers).
type subRecord struct {
	filter    string
	qos       transport.QoS
	gen       uint64
	live      bool
	state     subState
	attempt   uint64
	consumers []*consumer
}

// subscriptionHandle is what an operation holds for a filter it acquired.
// Releasing a handle whose record has since been recycled is a no-op.
type subscriptionHandle struct {
	slot     int
	gen      uint64
	consumer *consumer
}

// subscriptionTable is an arena of records indexed by filter. Slots are reused;
// the generation counter tells live handles from stale ones.
type subscriptionTable struct {
	records  []subRecord
	free     []int
	byFilter map[string]int
	nextGen  uint64
}

func newSubscriptionTable() subscriptionTable {
	return subscriptionTable{byFilter: make(map[string]int)}
}

func (t *subscriptionTable) alloc(filter string, qos transport.QoS) int {
	t.nextGen++
	rec := subRecord{filter: filter, qos: qos, gen: t.nextGen, live: true}

	var slot int
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
		t.records[slot] = rec
	} else {
		slot = len(t.records)
		t.records = append(t.records, rec)
	}
	t.byFilter[filter] = slot
	return slot
}

func (t *subscriptionTable) release(slot int) {
	rec := &t.records[slot]
	delete(t.byFilter, rec.filter)
	*rec = subRecord{}
	t.free = append(t.free, slot)
}

// get returns the live record at slot if its generation matches.
func (t *subscriptionTable) get(slot int, gen uint64) *subRecord {
	if slot < 0 || slot >= len(t.records) {
		return nil
	}
	rec := &t.records[slot]
	if !rec.live || rec.gen != gen {
		return nil
	}
	return rec
}

func (t *subscriptionTable) size() int {
	return len(t.byFilter)
}

// heldBy counts filters with at least one consumer of the given kind.
func (t *subscriptionTable) heldBy(kind consumerKind) int {
	n := 0
	for i := range t.records {
		if t.records[i].live && hasKind(t.records[i].consumers, kind) {
			n++
		}
	}
	return n
}

// holds reports whether filter already has a consumer of the given kind.
func (t *subscriptionTable) holds(filter string, kind consumerKind) bool {
	slot, ok := t.byFilter[filter]
	return ok && hasKind(t.records[slot].consumers, kind)
}

func hasKind(cs []*consumer, kind consumerKind) bool {
	for _, c := range cs {
		if c.kind == kind {
			return true
		}
	}
	return false
}

// acquire registers cons for filter, subscribing on the first reference. The
// consumer is told about the outcome through onStatus; callers check
// subscribed for records that were already active.
func (c *Client) acquire(filter string, qos transport.QoS, cons *consumer) subscriptionHandle {
	slot, ok := c.subs.byFilter[filter]
	if !ok {
		slot = c.subs.alloc(filter, qos)
		c.metrics.setSubscriptions(c.subs.size())
	}
	rec := &c.subs.records[slot]
	rec.consumers = append(rec.consumers, cons)

	c.log.DebugContext(c.subCtx(rec), "subscriptions.acquire", slog.String("state", rec.state.String()))

	if rec.state == subUnsubscribed && c.isConnected() {
		c.subscribe(slot)
	}
	// Unsubscribing records resubscribe once the unsubscribe completes.

	return subscriptionHandle{slot: slot, gen: rec.gen, consumer: cons}
}

// subscribed reports whether h's filter is currently acknowledged.
func (c *Client) subscribed(h subscriptionHandle) bool {
	rec := c.subs.get(h.slot, h.gen)
	return rec != nil && rec.state == subSubscribed
}

// release drops h's reference. The last release unsubscribes.
func (c *Client) release(h subscriptionHandle) {
	if h.consumer == nil || h.consumer.released {
		return
	}
	h.consumer.released = true

	rec := c.subs.get(h.slot, h.gen)
	if rec == nil {
		return
	}
	if i := slices.Index(rec.consumers, h.consumer); i >= 0 {
		rec.consumers = slices.Delete(rec.consumers, i, i+1)
	}

	c.log.DebugContext(c.subCtx(rec), "subscriptions.release", slog.String("state", rec.state.String()))

	if len(rec.consumers) > 0 {
		return
	}

	switch rec.state {
	case subSubscribed:
		c.unsubscribe(h.slot)
	case subUnsubscribed:
		c.freeRecord(h.slot)
		// subSubscribing: decided when the subscribe result arrives.
		// subUnsubscribing: already on its way out.
	}
}

func (c *Client) freeRecord(slot int) {
	c.subs.release(slot)
	c.metrics.setSubscriptions(c.subs.size())
}

func (c *Client) subscribe(slot int) {
	rec := &c.subs.records[slot]
	rec.state = subSubscribing
	rec.attempt++
	filter, qos, gen, attempt := rec.filter, rec.qos, rec.gen, rec.attempt

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
		defer cancel()
		err := c.t.Subscribe(ctx, filter, qos)
		c.post(func() { c.onSubscribed(slot, gen, attempt, err) })
	}()
}

func (c *Client) unsubscribe(slot int) {
	rec := &c.subs.records[slot]
	rec.state = subUnsubscribing
	rec.attempt++
	filter, gen, attempt := rec.filter, rec.gen, rec.attempt

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
		defer cancel()
		err := c.t.Unsubscribe(ctx, filter)
		c.post(func() { c.onUnsubscribed(slot, gen, attempt, err) })
	}()
}

func (c *Client) onSubscribed(slot int, gen, attempt uint64, err error) {
	rec := c.subs.get(slot, gen)
	if rec == nil || rec.attempt != attempt || rec.state != subSubscribing {
		return
	}
	ctx := c.subCtx(rec)

	if len(rec.consumers) == 0 {
		if err != nil {
			c.freeRecord(slot)
		} else {
			c.unsubscribe(slot)
		}
		return
	}

	if err != nil {
		c.log.WarnContext(ctx, "subscriptions.subscribe.fail", slog.String("err", err.Error()))
		rec.state = subUnsubscribed
		c.notify(slot, gen, subEventFailed, err)
		c.scheduleRetry(slot, gen)
		return
	}

	c.log.DebugContext(ctx, "subscriptions.subscribe.ok")
	rec.state = subSubscribed
	c.notify(slot, gen, subEventSubscribed, nil)
}

func (c *Client) onUnsubscribed(slot int, gen, attempt uint64, err error) {
	rec := c.subs.get(slot, gen)
	if rec == nil || rec.attempt != attempt || rec.state != subUnsubscribing {
		return
	}
	if err != nil {
		c.log.WarnContext(c.subCtx(rec), "subscriptions.unsubscribe.fail", slog.String("err", err.Error()))
	}

	if len(rec.consumers) == 0 {
		c.freeRecord(slot)
		return
	}

	// Re-acquired while the unsubscribe was in flight.
	rec.state = subUnsubscribed
	if c.connected {
		c.subscribe(slot)
	}
}

// scheduleRetry re-attempts a failed subscribe for records still wanted by a
// stream. Requests give up on failure, so their records are freed instead.
func (c *Client) scheduleRetry(slot int, gen uint64) {
	rec := c.subs.get(slot, gen)
	if rec == nil || !hasKind(rec.consumers, consumerStream) || c.cfg.ResubscribeInterval <= 0 {
		return
	}
	time.AfterFunc(c.cfg.ResubscribeInterval, func() {
		c.post(func() {
			rec := c.subs.get(slot, gen)
			if c.shut || rec == nil || rec.state != subUnsubscribed || len(rec.consumers) == 0 || !c.connected {
				return
			}
			c.subscribe(slot)
		})
	})
}

// notify fans a status event out to a snapshot of the record's consumers.
// Consumers may release themselves, or acquire other filters, while it runs.
func (c *Client) notify(slot int, gen uint64, ev subEvent, err error) {
	rec := c.subs.get(slot, gen)
	if rec == nil {
		return
	}
	for _, cons := range slices.Clone(rec.consumers) {
		if !cons.released {
			cons.onStatus(ev, err)
		}
	}
}

// dispatch delivers an inbound publish to every consumer of every acknowledged
// record whose filter matches it, in registration order.
func (c *Client) dispatch(topicName string, payload []byte) {
	var targets []*consumer
	for i := range c.subs.records {
		rec := &c.subs.records[i]
		if !rec.live || rec.state != subSubscribed || !topic.Match(rec.filter, topicName) {
			continue
		}
		targets = append(targets, rec.consumers...)
	}

	if len(targets) == 0 {
		c.log.DebugContext(c.loopCtx, "subscriptions.dispatch.unmatched", slog.String("topic", topicName))
		return
	}

	for _, cons := range targets {
		if !cons.released {
			cons.onPublish(topicName, payload)
		}
	}
}

// subscriptionsLost marks every record unsubscribed after a connection drop
// and tells their consumers. Records only waiting to be unsubscribed are
// dropped outright, since the broker forgot them already.
func (c *Client) subscriptionsLost(cause error) {
	type target struct {
		slot int
		gen  uint64
	}
	var lost []target

	for i := range c.subs.records {
		rec := &c.subs.records[i]
		if !rec.live {
			continue
		}
		rec.attempt++
		if len(rec.consumers) == 0 {
			c.freeRecord(i)
			continue
		}
		wasActive := rec.state != subUnsubscribed
		rec.state = subUnsubscribed
		if wasActive {
			lost = append(lost, target{slot: i, gen: rec.gen})
		}
	}

	for _, t := range lost {
		c.notify(t.slot, t.gen, subEventLost, cause)
	}
}

// resubscribeAll subscribes every record that still has consumers.
func (c *Client) resubscribeAll() {
	for i := range c.subs.records {
		rec := &c.subs.records[i]
		if rec.live && rec.state == subUnsubscribed && len(rec.consumers) > 0 {
			c.subscribe(i)
		}
	}
}

func (c *Client) subCtx(rec *subRecord) context.Context {
	return logctx.WithSubscriptionData(c.loopCtx, &logctx.SubscriptionData{
		Filter: rec.filter,
		Refs:   len(rec.consumers),
	})
}
