// Package transporttest provides a conformance suite that every
// transport.Transport binding is expected to pass.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Pair is two clients of the same broker. Subscriber receives what Publisher
// sends.
type Pair struct {
	Subscriber transport.Transport
	Publisher  transport.Transport
}

// Factory creates a fresh pair of connected clients for a single test. The
// factory is responsible for registering cleanup with t.Cleanup.
type Factory func(t *testing.T) Pair

// RunTransportTests runs the complete transport test suite against the
// provided factory.
func RunTransportTests(t *testing.T, factory Factory) {
	t.Run("PublishSubscribe", func(t *testing.T) {
		testPublishSubscribe(t, factory)
	})
	t.Run("SingleLevelWildcard", func(t *testing.T) {
		testSingleLevelWildcard(t, factory)
	})
	t.Run("MultiLevelWildcard", func(t *testing.T) {
		testMultiLevelWildcard(t, factory)
	})
	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		testUnsubscribeStopsDelivery(t, factory)
	})
	t.Run("SerializedOrderedDelivery", func(t *testing.T) {
		testSerializedOrderedDelivery(t, factory)
	})
	t.Run("SingleHandler", func(t *testing.T) {
		testSingleHandler(t, factory)
	})
}

type received struct {
	Topic   string
	Payload string
}

// collector is a transport.Handler that records publishes and checks that
// calls never overlap.
type collector struct {
	ch         chan received
	active     atomic.Int32
	overlapped atomic.Bool
}

func newCollector() *collector {
	return &collector{ch: make(chan received, 256)}
}

func (c *collector) HandlePublish(topic string, payload []byte) {
	if c.active.Add(1) > 1 {
		c.overlapped.Store(true)
	}
	defer c.active.Add(-1)
	c.ch <- received{Topic: topic, Payload: string(payload)}
}

func (c *collector) HandleConnectivity(transport.Connectivity) {}

func (c *collector) next(t *testing.T, timeout time.Duration) received {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(timeout):
		t.Fatalf("no publish received within %s", timeout)
		return received{}
	}
}

func (c *collector) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-c.ch:
		t.Fatalf("unexpected publish on %s: %s", r.Topic, r.Payload)
	case <-time.After(wait):
	}
}

func prefix() string {
	return "transporttest/" + uuid.NewString()
}

func attach(t *testing.T, tr transport.Transport) *collector {
	t.Helper()
	c := newCollector()
	detach, err := tr.Attach(c)
	require.NoError(t, err)
	t.Cleanup(detach)
	return c
}

func testPublishSubscribe(t *testing.T, factory Factory) {
	p := factory(t)
	c := attach(t, p.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := prefix() + "/get/accepted"
	require.NoError(t, p.Subscriber.Subscribe(ctx, name, transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, name, []byte(`{"clientToken":"abc"}`), transport.AtLeastOnce))

	got := c.next(t, 5*time.Second)
	require.Equal(t, name, got.Topic)
	require.Equal(t, `{"clientToken":"abc"}`, got.Payload)
}

func testSingleLevelWildcard(t *testing.T, factory Factory) {
	p := factory(t)
	c := attach(t, p.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	base := prefix()
	require.NoError(t, p.Subscriber.Subscribe(ctx, base+"/get/+", transport.AtLeastOnce))

	require.NoError(t, p.Publisher.Publish(ctx, base+"/get/deep/rejected", []byte("1"), transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, base+"/update/accepted", []byte("2"), transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, base+"/get/accepted", []byte("3"), transport.AtLeastOnce))

	got := c.next(t, 5*time.Second)
	require.Equal(t, base+"/get/accepted", got.Topic)
	require.Equal(t, "3", got.Payload)
	c.none(t, 200*time.Millisecond)
}

func testMultiLevelWildcard(t *testing.T, factory Factory) {
	p := factory(t)
	c := attach(t, p.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	base := prefix()
	require.NoError(t, p.Subscriber.Subscribe(ctx, base+"/jobs/#", transport.AtLeastOnce))

	require.NoError(t, p.Publisher.Publish(ctx, base+"/jobs/notify", []byte("1"), transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, base+"/jobs/j1/get/accepted", []byte("2"), transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, base+"/shadow/get", []byte("3"), transport.AtLeastOnce))

	require.Equal(t, "1", c.next(t, 5*time.Second).Payload)
	require.Equal(t, "2", c.next(t, 5*time.Second).Payload)
	c.none(t, 200*time.Millisecond)
}

func testUnsubscribeStopsDelivery(t *testing.T, factory Factory) {
	p := factory(t)
	c := attach(t, p.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := prefix() + "/notify"
	require.NoError(t, p.Subscriber.Subscribe(ctx, name, transport.AtLeastOnce))
	require.NoError(t, p.Publisher.Publish(ctx, name, []byte("before"), transport.AtLeastOnce))
	require.Equal(t, "before", c.next(t, 5*time.Second).Payload)

	require.NoError(t, p.Subscriber.Unsubscribe(ctx, name))
	require.NoError(t, p.Publisher.Publish(ctx, name, []byte("after"), transport.AtLeastOnce))
	c.none(t, 300*time.Millisecond)
}

func testSerializedOrderedDelivery(t *testing.T, factory Factory) {
	p := factory(t)
	c := attach(t, p.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	name := prefix() + "/update/documents"
	require.NoError(t, p.Subscriber.Subscribe(ctx, name, transport.AtLeastOnce))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := p.Publisher.Publish(ctx, name, []byte(fmt.Sprint(i)), transport.AtLeastOnce); err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		got := c.next(t, 5*time.Second)
		require.Equal(t, fmt.Sprint(i), got.Payload)
	}
	wg.Wait()
	require.False(t, c.overlapped.Load(), "handler calls overlapped")
}

func testSingleHandler(t *testing.T, factory Factory) {
	p := factory(t)

	detach, err := p.Subscriber.Attach(newCollector())
	require.NoError(t, err)

	_, err = p.Subscriber.Attach(newCollector())
	require.ErrorIs(t, err, transport.ErrAlreadyAttached)

	detach()
	detach2, err := p.Subscriber.Attach(newCollector())
	require.NoError(t, err)
	detach2()
}
