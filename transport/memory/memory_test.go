package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggoodman/iot-device-sdk-go/transport"
	"github.com/ggoodman/iot-device-sdk-go/transport/transporttest"
)

func TestMemoryTransport(t *testing.T) {
	transporttest.RunTransportTests(t, func(t *testing.T) transporttest.Pair {
		b := NewBroker()
		sub, pub := b.Connect(), b.Connect()
		t.Cleanup(func() {
			_ = sub.Close()
			_ = pub.Close()
		})
		return transporttest.Pair{Subscriber: sub, Publisher: pub}
	})
}

type events struct {
	publishes    chan string
	connectivity chan transport.Connectivity
}

func newEvents() *events {
	return &events{publishes: make(chan string, 16), connectivity: make(chan transport.Connectivity, 16)}
}

func (e *events) HandlePublish(topic string, _ []byte)         { e.publishes <- topic }
func (e *events) HandleConnectivity(ev transport.Connectivity) { e.connectivity <- ev }

func TestTransport_DropAndRestore(t *testing.T) {
	b := NewBroker()
	tr := b.Connect()
	defer tr.Close()

	ev := newEvents()
	detach, err := tr.Attach(ev)
	require.NoError(t, err)
	defer detach()

	ctx := context.Background()
	require.NoError(t, tr.Subscribe(ctx, "a/+", transport.AtLeastOnce))
	require.Equal(t, []string{"a/+"}, tr.Subscriptions())

	tr.Drop()
	got := <-ev.connectivity
	require.Equal(t, transport.Down, got.State)
	require.ErrorIs(t, got.Err, ErrConnectionLost)
	require.Empty(t, tr.Subscriptions())

	require.ErrorIs(t, tr.Publish(ctx, "a/b", nil, transport.AtMostOnce), transport.ErrNotConnected)
	require.ErrorIs(t, tr.Subscribe(ctx, "a/+", transport.AtLeastOnce), transport.ErrNotConnected)
	require.Zero(t, b.Publish("a/b", nil))

	tr.Restore()
	require.Equal(t, transport.Up, (<-ev.connectivity).State)
	require.NoError(t, tr.Subscribe(ctx, "a/+", transport.AtLeastOnce))
	require.Equal(t, 1, b.Publish("a/b", []byte("x")))
	require.Equal(t, "a/b", <-ev.publishes)
	require.Equal(t, 3, tr.SubscribeCalls("a/+"))
}

func TestTransport_SubscribeHook(t *testing.T) {
	b := NewBroker()
	tr := b.Connect()
	defer tr.Close()

	boom := errors.New("suback failure")
	tr.SetSubscribeHook(func(ctx context.Context, filter string) error {
		if filter == "bad" {
			return boom
		}
		return nil
	})

	ctx := context.Background()
	require.ErrorIs(t, tr.Subscribe(ctx, "bad", transport.AtLeastOnce), boom)
	require.NoError(t, tr.Subscribe(ctx, "good", transport.AtLeastOnce))
	require.Equal(t, []string{"good"}, tr.Subscriptions())
}

func TestTransport_ValidatesTopics(t *testing.T) {
	b := NewBroker()
	tr := b.Connect()
	defer tr.Close()

	ctx := context.Background()
	require.Error(t, tr.Publish(ctx, "a/+", nil, transport.AtMostOnce))
	require.Error(t, tr.Subscribe(ctx, "a/#/b", transport.AtMostOnce))
}

func TestTransport_ClosedRejectsOperations(t *testing.T) {
	b := NewBroker()
	tr := b.Connect()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	ctx := context.Background()
	require.ErrorIs(t, tr.Publish(ctx, "a", nil, transport.AtMostOnce), transport.ErrClosed)

	select {
	case <-tr.inbound.Done():
	case <-time.After(time.Second):
		t.Fatal("delivery goroutine did not stop")
	}
}

func TestTransport_RecordsPublished(t *testing.T) {
	b := NewBroker()
	tr := b.Connect()
	defer tr.Close()

	require.NoError(t, tr.Publish(context.Background(), "x/y", []byte("p"), transport.AtLeastOnce))
	require.Equal(t, []Message{{Topic: "x/y", Payload: []byte("p"), QoS: transport.AtLeastOnce}}, tr.Published())
}
