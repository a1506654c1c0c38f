//go:build integration
// +build integration

package mqtt5

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ggoodman/iot-device-sdk-go/transport"
	"github.com/ggoodman/iot-device-sdk-go/transport/transporttest"
)

// startMosquitto runs an eclipse-mosquitto broker and returns its URL.
func startMosquitto(ctx context.Context, t *testing.T) (testcontainers.Container, *url.URL) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883")
	require.NoError(t, err)

	u, err := url.Parse(fmt.Sprintf("mqtt://%s:%s", host, port.Port()))
	require.NoError(t, err)
	return container, u
}

func newTransport(t *testing.T, server *url.URL) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := New(context.Background(), autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{server},
		KeepAlive:                     20,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                5 * time.Second,
		ClientConfig: paho.ClientConfig{
			ClientID: "test-" + uuid.NewString(),
		},
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, tr.AwaitConnection(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tr.Disconnect(ctx)
	})
	return tr
}

func TestMQTT5Transport(t *testing.T) {
	ctx := context.Background()
	_, server := startMosquitto(ctx, t)

	transporttest.RunTransportTests(t, func(t *testing.T) transporttest.Pair {
		return transporttest.Pair{
			Subscriber: newTransport(t, server),
			Publisher:  newTransport(t, server),
		}
	})
}

func TestMQTT5Transport_ReportsConnectionLoss(t *testing.T) {
	ctx := context.Background()
	container, server := startMosquitto(ctx, t)

	tr := newTransport(t, server)
	require.True(t, tr.Connected())

	events := make(chan transport.Connectivity, 8)
	_, err := tr.Attach(transport.HandlerFuncs{
		OnConnectivity: func(ev transport.Connectivity) { events <- ev },
	})
	require.NoError(t, err)

	stopTimeout := time.Second
	require.NoError(t, container.Stop(ctx, &stopTimeout))

	select {
	case ev := <-events:
		require.Equal(t, transport.Down, ev.State)
	case <-time.After(30 * time.Second):
		t.Fatal("connection loss not reported")
	}
	require.False(t, tr.Connected())
	require.ErrorIs(t, tr.Subscribe(ctx, "a/b", transport.AtLeastOnce), transport.ErrNotConnected)
}
