package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/iot-device-sdk-go/transport/transporttest"
)

func TestRedisTransport(t *testing.T) {
	// Skip if Redis is not available
	testClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	testClient.Close()

	factory := func(t *testing.T) transporttest.Pair {
		// Both ends share a prefix unique to this test.
		prefix := "test:iot:" + uuid.NewString() + ":"
		open := func() *Transport {
			tr, err := New(context.Background(), Config{
				Client:        redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
				ChannelPrefix: prefix,
				Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = tr.Close() })
			return tr
		}
		return transporttest.Pair{Subscriber: open(), Publisher: open()}
	}

	transporttest.RunTransportTests(t, factory)
}

func TestPatternFor(t *testing.T) {
	cases := map[string]string{
		"#":                 "*",
		"a/b":               "a/b",
		"a/+/c":             "a/*/c",
		"a/#":               "a*",
		"+/x/#":             "*/x*",
		"$aws/things/t[1]*": `$aws/things/t\[1\]\*`,
	}
	for filter, want := range cases {
		require.Equal(t, want, patternFor(filter), filter)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("IOT_REDIS_CHANNEL_PREFIX", "fleet:")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Addr)
	require.Equal(t, "fleet:", cfg.ChannelPrefix)
}
