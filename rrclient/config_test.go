package rrclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("IOT_RR_OPERATION_TIMEOUT", "5s")
	t.Setenv("IOT_RR_MAX_STREAMING_SUBSCRIPTIONS", "3")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.OperationTimeout)
	require.Equal(t, 3, cfg.MaxStreamingSubscriptions)
	require.Equal(t, defaultMaxSubscriptions, cfg.MaxRequestResponseSubscriptions)
	require.Equal(t, defaultIOTimeout, cfg.IOTimeout)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, defaultOperationTimeout, cfg.OperationTimeout)
	require.Equal(t, defaultMaxSubscriptions, cfg.MaxRequestResponseSubscriptions)
	require.Equal(t, defaultMaxSubscriptions, cfg.MaxStreamingSubscriptions)
	require.Equal(t, defaultResubscribe, cfg.ResubscribeInterval)
}
