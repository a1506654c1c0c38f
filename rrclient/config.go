package rrclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config tunes the engine. The zero value is valid; unset fields take the
// defaults below. Values can be loaded from the environment with
// NewConfigFromEnv.
type Config struct {
	// OperationTimeout applies to requests that do not set their own timeout.
	// ENV: IOT_RR_OPERATION_TIMEOUT
	OperationTimeout time.Duration `env:"IOT_RR_OPERATION_TIMEOUT,default=30s"`
	// MaxRequestResponseSubscriptions bounds how many distinct topic filters
	// in-flight requests may hold at once. Requests beyond it wait in FIFO
	// order. ENV: IOT_RR_MAX_REQUEST_RESPONSE_SUBSCRIPTIONS
	MaxRequestResponseSubscriptions int `env:"IOT_RR_MAX_REQUEST_RESPONSE_SUBSCRIPTIONS,default=16"`
	// MaxStreamingSubscriptions bounds how many distinct topic filters open
	// streams may hold. Opening a stream beyond it fails with KindCapacity.
	// ENV: IOT_RR_MAX_STREAMING_SUBSCRIPTIONS
	MaxStreamingSubscriptions int `env:"IOT_RR_MAX_STREAMING_SUBSCRIPTIONS,default=16"`
	// IOTimeout bounds individual subscribe and unsubscribe calls.
	// ENV: IOT_RR_IO_TIMEOUT
	IOTimeout time.Duration `env:"IOT_RR_IO_TIMEOUT,default=30s"`
	// ResubscribeInterval is how long a stream whose subscribe failed waits
	// before trying again while the connection stays up. Reconnects always
	// retry immediately. ENV: IOT_RR_RESUBSCRIBE_INTERVAL
	ResubscribeInterval time.Duration `env:"IOT_RR_RESUBSCRIBE_INTERVAL,default=5s"`
}

const (
	defaultOperationTimeout = 30 * time.Second
	defaultMaxSubscriptions = 16
	defaultIOTimeout        = 30 * time.Second
	defaultResubscribe      = 5 * time.Second
)

// NewConfigFromEnv builds a Config using envdecode. Defaults are provided via
// struct tags.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode rrclient config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.MaxRequestResponseSubscriptions <= 0 {
		c.MaxRequestResponseSubscriptions = defaultMaxSubscriptions
	}
	if c.MaxStreamingSubscriptions <= 0 {
		c.MaxStreamingSubscriptions = defaultMaxSubscriptions
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = defaultIOTimeout
	}
	if c.ResubscribeInterval <= 0 {
		c.ResubscribeInterval = defaultResubscribe
	}
	return c
}
