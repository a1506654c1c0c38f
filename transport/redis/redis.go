// Package redis implements transport.Transport on Redis pub/sub. Topics are
// published as channels under a key prefix; MQTT topic filters become
// PSUBSCRIBE glob patterns, and every received message is checked against the
// exact MQTT filter rules before delivery.
//
// Redis pub/sub is at-most-once: the QoS argument is accepted and ignored.
// It lets several devices, or a device and a test double of a cloud service,
// share a local Redis instead of an MQTT broker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/iot-device-sdk-go/internal/topic"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Config contains configuration options for the Redis transport.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr is used when Client is nil. ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// ChannelPrefix is prepended to every topic. ENV: IOT_REDIS_CHANNEL_PREFIX
	ChannelPrefix string `env:"IOT_REDIS_CHANNEL_PREFIX,default=iot:"`
	// HealthCheckInterval is how long the receive loop waits for traffic
	// before pinging the server. ENV: IOT_REDIS_HEALTH_CHECK_INTERVAL
	HealthCheckInterval time.Duration `env:"IOT_REDIS_HEALTH_CHECK_INTERVAL,default=5s"`
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigFromEnv builds a Config using envdecode. Defaults are provided via
// struct tags.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode redis transport config: %w", err)
	}
	return cfg, nil
}

// Transport is a Redis pub/sub implementation of transport.Transport.
type Transport struct {
	client   redis.UniversalClient
	owned    bool
	ps       *redis.PubSub
	prefix   string
	interval time.Duration
	log      *slog.Logger
	inbound  *transport.Inbound

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	filters  map[string]struct{}
	patterns map[string]int          // pattern -> filters using it
	waiters  map[string][]chan error // pattern -> subscribers awaiting confirmation
}

// New connects to Redis and starts the receive loop.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	client, owned := cfg.Client, cfg.Client == nil
	if owned {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "iot:"
	}
	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redis transport ping: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		client:   client,
		owned:    owned,
		ps:       client.PSubscribe(loopCtx),
		prefix:   prefix,
		interval: interval,
		log:      logger,
		inbound:  transport.NewInbound(),
		cancel:   cancel,
		done:     make(chan struct{}),
		filters:  make(map[string]struct{}),
		patterns: make(map[string]int),
		waiters:  make(map[string][]chan error),
	}
	t.connected.Store(true)

	go t.run(loopCtx)

	return t, nil
}

// Close stops the receive loop and closes the pub/sub connection. The Redis
// client is left open when it was supplied by the caller.
func (t *Transport) Close() error {
	t.cancel()
	err := t.ps.Close()
	<-t.done
	t.connected.Store(false)
	t.inbound.Close()
	if t.owned {
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Connected implements transport.StateReporter.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topicName string, payload []byte, _ transport.QoS) error {
	if err := topic.ValidateName(topicName); err != nil {
		return err
	}
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	if err := t.client.Publish(ctx, t.prefix+topicName, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topicName, err)
	}
	return nil
}

// Subscribe implements transport.Transport. It returns once Redis confirmed
// the pattern subscription.
func (t *Transport) Subscribe(ctx context.Context, filter string, _ transport.QoS) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	pattern := t.prefix + patternFor(filter)

	t.mu.Lock()
	if _, ok := t.filters[filter]; ok {
		t.mu.Unlock()
		return nil
	}
	t.filters[filter] = struct{}{}
	t.patterns[pattern]++
	if t.patterns[pattern] > 1 && len(t.waiters[pattern]) == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	t.waiters[pattern] = append(t.waiters[pattern], ch)
	first := t.patterns[pattern] == 1
	t.mu.Unlock()

	if first {
		if err := t.ps.PSubscribe(ctx, pattern); err != nil {
			t.forget(filter, pattern)
			return fmt.Errorf("redis psubscribe %s: %w", pattern, err)
		}
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		t.forget(filter, pattern)
		return ctx.Err()
	}
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, filter string) error {
	if !t.connected.Load() {
		return transport.ErrNotConnected
	}
	pattern := t.prefix + patternFor(filter)

	t.mu.Lock()
	if _, ok := t.filters[filter]; !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.filters, filter)
	t.patterns[pattern]--
	last := t.patterns[pattern] <= 0
	if last {
		delete(t.patterns, pattern)
	}
	t.mu.Unlock()

	if last {
		if err := t.ps.PUnsubscribe(ctx, pattern); err != nil {
			return fmt.Errorf("redis punsubscribe %s: %w", pattern, err)
		}
	}
	return nil
}

// Attach implements transport.Transport.
func (t *Transport) Attach(h transport.Handler) (func(), error) {
	return t.inbound.Attach(h)
}

func (t *Transport) forget(filter, pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.filters[filter]; !ok {
		return
	}
	delete(t.filters, filter)
	if t.patterns[pattern]--; t.patterns[pattern] <= 0 {
		delete(t.patterns, pattern)
	}
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	for {
		msg, err := t.ps.ReceiveTimeout(ctx, t.interval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle; the Pong, or a write failure, tells us about the link.
				if perr := t.ps.Ping(ctx); perr != nil {
					t.setDown(perr)
				}
				continue
			}
			t.setDown(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.interval):
			}
			if perr := t.ps.Ping(ctx); perr != nil {
				t.log.Debug("redis.ping.fail", slog.String("err", perr.Error()))
			}
			continue
		}

		t.setUp()

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "psubscribe" {
				t.confirm(m.Channel, nil)
			}
		case *redis.Message:
			t.deliver(m)
		case *redis.Pong:
		}
	}
}

func (t *Transport) confirm(pattern string, err error) {
	t.mu.Lock()
	waiters := t.waiters[pattern]
	delete(t.waiters, pattern)
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}

func (t *Transport) deliver(m *redis.Message) {
	name, ok := strings.CutPrefix(m.Channel, t.prefix)
	if !ok {
		return
	}

	t.mu.Lock()
	matched := false
	for f := range t.filters {
		if topic.Match(f, name) {
			matched = true
			break
		}
	}
	t.mu.Unlock()

	if matched {
		t.inbound.Publish(name, []byte(m.Payload))
	}
}

// setDown forgets every subscription, as a fresh MQTT session would, and
// reports the loss once.
func (t *Transport) setDown(cause error) {
	if !t.connected.Swap(false) {
		return
	}
	t.log.Warn("redis.connection.lost", slog.String("err", cause.Error()))

	t.mu.Lock()
	patterns := make([]string, 0, len(t.patterns))
	for p := range t.patterns {
		patterns = append(patterns, p)
	}
	waiters := t.waiters
	t.filters = make(map[string]struct{})
	t.patterns = make(map[string]int)
	t.waiters = make(map[string][]chan error)
	t.mu.Unlock()

	for _, chs := range waiters {
		for _, ch := range chs {
			ch <- transport.ErrNotConnected
		}
	}
	if len(patterns) > 0 {
		// Drops them from the client's resubscribe set; the write may fail.
		_ = t.ps.PUnsubscribe(context.Background(), patterns...)
	}

	t.inbound.Connectivity(transport.Connectivity{State: transport.Down, Err: cause})
}

func (t *Transport) setUp() {
	if t.connected.Swap(true) {
		return
	}
	t.log.Info("redis.connection.up")
	t.inbound.Connectivity(transport.Connectivity{State: transport.Up})
}

// patternFor converts an MQTT filter to a Redis glob that matches a superset
// of its topics.
func patternFor(filter string) string {
	if filter == "#" {
		return "*"
	}
	base, multi := strings.CutSuffix(filter, "/#")

	var b strings.Builder
	for i, level := range strings.Split(base, "/") {
		if i > 0 {
			b.WriteByte('/')
		}
		if level == "+" {
			b.WriteByte('*')
			continue
		}
		for _, r := range level {
			switch r {
			case '*', '?', '[', ']', '\\':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	if multi {
		// Also matches the parent level itself.
		b.WriteByte('*')
	}
	return b.String()
}

// Compile-time interface checks
var (
	_ transport.Transport     = (*Transport)(nil)
	_ transport.StateReporter = (*Transport)(nil)
)
