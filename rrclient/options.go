package rrclient

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	logger   *slog.Logger
	cfg      Config
	registry prometheus.Registerer
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConfig replaces the engine configuration. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(c *clientConfig) { c.cfg = cfg }
}

// WithMetrics registers the client's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *clientConfig) { c.registry = reg }
}
