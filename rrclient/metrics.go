package rrclient

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics holds the Prometheus collectors for one Client. A nil
// *clientMetrics is valid and records nothing.
type clientMetrics struct {
	requests        *prometheus.CounterVec // by outcome
	inflight        prometheus.Gauge
	requestDuration *prometheus.HistogramVec // by outcome
	subscriptions   prometheus.Gauge
	streams         prometheus.Gauge
	streamEvents    *prometheus.CounterVec // by result
	connectionUp    prometheus.Gauge
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	if reg == nil {
		return nil, nil // Metrics disabled
	}

	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "requests_total",
			Help:      "Total number of resolved requests",
		}, []string{"outcome"}), // outcome: accepted, rejected, or an error kind

		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "requests_inflight",
			Help:      "Requests submitted but not yet resolved, including queued ones",
		}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "request_duration_seconds",
			Help:      "Time from submission to resolution",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "subscriptions",
			Help:      "Topic filters currently tracked by the subscription table",
		}),

		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "streams",
			Help:      "Open streaming operations",
		}),

		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "stream_events_total",
			Help:      "Events delivered to stream handlers",
		}, []string{"result"}), // result: delivered, malformed, panic

		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iotsdk",
			Subsystem: "rr",
			Name:      "connection_up",
			Help:      "1 while the transport reports a connection, 0 otherwise",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.inflight, m.requestDuration, m.subscriptions,
		m.streams, m.streamEvents, m.connectionUp,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *clientMetrics) requestStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *clientMetrics) requestResolved(resp *Response, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeLabel(resp, err)
	m.inflight.Dec()
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *clientMetrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *clientMetrics) streamOpened() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *clientMetrics) streamHalted() {
	if m == nil {
		return
	}
	m.streams.Dec()
}

func (m *clientMetrics) streamEvent(result string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(result).Inc()
}

func (m *clientMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectionUp.Set(1)
	} else {
		m.connectionUp.Set(0)
	}
}

func outcomeLabel(resp *Response, err error) string {
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e.Kind.String()
		}
		return "error"
	}
	if resp != nil && resp.Outcome == Rejected {
		return "rejected"
	}
	return "accepted"
}
