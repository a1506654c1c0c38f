// Package iotjobs is a client for the AWS IoT Jobs device API over MQTT,
// rooted at $aws/things/{thing}/jobs.
//
// A device typically subscribes to NextJobExecutionChanged events, calls
// StartNextPendingJobExecution, does the work, and reports the outcome with
// UpdateJobExecution.
package iotjobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
	"github.com/ggoodman/iot-device-sdk-go/rrclient"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Result types of the jobs operations.
type (
	GetPendingJobExecutionsResult      = rrclient.Result[GetPendingJobExecutionsResponse, RejectedError]
	StartNextPendingJobExecutionResult = rrclient.Result[StartNextJobExecutionResponse, RejectedError]
	DescribeJobExecutionResult         = rrclient.Result[DescribeJobExecutionResponse, RejectedError]
	UpdateJobExecutionResult           = rrclient.Result[UpdateJobExecutionResponse, RejectedError]
)

// NextJobID names the next pending execution in DescribeJobExecution.
const NextJobID = "$next"

// Client issues jobs operations through an rrclient.Client.
type Client struct {
	rr      *rrclient.Client
	log     *slog.Logger
	qos     transport.QoS
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithQoS sets the QoS of request publishes and stream subscriptions.
// Defaults to transport.AtLeastOnce.
func WithQoS(q transport.QoS) Option {
	return func(c *Client) { c.qos = q }
}

// WithTimeout overrides the rrclient operation timeout for jobs requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a jobs client on rr.
func New(rr *rrclient.Client, opts ...Option) *Client {
	c := &Client{rr: rr, log: slog.Default(), qos: transport.AtLeastOnce}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetPendingJobExecutions(ctx context.Context, req GetPendingJobExecutionsRequest) (*GetPendingJobExecutionsResult, error) {
	base, err := thingTopic(req.ThingName, "get")
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[GetPendingJobExecutionsResponse](ctx, c, base, &req.ClientToken, &req)
}

func (c *Client) StartNextPendingJobExecution(ctx context.Context, req StartNextPendingJobExecutionRequest) (*StartNextPendingJobExecutionResult, error) {
	base, err := thingTopic(req.ThingName, "start-next")
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[StartNextJobExecutionResponse](ctx, c, base, &req.ClientToken, &req)
}

func (c *Client) DescribeJobExecution(ctx context.Context, req DescribeJobExecutionRequest) (*DescribeJobExecutionResult, error) {
	base, err := jobTopic(req.ThingName, req.JobID, "get")
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[DescribeJobExecutionResponse](ctx, c, base, &req.ClientToken, &req)
}

// UpdateJobExecution reports the status of an execution. Status is required.
func (c *Client) UpdateJobExecution(ctx context.Context, req UpdateJobExecutionRequest) (*UpdateJobExecutionResult, error) {
	base, err := jobTopic(req.ThingName, req.JobID, "update")
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	if req.Status == "" {
		return nil, service.Invalid("request", errMissingStatus)
	}
	return invoke[UpdateJobExecutionResponse](ctx, c, base, &req.ClientToken, &req)
}

// Handlers are the callbacks of a jobs event stream. OnEvent is required.
type Handlers[E any] struct {
	OnEvent  func(ctx context.Context, ev *E)
	OnStatus func(ctx context.Context, ev rrclient.StatusEvent)
}

func (c *Client) SubscribeToJobExecutionsChangedEvents(ctx context.Context, thingName string, h Handlers[JobExecutionsChangedEvent]) (*rrclient.Stream, error) {
	filter, err := thingTopic(thingName, "notify")
	if err != nil {
		return nil, service.Invalid("stream", err)
	}
	return subscribe(ctx, c, filter, h)
}

func (c *Client) SubscribeToNextJobExecutionChangedEvents(ctx context.Context, thingName string, h Handlers[NextJobExecutionChangedEvent]) (*rrclient.Stream, error) {
	filter, err := thingTopic(thingName, "notify-next")
	if err != nil {
		return nil, service.Invalid("stream", err)
	}
	return subscribe(ctx, c, filter, h)
}

func invoke[T any](ctx context.Context, c *Client, base string, tok **string, body any) (*rrclient.Result[T, RejectedError], error) {
	req, err := service.Build(service.Operation{
		Topic:   base,
		Token:   service.Token(tok),
		Body:    body,
		QoS:     c.qos,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, service.Invalid("request", err)
	}

	res, err := rrclient.Invoke[T, RejectedError](ctx, c.rr, req)
	switch {
	case err != nil:
		c.log.DebugContext(ctx, "jobs.request.fail", slog.String("topic", base), slog.String("err", err.Error()))
		return nil, err
	case res.Rejected != nil:
		c.log.DebugContext(ctx, "jobs.request.rejected", slog.String("topic", base), slog.String("code", string(res.Rejected.Code)))
	}
	return res, nil
}

func subscribe[E any](ctx context.Context, c *Client, filter string, h Handlers[E]) (*rrclient.Stream, error) {
	return rrclient.OpenTypedStream(ctx, c.rr, rrclient.TypedStreamOptions[E]{
		Filter:   filter,
		QoS:      c.qos,
		OnEvent:  h.OnEvent,
		OnStatus: h.OnStatus,
	})
}
