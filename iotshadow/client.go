// Package iotshadow is a client for the AWS IoT Device Shadow service over
// MQTT. Classic shadows live under $aws/things/{thing}/shadow and named
// shadows under $aws/things/{thing}/shadow/name/{shadow}.
//
// Every request carries a clientToken, generated when the caller leaves it
// empty, so concurrent requests on the same thing never see each other's
// responses. A rejection by the service is returned in Result.Rejected, not
// as an error.
package iotshadow

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
	"github.com/ggoodman/iot-device-sdk-go/rrclient"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Result types of the shadow operations.
type (
	GetShadowResult    = rrclient.Result[GetShadowResponse, ErrorResponse]
	UpdateShadowResult = rrclient.Result[UpdateShadowResponse, ErrorResponse]
	DeleteShadowResult = rrclient.Result[DeleteShadowResponse, ErrorResponse]
)

// Client issues shadow operations through an rrclient.Client.
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

// WithTimeout overrides the rrclient operation timeout for shadow requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a shadow client on rr.
func New(rr *rrclient.Client, opts ...Option) *Client {
	c := &Client{rr: rr, log: slog.Default(), qos: transport.AtLeastOnce}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetShadow fetches the classic shadow of a thing.
func (c *Client) GetShadow(ctx context.Context, req GetShadowRequest) (*GetShadowResult, error) {
	base, err := classicTopic(req.ThingName, opGet)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[GetShadowResponse](ctx, c, base, &req.ClientToken, &req, sharedFilter)
}

// GetNamedShadow fetches a named shadow.
func (c *Client) GetNamedShadow(ctx context.Context, req GetNamedShadowRequest) (*GetShadowResult, error) {
	base, err := namedTopic(req.ThingName, req.ShadowName, opGet)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[GetShadowResponse](ctx, c, base, &req.ClientToken, &req, sharedFilter)
}

// UpdateShadow updates the classic shadow of a thing.
func (c *Client) UpdateShadow(ctx context.Context, req UpdateShadowRequest) (*UpdateShadowResult, error) {
	base, err := classicTopic(req.ThingName, opUpdate)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[UpdateShadowResponse](ctx, c, base, &req.ClientToken, &req, exactFilters)
}

// UpdateNamedShadow updates a named shadow.
func (c *Client) UpdateNamedShadow(ctx context.Context, req UpdateNamedShadowRequest) (*UpdateShadowResult, error) {
	base, err := namedTopic(req.ThingName, req.ShadowName, opUpdate)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[UpdateShadowResponse](ctx, c, base, &req.ClientToken, &req, exactFilters)
}

// DeleteShadow deletes the classic shadow of a thing.
func (c *Client) DeleteShadow(ctx context.Context, req DeleteShadowRequest) (*DeleteShadowResult, error) {
	base, err := classicTopic(req.ThingName, opDelete)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[DeleteShadowResponse](ctx, c, base, &req.ClientToken, &req, sharedFilter)
}

// DeleteNamedShadow deletes a named shadow.
func (c *Client) DeleteNamedShadow(ctx context.Context, req DeleteNamedShadowRequest) (*DeleteShadowResult, error) {
	base, err := namedTopic(req.ThingName, req.ShadowName, opDelete)
	if err != nil {
		return nil, service.Invalid("request", err)
	}
	return invoke[DeleteShadowResponse](ctx, c, base, &req.ClientToken, &req, sharedFilter)
}

// Handlers are the callbacks of a shadow event stream. OnEvent is required.
type Handlers[E any] struct {
	OnEvent  func(ctx context.Context, ev *E)
	OnStatus func(ctx context.Context, ev rrclient.StatusEvent)
}

// SubscribeToShadowDeltaUpdatedEvents streams update/delta. Pass an empty
// shadowName for the classic shadow.
func (c *Client) SubscribeToShadowDeltaUpdatedEvents(ctx context.Context, thingName, shadowName string, h Handlers[ShadowDeltaUpdatedEvent]) (*rrclient.Stream, error) {
	filter, err := eventTopic(thingName, shadowName, eventDelta)
	if err != nil {
		return nil, service.Invalid("stream", err)
	}
	return subscribe(ctx, c, filter, h)
}

// SubscribeToShadowUpdatedEvents streams update/documents. Pass an empty
// shadowName for the classic shadow.
func (c *Client) SubscribeToShadowUpdatedEvents(ctx context.Context, thingName, shadowName string, h Handlers[ShadowUpdatedEvent]) (*rrclient.Stream, error) {
	filter, err := eventTopic(thingName, shadowName, eventDocuments)
	if err != nil {
		return nil, service.Invalid("stream", err)
	}
	return subscribe(ctx, c, filter, h)
}

// Update responses share update/+ with the delta and documents events, which
// echo the client token, so updates subscribe to their two topics exactly.
const (
	sharedFilter = false
	exactFilters = true
)

func invoke[T any](ctx context.Context, c *Client, base string, tok **string, body any, exact bool) (*rrclient.Result[T, ErrorResponse], error) {
	token := service.Token(tok)
	req, err := service.Build(service.Operation{
		Topic:   base,
		Token:   token,
		Body:    body,
		QoS:     c.qos,
		Timeout: c.timeout,
		Exact:   exact,
	})
	if err != nil {
		return nil, service.Invalid("request", err)
	}

	res, err := rrclient.Invoke[T, ErrorResponse](ctx, c.rr, req)
	if err != nil {
		c.log.DebugContext(ctx, "shadow.request.fail", slog.String("topic", base), slog.String("err", err.Error()))
		return nil, err
	}
	if res.Rejected != nil {
		c.log.DebugContext(ctx, "shadow.request.rejected",
			slog.String("topic", base),
			slog.Int("code", res.Rejected.Code),
			slog.String("message", res.Rejected.Message))
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
