package rrclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// Result is the typed outcome of a request. Exactly one of Accepted and
// Rejected is set.
type Result[T, E any] struct {
	Accepted *T
	Rejected *E
	Response *Response
}

// Invoke submits req and decodes the response: a success path into T, a
// failure path into E. A modeled rejection is a Result, not an error.
func Invoke[T, E any](ctx context.Context, c *Client, req Request) (*Result[T, E], error) {
	resp, err := c.Submit(ctx, req).Wait(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result[T, E]{Response: resp}
	switch resp.Outcome {
	case Rejected:
		res.Rejected = new(E)
		err = json.Unmarshal(resp.Payload, res.Rejected)
	default:
		res.Accepted = new(T)
		err = json.Unmarshal(resp.Payload, res.Accepted)
	}
	if err != nil {
		return nil, requestError(KindParse, req.PublishTopic, fmt.Errorf("decode %s response from %s: %w", resp.Outcome, resp.Topic, err))
	}
	return res, nil
}

// TypedStreamOptions configures OpenTypedStream.
type TypedStreamOptions[E any] struct {
	Filter   string
	QoS      transport.QoS
	OnEvent  func(ctx context.Context, ev *E)
	OnStatus func(ctx context.Context, ev StatusEvent)
}

// OpenTypedStream opens a stream whose events are JSON documents of type E.
// Events that fail to decode are logged and dropped; the stream stays open.
func OpenTypedStream[E any](ctx context.Context, c *Client, opts TypedStreamOptions[E]) (*Stream, error) {
	var onEvent func(context.Context, Publish)
	if opts.OnEvent != nil {
		onEvent = func(ctx context.Context, msg Publish) {
			ev := new(E)
			if err := json.Unmarshal(msg.Payload, ev); err != nil {
				c.log.WarnContext(ctx, "stream.event.malformed", slog.String("topic", msg.Topic), slog.String("err", err.Error()))
				c.metrics.streamEvent("malformed")
				return
			}
			opts.OnEvent(ctx, ev)
		}
	}
	return c.OpenStream(ctx, StreamOptions{
		Filter:   opts.Filter,
		QoS:      opts.QoS,
		OnEvent:  onEvent,
		OnStatus: opts.OnStatus,
	})
}
