package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with operation attributes carried on the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.Uint64("id", rd.ID),
			slog.String("topic", rd.PublishTopic),
			slog.String("token", rd.CorrelationToken),
		))
	}

	if sd, ok := ctx.Value(streamDataKey{}).(*StreamData); ok {
		r.AddAttrs(slog.Group("stream",
			slog.Uint64("id", sd.ID),
			slog.String("filter", sd.Filter),
		))
	}

	if sub, ok := ctx.Value(subscriptionKey{}).(*SubscriptionData); ok {
		r.AddAttrs(slog.Group("sub",
			slog.String("filter", sub.Filter),
			slog.Int("refs", sub.Refs),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	ID               uint64
	PublishTopic     string
	CorrelationToken string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type streamDataKey struct{}

type StreamData struct {
	ID     uint64
	Filter string
}

func WithStreamData(ctx context.Context, data *StreamData) context.Context {
	return context.WithValue(ctx, streamDataKey{}, data)
}

type subscriptionKey struct{}

type SubscriptionData struct {
	Filter string
	Refs   int
}

func WithSubscriptionData(ctx context.Context, data *SubscriptionData) context.Context {
	return context.WithValue(ctx, subscriptionKey{}, data)
}
