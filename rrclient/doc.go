// Package rrclient implements request/response and streaming operations on
// top of a publish/subscribe transport.
//
// A request publishes a payload and waits for a single response on one of a
// set of response paths. Services that share response topics between
// concurrent callers embed a correlation token in the request; the matching
// response carries it back and the client extracts it with a dotted JSON path.
// Requests without a token are matched on topic alone, so the client runs
// those with overlapping response topics one after another.
//
// A stream delivers every publish matching a topic filter until it is closed,
// reporting subscription health through status events:
//
//	Establishing -> Established <-> Lost -> Halted
//
// Subscriptions are reference counted. Operations needing the same filter
// share one broker subscription, and the filter is unsubscribed when the last
// of them finishes.
//
// A Client runs a single event loop that owns every table. Methods, transport
// callbacks, timers and I/O completions post work to it. Stream handlers run
// on that loop and must return promptly.
package rrclient
