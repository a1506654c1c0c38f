package rrclient

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindTransport means the request never reached the service: a subscribe
	// or publish failed, or the connection dropped before a response arrived.
	KindTransport Kind = iota + 1
	// KindTimeout means no matching response arrived before the deadline.
	KindTimeout
	// KindParse means a response matched the request but its payload could not
	// be decoded.
	KindParse
	// KindInvalidResponsePath means a publish carrying the request's
	// correlation token arrived on a topic none of its response paths declare.
	KindInvalidResponsePath
	// KindDuplicateToken means another in-flight request uses the same
	// correlation token.
	KindDuplicateToken
	// KindCanceled means the submitting context ended first.
	KindCanceled
	// KindClosed means the client was closed.
	KindClosed
	// KindCapacity means a configured subscription limit would be exceeded.
	KindCapacity
	// KindInvalidRequest means the request or stream options are malformed.
	KindInvalidRequest
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindInvalidResponsePath:
		return "invalid_response_path"
	case KindDuplicateToken:
		return "duplicate_token"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	case KindCapacity:
		return "capacity"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. errors.Is(err, ErrTimeout) holds for every
// *Error of KindTimeout.
var (
	ErrTransport           = errors.New("rrclient: transport failure")
	ErrTimeout             = errors.New("rrclient: operation timed out")
	ErrParse               = errors.New("rrclient: malformed response")
	ErrInvalidResponsePath = errors.New("rrclient: response on undeclared topic")
	ErrDuplicateToken      = errors.New("rrclient: correlation token already in flight")
	ErrCanceled            = errors.New("rrclient: operation canceled")
	ErrClosed              = errors.New("rrclient: client closed")
	ErrCapacity            = errors.New("rrclient: subscription limit reached")
	ErrInvalidRequest      = errors.New("rrclient: invalid request")
)

var kindSentinels = map[Kind]error{
	KindTransport:           ErrTransport,
	KindTimeout:             ErrTimeout,
	KindParse:               ErrParse,
	KindInvalidResponsePath: ErrInvalidResponsePath,
	KindDuplicateToken:      ErrDuplicateToken,
	KindCanceled:            ErrCanceled,
	KindClosed:              ErrClosed,
	KindCapacity:            ErrCapacity,
	KindInvalidRequest:      ErrInvalidRequest,
}

// Error is the error type returned by every failed operation.
type Error struct {
	Kind  Kind
	Op    string // "request" or "stream"
	Topic string // publish topic of a request, or filter of a stream
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rrclient: %s %s failed: %s", e.Op, e.Topic, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the cause and the sentinel for the error's Kind.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func requestError(kind Kind, topic string, cause error) *Error {
	return &Error{Kind: kind, Op: "request", Topic: topic, Err: cause}
}

func streamError(kind Kind, filter string, cause error) *Error {
	return &Error{Kind: kind, Op: "stream", Topic: filter, Err: cause}
}
