// Package iotidentity is a client for AWS IoT fleet provisioning over MQTT.
//
// The provisioning API has no correlation token: every response of an
// operation arrives on the same pair of topics. The underlying rrclient runs
// such requests one at a time per response topic, so concurrent callers are
// still answered correctly, only serially.
package iotidentity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
	"github.com/ggoodman/iot-device-sdk-go/rrclient"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

const (
	createKeysTopic    = "$aws/certificates/create/json"
	createFromCsrTopic = "$aws/certificates/create-from-csr/json"
)

// Result types of the provisioning operations.
type (
	CreateKeysAndCertificateResult = rrclient.Result[CreateKeysAndCertificateResponse, ErrorResponse]
	CreateCertificateFromCsrResult = rrclient.Result[CreateCertificateFromCsrResponse, ErrorResponse]
	RegisterThingResult            = rrclient.Result[RegisterThingResponse, ErrorResponse]
)

// Client issues fleet provisioning operations through an rrclient.Client.
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

// WithQoS sets the QoS of request publishes. Defaults to
// transport.AtLeastOnce.
func WithQoS(q transport.QoS) Option {
	return func(c *Client) { c.qos = q }
}

// WithTimeout overrides the rrclient operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a provisioning client on rr.
func New(rr *rrclient.Client, opts ...Option) *Client {
	c := &Client{rr: rr, log: slog.Default(), qos: transport.AtLeastOnce}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateKeysAndCertificate asks the service for a new key pair and a certificate signed by AWS IoT.
func (c *Client) CreateKeysAndCertificate(ctx context.Context, req CreateKeysAndCertificateRequest) (*CreateKeysAndCertificateResult, error) {
	return invoke[CreateKeysAndCertificateResponse](ctx, c, createKeysTopic, req)
}

// CreateCertificateFromCsr has the service sign a certificate for req's certificate signing request.
func (c *Client) CreateCertificateFromCsr(ctx context.Context, req CreateCertificateFromCsrRequest) (*CreateCertificateFromCsrResult, error) {
	if req.CertificateSigningRequest == "" {
		return nil, service.Invalid("request", errors.New("missing certificate signing request"))
	}
	return invoke[CreateCertificateFromCsrResponse](ctx, c, createFromCsrTopic, req)
}

// RegisterThing provisions a thing from req's template using a certificate ownership token.
func (c *Client) RegisterThing(ctx context.Context, req RegisterThingRequest) (*RegisterThingResult, error) {
	if err := service.Segment("template name", req.TemplateName); err != nil {
		return nil, service.Invalid("request", err)
	}
	if req.CertificateOwnershipToken == "" {
		return nil, service.Invalid("request", errors.New("missing certificate ownership token"))
	}
	return invoke[RegisterThingResponse](ctx, c, "$aws/provisioning-templates/"+req.TemplateName+"/provision/json", req)
}

func invoke[T any](ctx context.Context, c *Client, base string, body any) (*rrclient.Result[T, ErrorResponse], error) {
	req, err := service.Build(service.Operation{
		Topic:   base,
		Body:    body,
		QoS:     c.qos,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, service.Invalid("request", err)
	}

	res, err := rrclient.Invoke[T, ErrorResponse](ctx, c.rr, req)
	if err != nil {
		c.log.DebugContext(ctx, "identity.request.fail", slog.String("topic", base), slog.String("err", err.Error()))
		return nil, err
	}
	if res.Rejected != nil {
		c.log.WarnContext(ctx, "identity.request.rejected",
			slog.String("topic", base),
			slog.Int("status", res.Rejected.StatusCode),
			slog.String("code", res.Rejected.ErrorCode))
	}
	return res, nil
}
