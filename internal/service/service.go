// Package service holds the glue shared by the AWS IoT service clients:
// topic segment checks, client tokens and request assembly for rrclient.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ggoodman/iot-device-sdk-go/rrclient"
	"github.com/ggoodman/iot-device-sdk-go/transport"
)

// TokenPath is the JSON field AWS IoT services echo back for correlation.
const TokenPath = "clientToken"

// ErrEmptySegment is returned for a missing thing, shadow, job or template
// name.
var ErrEmptySegment = errors.New("empty topic segment")

// Segment checks that value can be spliced into a topic as a single level.
func Segment(what, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", what, ErrEmptySegment)
	}
	if strings.ContainsAny(value, "/+#") {
		return fmt.Errorf("%s %q: must not contain '/', '+' or '#'", what, value)
	}
	return nil
}

// Token returns *tok, generating and storing a fresh one when unset.
func Token(tok **string) string {
	if *tok == nil || **tok == "" {
		s := uuid.NewString()
		*tok = &s
	}
	return **tok
}

// Operation describes a request to a "<topic>" plus "<topic>/accepted" and
// "<topic>/rejected" style service operation.
type Operation struct {
	Topic string
	// Token is the correlation token embedded in Body, if the service echoes
	// one.
	Token string
	Body  any
	QoS   transport.QoS
	// Timeout overrides the client's operation timeout when positive.
	Timeout time.Duration
	// Exact subscribes to the two response topics instead of "<topic>/+",
	// for operations whose topic has sibling event topics.
	Exact bool
}

// Build encodes op into an rrclient request. With a token, and unless
// op.Exact is set, both response topics are covered by a single "<topic>/+"
// subscription.
func Build(op Operation) (rrclient.Request, error) {
	payload, err := json.Marshal(op.Body)
	if err != nil {
		return rrclient.Request{}, fmt.Errorf("encode %s request: %w", op.Topic, err)
	}

	accepted, rejected := op.Topic+"/accepted", op.Topic+"/rejected"
	req := rrclient.Request{
		PublishTopic:     op.Topic,
		Payload:          payload,
		QoS:              op.QoS,
		CorrelationToken: op.Token,
		Timeout:          op.Timeout,
		ResponsePaths: []rrclient.ResponsePath{
			{Topic: accepted, Outcome: rrclient.Accepted},
			{Topic: rejected, Outcome: rrclient.Rejected},
		},
	}
	if op.Token != "" {
		if !op.Exact {
			req.SubscriptionFilters = []string{op.Topic + "/+"}
		}
		for i := range req.ResponsePaths {
			req.ResponsePaths[i].CorrelationTokenPath = TokenPath
		}
	}
	return req, nil
}

// Invalid classifies a request that failed local validation.
func Invalid(op string, err error) error {
	return &rrclient.Error{Kind: rrclient.KindInvalidRequest, Op: op, Err: err}
}
