package main

import (
	"github.com/ggoodman/iot-device-sdk-go/iotidentity"
	"github.com/ggoodman/iot-device-sdk-go/iotjobs"
	"github.com/ggoodman/iot-device-sdk-go/iotshadow"
)

// operation is a request/response exchange. Topic uses {placeholders} for
// the segments filled in from the request.
type operation struct {
	Service  string
	Name     string
	Topic    string
	Token    bool
	Request  any
	Accepted any
	Rejected any
}

// stream is an event subscription.
type stream struct {
	Service string
	Name    string
	Filter  string
	Event   any
}

const (
	shadowRoot = "$aws/things/{thingName}/shadow"
	namedRoot  = "$aws/things/{thingName}/shadow/name/{shadowName}"
	jobsRoot   = "$aws/things/{thingName}/jobs"
)

var operations = []operation{
	{"shadow", "GetShadow", shadowRoot + "/get", true, iotshadow.GetShadowRequest{}, iotshadow.GetShadowResponse{}, iotshadow.ErrorResponse{}},
	{"shadow", "UpdateShadow", shadowRoot + "/update", true, iotshadow.UpdateShadowRequest{}, iotshadow.UpdateShadowResponse{}, iotshadow.ErrorResponse{}},
	{"shadow", "DeleteShadow", shadowRoot + "/delete", true, iotshadow.DeleteShadowRequest{}, iotshadow.DeleteShadowResponse{}, iotshadow.ErrorResponse{}},
	{"shadow", "GetNamedShadow", namedRoot + "/get", true, iotshadow.GetNamedShadowRequest{}, iotshadow.GetShadowResponse{}, iotshadow.ErrorResponse{}},
	{"shadow", "UpdateNamedShadow", namedRoot + "/update", true, iotshadow.UpdateNamedShadowRequest{}, iotshadow.UpdateShadowResponse{}, iotshadow.ErrorResponse{}},
	{"shadow", "DeleteNamedShadow", namedRoot + "/delete", true, iotshadow.DeleteNamedShadowRequest{}, iotshadow.DeleteShadowResponse{}, iotshadow.ErrorResponse{}},

	{"jobs", "GetPendingJobExecutions", jobsRoot + "/get", true, iotjobs.GetPendingJobExecutionsRequest{}, iotjobs.GetPendingJobExecutionsResponse{}, iotjobs.RejectedError{}},
	{"jobs", "StartNextPendingJobExecution", jobsRoot + "/start-next", true, iotjobs.StartNextPendingJobExecutionRequest{}, iotjobs.StartNextJobExecutionResponse{}, iotjobs.RejectedError{}},
	{"jobs", "DescribeJobExecution", jobsRoot + "/{jobId}/get", true, iotjobs.DescribeJobExecutionRequest{}, iotjobs.DescribeJobExecutionResponse{}, iotjobs.RejectedError{}},
	{"jobs", "UpdateJobExecution", jobsRoot + "/{jobId}/update", true, iotjobs.UpdateJobExecutionRequest{}, iotjobs.UpdateJobExecutionResponse{}, iotjobs.RejectedError{}},

	{"identity", "CreateKeysAndCertificate", "$aws/certificates/create/json", false, iotidentity.CreateKeysAndCertificateRequest{}, iotidentity.CreateKeysAndCertificateResponse{}, iotidentity.ErrorResponse{}},
	{"identity", "CreateCertificateFromCsr", "$aws/certificates/create-from-csr/json", false, iotidentity.CreateCertificateFromCsrRequest{}, iotidentity.CreateCertificateFromCsrResponse{}, iotidentity.ErrorResponse{}},
	{"identity", "RegisterThing", "$aws/provisioning-templates/{templateName}/provision/json", false, iotidentity.RegisterThingRequest{}, iotidentity.RegisterThingResponse{}, iotidentity.ErrorResponse{}},
}

var streams = []stream{
	{"shadow", "ShadowDeltaUpdated", shadowRoot + "/update/delta", iotshadow.ShadowDeltaUpdatedEvent{}},
	{"shadow", "ShadowUpdated", shadowRoot + "/update/documents", iotshadow.ShadowUpdatedEvent{}},
	{"shadow", "NamedShadowDeltaUpdated", namedRoot + "/update/delta", iotshadow.ShadowDeltaUpdatedEvent{}},
	{"shadow", "NamedShadowUpdated", namedRoot + "/update/documents", iotshadow.ShadowUpdatedEvent{}},
	{"jobs", "JobExecutionsChanged", jobsRoot + "/notify", iotjobs.JobExecutionsChangedEvent{}},
	{"jobs", "NextJobExecutionChanged", jobsRoot + "/notify-next", iotjobs.NextJobExecutionChangedEvent{}},
}
