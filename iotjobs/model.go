package iotjobs

import (
	"fmt"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
)

// Timestamp is a time carried as seconds since the Unix epoch.
type Timestamp = service.Epoch

// JobStatus is the status of a job execution.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusTimedOut   JobStatus = "TIMED_OUT"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusCanceled   JobStatus = "CANCELED"
	JobStatusRejected   JobStatus = "REJECTED"
	JobStatusRemoved    JobStatus = "REMOVED"
)

// Terminal reports whether no further updates are accepted in status s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusRejected, JobStatusCanceled, JobStatusTimedOut, JobStatusRemoved:
		return true
	}
	return false
}

// RejectedErrorCode is the code field of a rejected response.
type RejectedErrorCode string

const (
	CodeInvalidTopic           RejectedErrorCode = "InvalidTopic"
	CodeInvalidJSON            RejectedErrorCode = "InvalidJson"
	CodeInvalidRequest         RejectedErrorCode = "InvalidRequest"
	CodeInvalidStateTransition RejectedErrorCode = "InvalidStateTransition"
	CodeResourceNotFound       RejectedErrorCode = "ResourceNotFound"
	CodeVersionMismatch        RejectedErrorCode = "VersionMismatch"
	CodeInternalError          RejectedErrorCode = "InternalError"
	CodeRequestThrottled       RejectedErrorCode = "RequestThrottled"
	CodeTerminalStateReached   RejectedErrorCode = "TerminalStateReached"
)

// JobExecutionSummary is a short form of a job execution.
type JobExecutionSummary struct {
	JobID           string     `json:"jobId"`
	ExecutionNumber *int64     `json:"executionNumber,omitempty"`
	VersionNumber   *int64     `json:"versionNumber,omitempty"`
	QueuedAt        *Timestamp `json:"queuedAt,omitempty"`
	StartedAt       *Timestamp `json:"startedAt,omitempty"`
	LastUpdatedAt   *Timestamp `json:"lastUpdatedAt,omitempty"`
}

// JobExecutionData is a full job execution, including the job document when
// it was requested.
type JobExecutionData struct {
	JobID           string            `json:"jobId"`
	ThingName       string            `json:"thingName,omitempty"`
	JobDocument     map[string]any    `json:"jobDocument,omitempty"`
	Status          JobStatus         `json:"status,omitempty"`
	StatusDetails   map[string]string `json:"statusDetails,omitempty"`
	ExecutionNumber *int64            `json:"executionNumber,omitempty"`
	VersionNumber   *int64            `json:"versionNumber,omitempty"`
	QueuedAt        *Timestamp        `json:"queuedAt,omitempty"`
	StartedAt       *Timestamp        `json:"startedAt,omitempty"`
	LastUpdatedAt   *Timestamp        `json:"lastUpdatedAt,omitempty"`
}

// JobExecutionState is the status part of a job execution.
type JobExecutionState struct {
	Status        JobStatus         `json:"status,omitempty"`
	StatusDetails map[string]string `json:"statusDetails,omitempty"`
	VersionNumber *int64            `json:"versionNumber,omitempty"`
}

// GetPendingJobExecutionsRequest lists the unfinished executions of a thing.
type GetPendingJobExecutionsRequest struct {
	ThingName   string  `json:"-"`
	ClientToken *string `json:"clientToken,omitempty"`
}

// GetPendingJobExecutionsResponse is the accepted answer to
// GetPendingJobExecutions.
type GetPendingJobExecutionsResponse struct {
	ClientToken    *string               `json:"clientToken,omitempty"`
	InProgressJobs []JobExecutionSummary `json:"inProgressJobs,omitempty"`
	QueuedJobs     []JobExecutionSummary `json:"queuedJobs,omitempty"`
	Timestamp      *Timestamp            `json:"timestamp,omitempty"`
}

// StartNextPendingJobExecutionRequest moves the next queued execution to
// IN_PROGRESS.
type StartNextPendingJobExecutionRequest struct {
	ThingName            string            `json:"-"`
	ClientToken          *string           `json:"clientToken,omitempty"`
	StatusDetails        map[string]string `json:"statusDetails,omitempty"`
	StepTimeoutInMinutes *int64            `json:"stepTimeoutInMinutes,omitempty"`
}

// StartNextJobExecutionResponse is the accepted answer to
// StartNextPendingJobExecution. Execution is nil when nothing was pending.
type StartNextJobExecutionResponse struct {
	ClientToken *string           `json:"clientToken,omitempty"`
	Execution   *JobExecutionData `json:"execution,omitempty"`
	Timestamp   *Timestamp        `json:"timestamp,omitempty"`
}

// DescribeJobExecutionRequest fetches one execution. JobID may be "$next".
type DescribeJobExecutionRequest struct {
	ThingName          string  `json:"-"`
	JobID              string  `json:"-"`
	ClientToken        *string `json:"clientToken,omitempty"`
	ExecutionNumber    *int64  `json:"executionNumber,omitempty"`
	IncludeJobDocument *bool   `json:"includeJobDocument,omitempty"`
}

// DescribeJobExecutionResponse is the accepted answer to DescribeJobExecution.
type DescribeJobExecutionResponse struct {
	ClientToken *string           `json:"clientToken,omitempty"`
	Execution   *JobExecutionData `json:"execution,omitempty"`
	Timestamp   *Timestamp        `json:"timestamp,omitempty"`
}

// UpdateJobExecutionRequest reports progress or completion of an execution.
type UpdateJobExecutionRequest struct {
	ThingName                string            `json:"-"`
	JobID                    string            `json:"-"`
	ClientToken              *string           `json:"clientToken,omitempty"`
	Status                   JobStatus         `json:"status"`
	StatusDetails            map[string]string `json:"statusDetails,omitempty"`
	ExpectedVersion          *int64            `json:"expectedVersion,omitempty"`
	ExecutionNumber          *int64            `json:"executionNumber,omitempty"`
	IncludeJobExecutionState *bool             `json:"includeJobExecutionState,omitempty"`
	IncludeJobDocument       *bool             `json:"includeJobDocument,omitempty"`
	StepTimeoutInMinutes     *int64            `json:"stepTimeoutInMinutes,omitempty"`
}

// UpdateJobExecutionResponse is the accepted answer to UpdateJobExecution.
type UpdateJobExecutionResponse struct {
	ClientToken    *string            `json:"clientToken,omitempty"`
	ExecutionState *JobExecutionState `json:"executionState,omitempty"`
	JobDocument    map[string]any     `json:"jobDocument,omitempty"`
	Timestamp      *Timestamp         `json:"timestamp,omitempty"`
}

// RejectedError is the document published on a rejected topic.
type RejectedError struct {
	ClientToken    *string            `json:"clientToken,omitempty"`
	Code           RejectedErrorCode  `json:"code"`
	Message        string             `json:"message,omitempty"`
	ExecutionState *JobExecutionState `json:"executionState,omitempty"`
	Timestamp      *Timestamp         `json:"timestamp,omitempty"`
}

// Error implements error.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("jobs request rejected: %s: %s", e.Code, e.Message)
}

// JobExecutionsChangedEvent is published on jobs/notify whenever the set of
// pending executions changes.
type JobExecutionsChangedEvent struct {
	Jobs      map[JobStatus][]JobExecutionSummary `json:"jobs"`
	Timestamp *Timestamp                          `json:"timestamp,omitempty"`
}

// NextJobExecutionChangedEvent is published on jobs/notify-next whenever the
// next execution to run changes. Execution is nil when none remains.
type NextJobExecutionChangedEvent struct {
	Execution *JobExecutionData `json:"execution,omitempty"`
	Timestamp *Timestamp        `json:"timestamp,omitempty"`
}
