package iotshadow

import (
	"fmt"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
)

// Timestamp is a time carried as seconds since the Unix epoch.
type Timestamp = service.Epoch

// ShadowState is the desired and reported sections of a shadow document. A
// nil map is omitted; a JSON null for a section clears it on update.
type ShadowState struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
}

// ShadowStateWithDelta is ShadowState plus the delta computed by the
// service.
type ShadowStateWithDelta struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
	Delta    map[string]any `json:"delta,omitempty"`
}

// ShadowMetadata carries per-attribute update timestamps.
type ShadowMetadata struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
}

// GetShadowRequest asks for the classic shadow of a thing.
type GetShadowRequest struct {
	ThingName   string  `json:"-"`
	ClientToken *string `json:"clientToken,omitempty"`
}

// GetNamedShadowRequest asks for a named shadow of a thing.
type GetNamedShadowRequest struct {
	ThingName   string  `json:"-"`
	ShadowName  string  `json:"-"`
	ClientToken *string `json:"clientToken,omitempty"`
}

// GetShadowResponse is the accepted answer to a get request.
type GetShadowResponse struct {
	ClientToken *string               `json:"clientToken,omitempty"`
	State       *ShadowStateWithDelta `json:"state,omitempty"`
	Metadata    *ShadowMetadata       `json:"metadata,omitempty"`
	Version     *int64                `json:"version,omitempty"`
	Timestamp   *Timestamp            `json:"timestamp,omitempty"`
}

// UpdateShadowRequest changes the classic shadow of a thing.
type UpdateShadowRequest struct {
	ThingName   string       `json:"-"`
	ClientToken *string      `json:"clientToken,omitempty"`
	State       *ShadowState `json:"state,omitempty"`
	// Version, when set, makes the update conditional on the current version.
	Version *int64 `json:"version,omitempty"`
}

// UpdateNamedShadowRequest changes a named shadow of a thing.
type UpdateNamedShadowRequest struct {
	ThingName   string       `json:"-"`
	ShadowName  string       `json:"-"`
	ClientToken *string      `json:"clientToken,omitempty"`
	State       *ShadowState `json:"state,omitempty"`
	Version     *int64       `json:"version,omitempty"`
}

// UpdateShadowResponse is the accepted answer to an update request.
type UpdateShadowResponse struct {
	ClientToken *string         `json:"clientToken,omitempty"`
	State       *ShadowState    `json:"state,omitempty"`
	Metadata    *ShadowMetadata `json:"metadata,omitempty"`
	Version     *int64          `json:"version,omitempty"`
	Timestamp   *Timestamp      `json:"timestamp,omitempty"`
}

// DeleteShadowRequest deletes the classic shadow of a thing.
type DeleteShadowRequest struct {
	ThingName   string  `json:"-"`
	ClientToken *string `json:"clientToken,omitempty"`
	Version     *int64  `json:"version,omitempty"`
}

// DeleteNamedShadowRequest deletes a named shadow of a thing.
type DeleteNamedShadowRequest struct {
	ThingName   string  `json:"-"`
	ShadowName  string  `json:"-"`
	ClientToken *string `json:"clientToken,omitempty"`
	Version     *int64  `json:"version,omitempty"`
}

// DeleteShadowResponse is the accepted answer to a delete request.
type DeleteShadowResponse struct {
	ClientToken *string    `json:"clientToken,omitempty"`
	Version     *int64     `json:"version,omitempty"`
	Timestamp   *Timestamp `json:"timestamp,omitempty"`
}

// ErrorResponse is the document published on a rejected topic.
type ErrorResponse struct {
	ClientToken *string    `json:"clientToken,omitempty"`
	Code        int        `json:"code"`
	Message     string     `json:"message,omitempty"`
	Timestamp   *Timestamp `json:"timestamp,omitempty"`
}

// Error implements error, so a rejection can be returned as one.
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("shadow request rejected: %d %s", e.Code, e.Message)
}

// ShadowDeltaUpdatedEvent is published on update/delta when desired and
// reported state differ.
type ShadowDeltaUpdatedEvent struct {
	ClientToken *string        `json:"clientToken,omitempty"`
	State       map[string]any `json:"state,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Version     *int64         `json:"version,omitempty"`
	Timestamp   *Timestamp     `json:"timestamp,omitempty"`
}

// ShadowUpdateSnapshot is one side of a ShadowUpdatedEvent.
type ShadowUpdateSnapshot struct {
	State    *ShadowState    `json:"state,omitempty"`
	Metadata *ShadowMetadata `json:"metadata,omitempty"`
	Version  *int64          `json:"version,omitempty"`
}

// ShadowUpdatedEvent is published on update/documents after every
// successful update.
type ShadowUpdatedEvent struct {
	Previous  *ShadowUpdateSnapshot `json:"previous,omitempty"`
	Current   *ShadowUpdateSnapshot `json:"current,omitempty"`
	Timestamp *Timestamp            `json:"timestamp,omitempty"`
}
