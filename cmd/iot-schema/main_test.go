package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/iot-device-sdk-go/iotjobs"
	"github.com/ggoodman/iot-device-sdk-go/iotshadow"
)

func TestExport(t *testing.T) {
	dir := t.TempDir()

	n, err := export(dir)
	require.NoError(t, err)
	require.Greater(t, n, 20)

	data, err := os.ReadFile(filepath.Join(dir, "catalog.v1.yaml"))
	require.NoError(t, err)

	var cat Catalog
	require.NoError(t, yaml.Unmarshal(data, &cat))
	require.Equal(t, 1, cat.Version)
	require.Len(t, cat.Operations, len(operations))
	require.Len(t, cat.Streams, len(streams))

	for _, op := range cat.Operations {
		for _, f := range []string{op.RequestSchema, op.AcceptedSchema, op.RejectedSchema} {
			require.FileExists(t, filepath.Join(dir, f), op.Name)
		}
		if op.Service == "identity" {
			require.Empty(t, op.CorrelationToken, op.Name)
		} else {
			require.Equal(t, "clientToken", op.CorrelationToken, op.Name)
		}
	}
	for _, s := range cat.Streams {
		require.FileExists(t, filepath.Join(dir, s.EventSchema), s.Name)
	}
}

func validate(t *testing.T, v any, doc string) *gojsonschema.Result {
	t.Helper()
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaFor("test", v)))
	require.NoError(t, err)
	res, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	require.NoError(t, err)
	return res
}

func TestSchemaFor_AcceptsServiceDocuments(t *testing.T) {
	res := validate(t, iotshadow.GetShadowResponse{}, `{
		"clientToken": "abc",
		"state": {"desired": {"color": "red"}, "delta": {"color": "red"}},
		"metadata": {"desired": {"color": {"timestamp": 1700000000}}},
		"version": 3,
		"timestamp": 1700000000,
		"extra": true
	}`)
	require.True(t, res.Valid(), "%v", res.Errors())

	res = validate(t, iotjobs.NextJobExecutionChangedEvent{}, `{
		"execution": {"jobId": "j1", "status": "QUEUED", "queuedAt": 1700000000, "versionNumber": 1},
		"timestamp": 1700000001
	}`)
	require.True(t, res.Valid(), "%v", res.Errors())
}

func TestSchemaFor_RejectsMalformedDocuments(t *testing.T) {
	res := validate(t, iotshadow.GetShadowResponse{}, `{"version": "three"}`)
	require.False(t, res.Valid())

	res = validate(t, iotjobs.RejectedError{}, `{"message": "no code"}`)
	require.False(t, res.Valid())
}
