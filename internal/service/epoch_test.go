package service

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestEpoch(t *testing.T) {
	var v struct {
		At *Epoch `json:"at,omitempty"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":1700000000}`), &v))
	require.Equal(t, time.Unix(1700000000, 0).UTC(), v.At.Time)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"at":1700000000}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"at":1700000000.5}`), &v))
	require.Equal(t, 500*time.Millisecond, v.At.Sub(time.Unix(1700000000, 0)))

	require.Error(t, json.Unmarshal([]byte(`{"at":"yesterday"}`), &v))
}
