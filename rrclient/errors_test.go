package rrclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsAndAs(t *testing.T) {
	cause := context.Canceled
	err := fmt.Errorf("shadow get: %w", requestError(KindCanceled, "a/b", cause))

	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTimeout)

	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, "request", e.Op)
	require.Equal(t, "a/b", e.Topic)
	require.Equal(t, KindCanceled, KindOf(err))
	require.Contains(t, err.Error(), "canceled")

	require.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
