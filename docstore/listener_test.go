package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/parosapp/paros-go/backend"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSendFailureMapsDeadlineToTimeout(t *testing.T) {
	l := &Listener{}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := l.sendFailure(ctx, ctx.Err())
	require.ErrorIs(t, err, backend.ErrSendTimeout)
}

// Cancellation is the caller's own doing, not a rejection by the backend. The
// websocket channel reports it as the context error and this one must too.
func TestSendFailurePropagatesCancellation(t *testing.T) {
	l := &Listener{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.sendFailure(ctx, ctx.Err())
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, backend.ErrSendRejected)
	require.NotErrorIs(t, err, backend.ErrSendTimeout)
}

func TestSendFailureMapsBackendErrorsToRejected(t *testing.T) {
	l := &Listener{}

	err := l.sendFailure(context.Background(), errors.New("value too long for type character varying"))
	require.ErrorIs(t, err, backend.ErrSendRejected)
	require.Contains(t, err.Error(), "value too long")
}
