package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs every function", func(t *testing.T) {
		sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), &http.Server{}, time.Second)
		var calls atomic.Int32
		for i := 0; i < 3; i++ {
			sm.RegisterShutdownFunc(func(context.Context) error {
				calls.Add(1)
				return nil
			})
		}

		require.NoError(t, sm.Shutdown(context.Background()))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("collects errors", func(t *testing.T) {
		sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, time.Second)
		cause := errors.New("watcher close failed")
		sm.RegisterShutdownFunc(func(context.Context) error { return cause })
		sm.RegisterShutdownFunc(func(context.Context) error { return nil })

		err := sm.Shutdown(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "1 errors")
	})

	t.Run("times out", func(t *testing.T) {
		sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, 20*time.Millisecond)
		release := make(chan struct{})
		defer close(release)
		sm.RegisterShutdownFunc(func(context.Context) error {
			<-release
			return nil
		})

		assert.EqualError(t, sm.Shutdown(context.Background()), "shutdown timeout reached")
	})
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, time.Second)
	var ran atomic.Bool
	sm.RegisterShutdownFunc(func(context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, ran.Load())
}
