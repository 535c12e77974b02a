package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Bus", "Publish", "notify subscribers")
	require.Error(t, err)
	assert.Equal(t, "Bus.Publish: notify subscribers failed: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(stderrors.New("inner"), "Syncer", "HandleDelta", "decode")
			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Syncer", ce.Component)
			assert.Equal(t, tt.class, Classify(err))
		})
	}
}

func TestIsInvalidSentinels(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidPath))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrInvalidDelta)))
	assert.True(t, IsInvalid(ErrUnknownOperation))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatalSentinels(t *testing.T) {
	assert.True(t, IsFatal(ErrBusDisposed))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.False(t, IsFatal(ErrInvalidPath))
	assert.False(t, IsFatal(nil))
}

func TestIsTransientSentinelsAndPatterns(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrSnapshotUnavailable))
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(WrapInvalid(stderrors.New("bad"), "c", "m", "a")))
	assert.False(t, IsTransient(nil))
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestRetryConfigBridge(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}
	cfg := rc.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}

func TestShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(WrapInvalid(stderrors.New("bad"), "c", "m", "a"), 0))
	assert.False(t, rc.ShouldRetry(nil, 0))
}
