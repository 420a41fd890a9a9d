package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "practice-insights/internal/common/errors"
	"practice-insights/internal/common/config"
	"practice-insights/internal/common/logger"
)

var fastRetry = &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestIsRetryableZeebeError(t *testing.T) {
	assert.True(t, isRetryableZeebeError(errors.New("rpc error: code = Unavailable desc = connection refused")))
	assert.True(t, isRetryableZeebeError(errors.New("context deadline exceeded")))
	assert.False(t, isRetryableZeebeError(errors.New("rpc error: code = NotFound desc = process not found")))
}

func TestExecuteWithRetry_RecoversFromTransientError(t *testing.T) {
	calls := 0
	got, err := ExecuteWithRetry(context.Background(), fastRetry, "start", func(ctx context.Context) (int64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("unavailable")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_MapsErrors(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), fastRetry, "start", func(ctx context.Context) (int64, error) {
		calls++
		return 0, errors.New("connection refused")
	})

	var std *commonerrors.StandardError
	require.ErrorAs(t, err, &std)
	assert.Equal(t, commonerrors.ErrCodeWorkflowUnavailable, std.Code)
	assert.True(t, std.Retryable)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = ExecuteWithRetry(context.Background(), fastRetry, "start", func(ctx context.Context) (int64, error) {
		calls++
		return 0, errors.New("process not found")
	})
	require.ErrorAs(t, err, &std)
	assert.Equal(t, commonerrors.ErrCodeWorkflowRejected, std.Code)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := &RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	_, err := ExecuteWithRetry(ctx, slow, "start", func(ctx context.Context) (int64, error) {
		return 0, errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.CamundaConfig{BrokerAddress: "zeebe:26500", RequestTimeout: 1500})

	assert.Equal(t, "zeebe:26500", cfg.GatewayAddress)
	assert.True(t, cfg.UsePlaintextConnection)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
}

func TestWorkerSet_SkipsDisabled(t *testing.T) {
	set := NewWorkerSet(nil, logger.NewTestLogger(t))

	assert.False(t, set.Start("answer-question", config.WorkerConfig{Enabled: false}, nil))
	assert.Empty(t, set.TaskTypes())
	set.Stop(context.Background())
}
