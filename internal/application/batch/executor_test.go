package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meridian-core-pos-layer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLimiter admits every operation and counts admissions
type countingLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return nil
}

func newTestExecutor(opts Options, limiter Limiter) *Executor[int, string] {
	return NewExecutor[int, string](opts, limiter, zerolog.Nop())
}

func TestProcessAllSucceed(t *testing.T) {
	exec := newTestExecutor(Options{BatchSize: 2}, &countingLimiter{})

	result, err := exec.Process(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalProcessed)
	assert.Len(t, result.Succeeded, 5)
	assert.Empty(t, result.Failed)
}

func TestProcessPartialFailureDoesNotAbort(t *testing.T) {
	exec := newTestExecutor(Options{BatchSize: 2, MaxConcurrent: 1}, &countingLimiter{})

	result, err := exec.Process(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int) (string, error) {
		if item == 3 {
			return "", &domain.ValidationError{Field: "sku", Message: "missing"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalProcessed)
	assert.Len(t, result.Succeeded, 4)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 3, result.Failed[0].Item)
}

func TestProcessRetriesTransientWithLinearBackoff(t *testing.T) {
	exec := newTestExecutor(Options{
		BatchSize:     10,
		MaxConcurrent: 1,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	}, &countingLimiter{})

	var mu sync.Mutex
	var delays []time.Duration
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	attempts := 0
	result, err := exec.Process(context.Background(), []int{1}, func(ctx context.Context, item int) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &domain.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	assert.Equal(t, 3, attempts)

	// Backoff grows linearly with the attempt number
	require.Len(t, delays, 2)
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 2*delays[0], delays[1])
}

func TestProcessNonRetryableFailsImmediately(t *testing.T) {
	exec := newTestExecutor(Options{RetryAttempts: 3, RetryDelay: time.Millisecond}, &countingLimiter{})

	attempts := 0
	result, err := exec.Process(context.Background(), []int{1}, func(ctx context.Context, item int) (string, error) {
		attempts++
		return "", &domain.AuthError{TenantID: "t1", Reason: "revoked"}
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	require.Len(t, result.Failed, 1)
	assert.True(t, domain.IsAuthError(result.Failed[0].Err))
}

func TestProcessExhaustsRetries(t *testing.T) {
	exec := newTestExecutor(Options{RetryAttempts: 3, RetryDelay: time.Millisecond}, &countingLimiter{})
	exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	wantErr := &domain.TransientError{StatusCode: 500, Err: errors.New("boom")}
	result, err := exec.Process(context.Background(), []int{1}, func(ctx context.Context, item int) (string, error) {
		attempts++
		return "", wantErr
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, wantErr, result.Failed[0].Err)
}

func TestProcessConsultsLimiterPerOperationAndBetweenBatches(t *testing.T) {
	limiter := &countingLimiter{}
	exec := newTestExecutor(Options{BatchSize: 2}, limiter)

	_, err := exec.Process(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	// One admission per attempt plus one wait between each pair of batches
	assert.Equal(t, 5+2, limiter.waits)
}

func TestProcessRequiresOperationAndLimiter(t *testing.T) {
	exec := newTestExecutor(Options{}, &countingLimiter{})
	_, err := exec.Process(context.Background(), []int{1}, nil)
	assert.Error(t, err)

	exec = newTestExecutor(Options{}, nil)
	_, err = exec.Process(context.Background(), []int{1}, func(ctx context.Context, item int) (string, error) {
		return "", nil
	})
	assert.Error(t, err)
}

func TestProcessCancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := newTestExecutor(Options{BatchSize: 1, MaxConcurrent: 1}, &countingLimiter{})

	result, err := exec.Process(ctx, []int{1, 2, 3}, func(ctx context.Context, item int) (string, error) {
		cancel()
		return "ok", nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.TotalProcessed)
	assert.Len(t, result.Succeeded, 1)
}

func TestProcessReportsProgressPerBatch(t *testing.T) {
	var snapshots []domain.SyncProgress
	exec := newTestExecutor(Options{
		BatchSize: 2,
		OnProgress: func(p domain.SyncProgress) {
			snapshots = append(snapshots, p)
		},
	}, &countingLimiter{})

	_, err := exec.Process(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	require.Len(t, snapshots, 3)
	assert.Equal(t, 2, snapshots[0].Processed)
	assert.Equal(t, 3, snapshots[0].TotalBatches)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 5, last.Processed)
	assert.Equal(t, 5, last.Total)
	assert.Equal(t, 3, last.BatchIndex)
	assert.Equal(t, time.Duration(0), last.EstimatedRemaining)
}

func TestProcessEmptyInput(t *testing.T) {
	limiter := &countingLimiter{}
	exec := newTestExecutor(Options{}, limiter)

	result, err := exec.Process(context.Background(), nil, func(ctx context.Context, item int) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalProcessed)
	assert.Equal(t, 0, limiter.waits)
}
