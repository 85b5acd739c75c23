// Package batch provides the rate-limited batch executor that drives the
// apply phase of every sync run.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meridian-core-pos-layer/internal/domain"

	"github.com/rs/zerolog"
)

// Limiter gates admission of individual operations. Implemented by the
// sliding-window rate limiter; tests substitute their own.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Operation is the per-item async work the executor runs
type Operation[T, R any] func(ctx context.Context, item T) (R, error)

// Options configures one executor instance. Zero values fall back to the
// defaults below.
type Options struct {
	BatchSize     int
	MaxConcurrent int
	RetryAttempts int
	RetryDelay    time.Duration
	OnProgress    func(domain.SyncProgress)
}

const (
	defaultBatchSize     = 100
	defaultMaxConcurrent = 5
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = defaultMaxConcurrent
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

// ItemSuccess is one item that completed, with the operation's yield
type ItemSuccess[T, R any] struct {
	Item  T
	Value R
}

// ItemFailure is one item that failed after exhausting its retries
type ItemFailure[T any] struct {
	Item T
	Err  error
}

// Result aggregates one Process run
type Result[T, R any] struct {
	Succeeded      []ItemSuccess[T, R]
	Failed         []ItemFailure[T]
	TotalProcessed int
	Duration       time.Duration
}

// Executor runs per-item operations under a two-level bound: items are split
// into batches, and within a batch into concurrency-capped chunks that run
// in parallel, chunk by chunk. The limiter is consulted before every
// operation and again between batches so a fast batch cannot burst past the
// per-minute cap. Instances are scoped to a single run and must not be
// shared across concurrent runs.
type Executor[T, R any] struct {
	opts    Options
	limiter Limiter
	logger  zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor for one sync run
func NewExecutor[T, R any](opts Options, limiter Limiter, logger zerolog.Logger) *Executor[T, R] {
	return &Executor[T, R]{
		opts:    opts.withDefaults(),
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Process runs op over items. Individual item failures never abort the run;
// they are collected in the result. The returned error is non-nil only for
// executor-level problems: a nil operation, a missing limiter, or context
// cancellation. On cancellation the current batch finishes cleanly and the
// partial result is still returned.
func (e *Executor[T, R]) Process(ctx context.Context, items []T, op Operation[T, R]) (*Result[T, R], error) {
	if op == nil {
		return nil, fmt.Errorf("batch executor: operation is required")
	}
	if e.limiter == nil {
		return nil, fmt.Errorf("batch executor: limiter is required")
	}

	started := e.now()
	result := &Result[T, R]{}
	if len(items) == 0 {
		return result, nil
	}

	totalBatches := (len(items) + e.opts.BatchSize - 1) / e.opts.BatchSize

	for batchIndex := 0; batchIndex < totalBatches; batchIndex++ {
		// Cancellation is only honored between batches; in-flight chunks
		// always run to completion so partial batches finish cleanly.
		if err := ctx.Err(); err != nil {
			result.Duration = e.now().Sub(started)
			return result, err
		}

		lo := batchIndex * e.opts.BatchSize
		hi := min(lo+e.opts.BatchSize, len(items))
		e.runBatch(ctx, items[lo:hi], op, result)
		result.TotalProcessed = len(result.Succeeded) + len(result.Failed)

		e.reportProgress(len(items), batchIndex, totalBatches, started, result)

		// Consult the limiter between batches too, so back-to-back batches
		// of fast operations stay under the per-minute cap
		if batchIndex < totalBatches-1 {
			if err := e.limiter.Wait(ctx); err != nil {
				result.Duration = e.now().Sub(started)
				return result, err
			}
		}
	}

	result.Duration = e.now().Sub(started)
	return result, nil
}

// runBatch splits one batch into concurrency-capped chunks and runs each
// chunk's operations in parallel
func (e *Executor[T, R]) runBatch(ctx context.Context, batch []T, op Operation[T, R], result *Result[T, R]) {
	var mu sync.Mutex

	for lo := 0; lo < len(batch); lo += e.opts.MaxConcurrent {
		hi := min(lo+e.opts.MaxConcurrent, len(batch))
		chunk := batch[lo:hi]

		var wg sync.WaitGroup
		for _, item := range chunk {
			wg.Add(1)
			go func(item T) {
				defer wg.Done()

				value, err := e.runWithRetry(ctx, item, op)

				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, ItemFailure[T]{Item: item, Err: err})
				} else {
					result.Succeeded = append(result.Succeeded, ItemSuccess[T, R]{Item: item, Value: value})
				}
				mu.Unlock()
			}(item)
		}
		wg.Wait()
	}
}

// runWithRetry executes one operation with linear backoff. Non-retryable
// failures (auth, validation) fail the item immediately.
func (e *Executor[T, R]) runWithRetry(ctx context.Context, item T, op Operation[T, R]) (R, error) {
	var zero R
	var lastErr error

	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		value, err := op(ctx, item)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return zero, err
		}
		if attempt == e.opts.RetryAttempts {
			break
		}

		delay := e.opts.RetryDelay * time.Duration(attempt)
		e.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func (e *Executor[T, R]) reportProgress(total, batchIndex, totalBatches int, started time.Time, result *Result[T, R]) {
	if e.opts.OnProgress == nil {
		return
	}

	processed := result.TotalProcessed
	var eta time.Duration
	if processed > 0 && processed < total {
		elapsed := e.now().Sub(started)
		eta = elapsed / time.Duration(processed) * time.Duration(total-processed)
	}

	e.opts.OnProgress(domain.SyncProgress{
		Total:              total,
		Processed:          processed,
		Succeeded:          len(result.Succeeded),
		Failed:             len(result.Failed),
		BatchIndex:         batchIndex + 1,
		TotalBatches:       totalBatches,
		EstimatedRemaining: eta,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
