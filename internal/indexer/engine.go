package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"logexport/internal/metrics"
)

// DefaultWorkers is used when EngineConfig.Workers is not positive.
const DefaultWorkers = 8

// ErrRetriesExhausted marks a span that was abandoned after MaxRetries failures.
var ErrRetriesExhausted = errors.New("retries exhausted")

// SpanFetcher fetches the logs of exactly one span.
type SpanFetcher interface {
	Fetch(ctx context.Context, span BlockSpan) ([]types.Log, error)
}

// EngineConfig holds runtime settings for the fetch engine.
type EngineConfig struct {
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Engine fetches a block span through a bounded worker pool. Rejected spans
// are re-split with a halved width; other failures are retried as is. Split
// pieces inherit the parent's attempt count plus one, so MaxRetries bounds
// both the split depth and the retries of every span.
type Engine struct {
	fetcher SpanFetcher
	cfg     EngineConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an Engine with its dependencies.
func NewEngine(fetcher SpanFetcher, cfg EngineConfig, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Engine{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

type retryTask struct {
	span    BlockSpan
	width   uint64
	attempt int
}

type fetchResult struct {
	task retryTask
	logs []types.Log
	err  error
}

// FetchAll returns every log in full, in arrival order. Spans that could not
// be fetched within the retry budget are reported through the returned error
// (matching ErrRetriesExhausted) alongside the logs that were retrieved.
func (e *Engine) FetchAll(ctx context.Context, full BlockSpan, width uint64) ([]types.Log, error) {
	spans, err := Split(full, width)
	if err != nil {
		return nil, err
	}

	queue := make([]retryTask, 0, len(spans))
	for _, span := range spans {
		queue = append(queue, retryTask{span: span, width: width})
	}

	jobs := make(chan retryTask)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				results <- e.runTask(ctx, task)
			}
		}()
	}

	var (
		collected []types.Log
		failures  []error
		inflight  int
		done      = ctx.Done()
	)
	for len(queue) > 0 || inflight > 0 {
		if ctx.Err() != nil && inflight == 0 {
			break
		}

		var next chan<- retryTask
		var head retryTask
		if len(queue) > 0 && ctx.Err() == nil {
			next = jobs
			head = queue[0]
		}

		select {
		case next <- head:
			queue = queue[1:]
			inflight++
		case res := <-results:
			inflight--
			if res.err == nil {
				collected = append(collected, res.logs...)
				e.metrics.AddFetched(len(res.logs))
				e.logger.Debug("range fetched", zap.Stringer("span", res.task.span), zap.Int("logs", len(res.logs)))
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			requeue, err := e.reschedule(res)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			queue = append(queue, requeue...)
		case <-done:
			done = nil
		}
	}

	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return collected, err
	}
	return collected, errors.Join(failures...)
}

func (e *Engine) runTask(ctx context.Context, task retryTask) fetchResult {
	if err := sleepContext(ctx, backoffDelay(e.cfg.RetryBackoff, task.attempt)); err != nil {
		return fetchResult{task: task, err: err}
	}
	logs, err := e.fetcher.Fetch(ctx, task.span)
	return fetchResult{task: task, logs: logs, err: err}
}

// reschedule turns a failed task into follow-up tasks, or an error once the
// task has used up its retries. Splitting counts as a retry.
func (e *Engine) reschedule(res fetchResult) ([]retryTask, error) {
	task := res.task

	if task.attempt >= e.cfg.MaxRetries {
		e.metrics.IncAbandoned()
		e.logger.Warn("range abandoned",
			zap.Stringer("span", task.span),
			zap.Int("attempts", task.attempt+1),
			zap.Error(res.err),
		)
		return nil, fmt.Errorf("span %s: %w after %d attempts: %w", task.span, ErrRetriesExhausted, task.attempt+1, res.err)
	}

	var rejected *RangeRejectedError
	if errors.As(res.err, &rejected) && task.span.Count() > 1 {
		pieces, width := narrow(task.span, task.width)
		e.metrics.IncRetry()
		e.logger.Info("range rejected, splitting",
			zap.Stringer("span", task.span),
			zap.Uint64("width", width),
			zap.Int("pieces", len(pieces)),
			zap.Error(res.err),
		)

		tasks := make([]retryTask, 0, len(pieces))
		for _, piece := range pieces {
			tasks = append(tasks, retryTask{span: piece, width: width, attempt: task.attempt + 1})
		}
		return tasks, nil
	}

	e.metrics.IncRetry()
	e.logger.Warn("range failed, retrying",
		zap.Stringer("span", task.span),
		zap.Int("attempt", task.attempt+1),
		zap.Error(res.err),
	)
	task.attempt++
	return []retryTask{task}, nil
}

// narrow splits a multi-block span with half of its effective width. Each
// piece covers strictly fewer blocks than span.
func narrow(span BlockSpan, width uint64) ([]BlockSpan, uint64) {
	width = min(width, span.Width()) / 2
	if width == 0 {
		width = 1
	}

	pieces, err := Split(span, width)
	if err == nil && len(pieces) > 1 {
		return pieces, width
	}

	from, to := span.Blocks()
	mid := from + (to-from+1)/2
	return []BlockSpan{
		{Start: span.Start, End: mid, HalfOpen: true},
		{Start: mid, End: span.End, HalfOpen: span.HalfOpen},
	}, width
}
