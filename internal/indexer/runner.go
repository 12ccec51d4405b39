package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"logexport/internal/decode"
	"logexport/internal/eventabi"
	"logexport/internal/metrics"
	"logexport/internal/model"
	"logexport/internal/storage"
)

// ChainClient is one connection to the ledger query service.
type ChainClient interface {
	LogQuerier
	LatestBlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a new ChainClient.
type Dialer func(ctx context.Context) (ChainClient, error)

// DecodeErrorSink receives per-event decode failures.
type DecodeErrorSink interface {
	PutDecodeErrors(failures []model.DecodeError) error
}

// RunConfig holds runtime settings for an export.
type RunConfig struct {
	Address       common.Address
	Signature     *eventabi.Signature
	StartBlock    uint64
	StopBlock     *uint64
	StepBlock     uint64
	Clients       int
	Engine        EngineConfig
	DecodeWorkers int
	Strict        bool
}

// Summary describes a finished export.
type Summary struct {
	Span       BlockSpan
	Fetched    int
	Duplicates int
	Decoded    int
	Failed     int
}

// Runner fetches, decodes and writes the events of one signature.
type Runner struct {
	cfg     RunConfig
	dial    Dialer
	sink    storage.Sink
	errSink DecodeErrorSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRunner builds a Runner with its dependencies. errSink may be nil.
func NewRunner(cfg RunConfig, dial Dialer, sink storage.Sink, errSink DecodeErrorSink, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clients <= 0 {
		cfg.Clients = 1
	}
	return &Runner{
		cfg:     cfg,
		dial:    dial,
		sink:    sink,
		errSink: errSink,
		logger:  logger,
		metrics: m,
	}
}

// Run executes the export. Rows that could be produced are written even when
// some spans were abandoned; those spans are reported in the returned error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.dial == nil {
		return Summary{}, fmt.Errorf("chain dialer is nil")
	}
	if r.sink == nil {
		return Summary{}, fmt.Errorf("sink is nil")
	}
	if r.cfg.Signature == nil {
		return Summary{}, fmt.Errorf("event signature is nil")
	}

	primary, err := r.dial(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("connect rpc: %w", err)
	}
	defer primary.Close()

	span, ok, err := r.resolveSpan(ctx, primary)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Span: span}
	if !ok {
		r.logger.Info("nothing to export", zap.Uint64("from", r.cfg.StartBlock))
		return summary, nil
	}

	logs, fetchErr := r.fetch(ctx, primary, span)
	if fetchErr != nil && !errors.Is(fetchErr, ErrRetriesExhausted) {
		return summary, fetchErr
	}
	summary.Fetched = len(logs)

	logs, summary.Duplicates = dedupe(logs)
	if summary.Duplicates > 0 {
		r.logger.Warn("duplicate logs dropped", zap.Int("duplicates", summary.Duplicates))
	}

	decoder := decode.NewDecoder(r.cfg.Signature, r.cfg.Strict)
	pool := decode.NewPool(decoder, r.cfg.DecodeWorkers, r.logger, r.metrics)
	events, failures, err := pool.DecodeAll(ctx, logs)
	if err != nil {
		return summary, fmt.Errorf("decode logs: %w", err)
	}
	summary.Decoded = len(events)
	summary.Failed = len(failures)

	if err := r.sink.PutEvents(ctx, events); err != nil {
		return summary, fmt.Errorf("store rows: %w", err)
	}
	r.metrics.AddRows(len(events))

	if r.errSink != nil && len(failures) > 0 {
		if err := r.errSink.PutDecodeErrors(failures); err != nil {
			return summary, fmt.Errorf("store decode errors: %w", err)
		}
	}

	r.logger.Info("export complete",
		zap.Stringer("span", span),
		zap.Int("fetched", summary.Fetched),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("decoded", summary.Decoded),
		zap.Int("failed", summary.Failed),
	)

	return summary, fetchErr
}

func (r *Runner) resolveSpan(ctx context.Context, client ChainClient) (BlockSpan, bool, error) {
	latest, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return BlockSpan{}, false, fmt.Errorf("get latest block: %w", err)
	}

	stop := latest
	if r.cfg.StopBlock != nil && *r.cfg.StopBlock < latest {
		stop = *r.cfg.StopBlock
	}
	if r.cfg.StartBlock > stop {
		return BlockSpan{Start: r.cfg.StartBlock, End: stop}, false, nil
	}
	return BlockSpan{Start: r.cfg.StartBlock, End: stop}, true, nil
}

// fetch runs one engine per partition, each on its own connection. Logs are
// merged in completion order.
func (r *Runner) fetch(ctx context.Context, primary ChainClient, span BlockSpan) ([]types.Log, error) {
	parts, err := Partition(span, r.cfg.Clients)
	if err != nil {
		return nil, err
	}

	r.logger.Info("fetch start",
		zap.Stringer("span", span),
		zap.Int("clients", len(parts)),
		zap.Uint64("step", r.cfg.StepBlock),
		zap.Int("workers", r.cfg.Engine.Workers),
	)
	started := time.Now()

	var (
		mu       sync.Mutex
		merged   []types.Log
		abandons []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			client := primary
			if i > 0 {
				var err error
				client, err = r.dial(gctx)
				if err != nil {
					return fmt.Errorf("connect rpc client %d: %w", i, err)
				}
				defer client.Close()
			}

			// Some providers fail the first eth_getLogs on a fresh connection.
			if height, err := client.LatestBlockNumber(gctx); err != nil {
				r.logger.Warn("client warm-up failed", zap.Int("client", i), zap.Error(err))
			} else {
				r.logger.Info("client ready", zap.Int("client", i), zap.Uint64("height", height), zap.Stringer("span", part))
			}

			fetcher := NewRangeFetcher(client, r.cfg.Address, r.cfg.Signature.Topic0(), r.metrics)
			engine := NewEngine(fetcher, r.cfg.Engine, r.logger.With(zap.Int("client", i)), r.metrics)
			logs, err := engine.FetchAll(gctx, part, r.cfg.StepBlock)

			mu.Lock()
			merged = append(merged, logs...)
			if err != nil && errors.Is(err, ErrRetriesExhausted) {
				abandons = append(abandons, err)
				err = nil
			}
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("fetch complete", zap.Int("logs", len(merged)), zap.Duration("elapsed", time.Since(started)))
	return merged, errors.Join(abandons...)
}

type logKey struct {
	block common.Hash
	tx    common.Hash
	index uint
}

// dedupe drops repeated logs, keeping first-seen order.
func dedupe(logs []types.Log) ([]types.Log, int) {
	seen := make(map[logKey]struct{}, len(logs))
	out := logs[:0]
	for _, log := range logs {
		key := logKey{block: log.BlockHash, tx: log.TxHash, index: log.Index}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, log)
	}
	return out, len(logs) - len(out)
}
