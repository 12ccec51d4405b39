package decode

import (
	"context"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"logexport/internal/metrics"
	"logexport/internal/model"
)

// Pool decodes logs concurrently on a fixed number of workers.
type Pool struct {
	decoder *Decoder
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPool builds a Pool; workers <= 0 uses runtime.NumCPU().
func NewPool(decoder *Decoder, workers int, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{decoder: decoder, workers: workers, logger: logger, metrics: m}
}

type slot struct {
	fields []string
	err    error
}

// DecodeAll decodes every log exactly once. Successful results keep the
// input order; failures are returned separately and do not stop the batch.
func (p *Pool) DecodeAll(ctx context.Context, logs []types.Log) ([]model.DecodedEvent, []model.DecodeError, error) {
	slots := make([]slot, len(logs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < min(p.workers, len(logs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				fields, err := p.decoder.Decode(logs[idx])
				slots[idx] = slot{fields: fields, err: err}
			}
		}()
	}

	sent := 0
dispatch:
	for ; sent < len(logs); sent++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- sent:
		}
	}
	close(jobs)
	wg.Wait()

	if sent < len(logs) {
		return nil, nil, ctx.Err()
	}

	events := make([]model.DecodedEvent, 0, len(logs))
	var failures []model.DecodeError
	for i, s := range slots {
		if s.err != nil {
			p.metrics.IncDecodeError()
			p.logger.Warn("decode failed",
				zap.Uint64("block_number", logs[i].BlockNumber),
				zap.String("tx_hash", logs[i].TxHash.Hex()),
				zap.Uint("log_index", logs[i].Index),
				zap.Error(s.err),
			)
			failures = append(failures, model.NewDecodeError(logs[i], s.err))
			continue
		}
		p.metrics.IncDecoded()
		events = append(events, model.DecodedEvent{Log: logs[i], Fields: s.fields})
	}

	return events, failures, nil
}
