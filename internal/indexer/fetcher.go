package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"logexport/internal/metrics"
)

// LogQuerier is the subset of the chain client used to query logs.
type LogQuerier interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// RangeRejectedError reports that the node refused a span, usually because
// it covers too many blocks or would return too many logs.
type RangeRejectedError struct {
	Span BlockSpan
	Err  error
}

func (e *RangeRejectedError) Error() string {
	return fmt.Sprintf("range %s rejected: %v", e.Span, e.Err)
}

func (e *RangeRejectedError) Unwrap() error { return e.Err }

// TransportError reports any other query failure for a span.
type TransportError struct {
	Span BlockSpan
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("range %s query failed: %v", e.Span, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// JSON-RPC codes used by providers for oversized eth_getLogs requests.
const (
	codeLimitExceeded = -32005
	codeInvalidParams = -32602
)

var rangeRejectionHints = []string{
	"block range",
	"range is too large",
	"range too large",
	"too many blocks",
	"query returned more than",
	"more than 10000 results",
	"response size exceeded",
	"response size should not",
	"log response size exceeded",
	"limit exceeded",
	"exceed maximum block range",
	"query timeout exceeded",
}

// IsRangeRejection reports whether err looks like a provider refusing the
// requested block range rather than a connectivity failure.
func IsRangeRejection(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusRequestEntityTooLarge {
		return true
	}

	msg := strings.ToLower(err.Error())
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded:
			return true
		case codeInvalidParams:
			if strings.Contains(msg, "range") || strings.Contains(msg, "block") {
				return true
			}
		}
	}

	for _, hint := range rangeRejectionHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// RangeFetcher issues exactly one log query per span.
type RangeFetcher struct {
	querier   LogQuerier
	addresses []common.Address
	topic0    []common.Hash
	metrics   *metrics.Metrics
}

// NewRangeFetcher builds a fetcher scoped to one emitter and event topic.
func NewRangeFetcher(querier LogQuerier, address common.Address, topic0 common.Hash, m *metrics.Metrics) *RangeFetcher {
	return &RangeFetcher{
		querier:   querier,
		addresses: []common.Address{address},
		topic0:    []common.Hash{topic0},
		metrics:   m,
	}
}

// Fetch queries the logs of a single span. Failures are returned as
// *RangeRejectedError or *TransportError; no retry happens here.
func (f *RangeFetcher) Fetch(ctx context.Context, span BlockSpan) ([]types.Log, error) {
	from, to := span.Blocks()
	started := time.Now()

	logs, err := f.querier.FilterLogs(ctx, from, to, f.addresses, f.topic0)
	if err == nil {
		f.metrics.ObserveRange(metrics.OutcomeSuccess, span.Count(), time.Since(started))
		return logs, nil
	}

	if IsRangeRejection(err) {
		f.metrics.ObserveRange(metrics.OutcomeRejected, span.Count(), time.Since(started))
		return nil, &RangeRejectedError{Span: span, Err: err}
	}
	f.metrics.ObserveRange(metrics.OutcomeTransport, span.Count(), time.Since(started))
	return nil, &TransportError{Span: span, Err: err}
}
