package indexer

import (
	"errors"
	"fmt"
)

// ErrInvalidSpan is returned for malformed span or width input.
var ErrInvalidSpan = errors.New("invalid block span")

// BlockSpan is a range of block heights. Pieces produced by Split that are
// followed by another piece are half-open ([Start, End)); otherwise the span
// is inclusive of End.
type BlockSpan struct {
	Start    uint64
	End      uint64
	HalfOpen bool
}

// Width returns End - Start.
func (s BlockSpan) Width() uint64 {
	return s.End - s.Start
}

// Blocks returns the inclusive block bounds queried for the span.
func (s BlockSpan) Blocks() (from, to uint64) {
	if s.HalfOpen {
		return s.Start, s.End - 1
	}
	return s.Start, s.End
}

// Count returns the number of blocks covered by the span.
func (s BlockSpan) Count() uint64 {
	from, to := s.Blocks()
	return to - from + 1
}

func (s BlockSpan) String() string {
	if s.HalfOpen {
		return fmt.Sprintf("[%d,%d)", s.Start, s.End)
	}
	return fmt.Sprintf("[%d,%d]", s.Start, s.End)
}

func (s BlockSpan) validate() error {
	if s.Start > s.End {
		return fmt.Errorf("%w: start %d > end %d", ErrInvalidSpan, s.Start, s.End)
	}
	if s.HalfOpen && s.Start == s.End {
		return fmt.Errorf("%w: empty span %s", ErrInvalidSpan, s)
	}
	return nil
}

// Split splits a span into consecutive pieces of at most width blocks.
func Split(span BlockSpan, width uint64) ([]BlockSpan, error) {
	if width == 0 {
		return nil, fmt.Errorf("%w: width must be greater than zero", ErrInvalidSpan)
	}
	if err := span.validate(); err != nil {
		return nil, err
	}

	spans := make([]BlockSpan, 0, span.Width()/width+1)
	start := span.Start
	for {
		end := start + width
		if end >= span.End || end < start {
			spans = append(spans, BlockSpan{Start: start, End: span.End, HalfOpen: span.HalfOpen})
			break
		}
		spans = append(spans, BlockSpan{Start: start, End: end, HalfOpen: true})
		start = end
	}

	return spans, nil
}

// Partition divides a span into at most n contiguous pieces whose block
// counts differ by at most one. Every piece covers at least one block.
func Partition(span BlockSpan, n int) ([]BlockSpan, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: partition count must be greater than zero", ErrInvalidSpan)
	}
	if err := span.validate(); err != nil {
		return nil, err
	}

	total := span.Count()
	if total == 0 {
		// [0, MaxUint64] wraps.
		total = span.Width()
	}
	if uint64(n) > total {
		n = int(total)
	}
	if n <= 1 {
		return []BlockSpan{span}, nil
	}

	size, rem := total/uint64(n), total%uint64(n)
	parts := make([]BlockSpan, 0, n)
	start := span.Start
	for i := 1; i < n; i++ {
		end := span.Start + size*uint64(i) + min(rem, uint64(i))
		parts = append(parts, BlockSpan{Start: start, End: end, HalfOpen: true})
		start = end
	}
	parts = append(parts, BlockSpan{Start: start, End: span.End, HalfOpen: span.HalfOpen})
	return parts, nil
}
