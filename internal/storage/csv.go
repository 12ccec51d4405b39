package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"logexport/internal/format"
	"logexport/internal/model"
)

// CSVSink writes one comma-joined row per event, without a header.
type CSVSink struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	closer  io.Closer
	columns format.Columns
}

// NewCSVSink writes rows to w. closer may be nil when w must stay open (stdout).
func NewCSVSink(w io.Writer, closer io.Closer, columns format.Columns) *CSVSink {
	return &CSVSink{
		writer:  bufio.NewWriter(w),
		closer:  closer,
		columns: columns,
	}
}

// PutEvents writes one row per event.
func (s *CSVSink) PutEvents(_ context.Context, events []model.DecodedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		if _, err := s.writer.WriteString(format.Row(event.Fields, s.columns, event.Log)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		if s.closer != nil {
			s.closer.Close()
		}
		return fmt.Errorf("flush output: %w", err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
