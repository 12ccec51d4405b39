package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"logexport/internal/format"
	"logexport/internal/model"
)

// JsonlWriter writes one JSON document per line.
type JsonlWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
	closer io.Closer
}

// NewJsonlWriter wraps w. closer may be nil.
func NewJsonlWriter(w io.Writer, closer io.Closer) *JsonlWriter {
	return &JsonlWriter{writer: bufio.NewWriter(w), closer: closer}
}

// CreateFile opens path for writing, creating parent directories and
// truncating any previous content.
func CreateFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return file, nil
}

// OpenJsonlFile creates a JsonlWriter backed by a file.
func OpenJsonlFile(path string) (*JsonlWriter, error) {
	file, err := CreateFile(path)
	if err != nil {
		return nil, err
	}
	return NewJsonlWriter(file, file), nil
}

// Write appends value as one JSON line.
func (w *JsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *JsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// PutDecodeErrors appends decode failures.
func (w *JsonlWriter) PutDecodeErrors(failures []model.DecodeError) error {
	for _, failure := range failures {
		if err := w.Write(failure); err != nil {
			return err
		}
	}
	return nil
}

// JsonlSink writes events as model.RowRecord lines.
type JsonlSink struct {
	writer    *JsonlWriter
	eventName string
	columns   format.Columns
}

// NewJsonlSink writes row records for eventName to writer.
func NewJsonlSink(writer *JsonlWriter, eventName string, columns format.Columns) *JsonlSink {
	return &JsonlSink{writer: writer, eventName: eventName, columns: columns}
}

// PutEvents writes one record per event.
func (s *JsonlSink) PutEvents(_ context.Context, events []model.DecodedEvent) error {
	for _, event := range events {
		if err := s.writer.Write(s.record(event)); err != nil {
			return fmt.Errorf("write row record: %w", err)
		}
	}
	return nil
}

func (s *JsonlSink) Close() error {
	return s.writer.Close()
}

func (s *JsonlSink) record(event model.DecodedEvent) model.RowRecord {
	record := model.RowRecord{
		Event:    s.eventName,
		Address:  event.Log.Address.Hex(),
		Fields:   event.Fields,
		LogIndex: uint64(event.Log.Index),
	}
	if s.columns.BlockNumber {
		block := event.Log.BlockNumber
		record.BlockNumber = &block
	}
	if s.columns.BlockHash {
		record.BlockHash = event.Log.BlockHash.Hex()
	}
	if s.columns.TxHash {
		record.TxHash = event.Log.TxHash.Hex()
	}
	return record
}
