package storage

import (
	"context"
	"errors"

	"logexport/internal/model"
)

// Sink receives decoded events.
type Sink interface {
	PutEvents(ctx context.Context, events []model.DecodedEvent) error
	Close() error
}

type multiSink []Sink

// Multi fans events out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) PutEvents(ctx context.Context, events []model.DecodedEvent) error {
	for _, sink := range m {
		if err := sink.PutEvents(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Close() error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
