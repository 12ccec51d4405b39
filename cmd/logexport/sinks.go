package main

import (
	"context"
	"fmt"
	"os"

	"logexport/internal/config"
	"logexport/internal/eventabi"
	"logexport/internal/format"
	"logexport/internal/storage"
	"logexport/internal/storage/postgres"
)

// openSinks builds the row sink chain and the optional decode error writer.
func openSinks(ctx context.Context, cfg config.Config, sig *eventabi.Signature) (storage.Sink, *storage.JsonlWriter, error) {
	columns := format.Columns{
		BlockNumber: cfg.BlockNumber,
		BlockHash:   cfg.BlockHash,
		TxHash:      cfg.TxHash,
	}

	primary, err := openPrimary(cfg, sig.Name, columns)
	if err != nil {
		return nil, nil, err
	}
	sinks := []storage.Sink{primary}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.PGTable, sig.Name)
		if err != nil {
			primary.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureTable(ctx); err != nil {
			store.Close()
			primary.Close()
			return nil, nil, err
		}
		sinks = append(sinks, store)
	}

	var errWriter *storage.JsonlWriter
	if cfg.Errors != "" {
		errWriter, err = storage.OpenJsonlFile(cfg.Errors)
		if err != nil {
			storage.Multi(sinks...).Close()
			return nil, nil, err
		}
	}

	if len(sinks) == 1 {
		return primary, errWriter, nil
	}
	return storage.Multi(sinks...), errWriter, nil
}

func openPrimary(cfg config.Config, eventName string, columns format.Columns) (storage.Sink, error) {
	switch cfg.Format {
	case config.FormatJSONL:
		if cfg.Out == "-" {
			return storage.NewJsonlSink(storage.NewJsonlWriter(os.Stdout, nil), eventName, columns), nil
		}
		writer, err := storage.OpenJsonlFile(cfg.Out)
		if err != nil {
			return nil, err
		}
		return storage.NewJsonlSink(writer, eventName, columns), nil
	case config.FormatCSV:
		if cfg.Out == "-" {
			return storage.NewCSVSink(os.Stdout, nil, columns), nil
		}
		file, err := storage.CreateFile(cfg.Out)
		if err != nil {
			return nil, err
		}
		return storage.NewCSVSink(file, file, columns), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", cfg.Format)
	}
}
