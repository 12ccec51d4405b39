package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"logexport/internal/model"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "event_rows"

var columns = []string{
	"event_name", "address", "block_number", "block_hash", "tx_hash", "log_index", "fields",
}

// Store copies exported events into a Postgres table.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	eventName string
}

// NewStore connects a pool to dsn. An empty table uses DefaultTable.
func NewStore(ctx context.Context, dsn, table, eventName string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if table == "" {
		table = DefaultTable
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: table, eventName: eventName}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureTable creates the target table when it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_name   TEXT        NOT NULL,
			address      TEXT        NOT NULL,
			block_number BIGINT      NOT NULL,
			block_hash   TEXT        NOT NULL,
			tx_hash      TEXT        NOT NULL,
			log_index    BIGINT      NOT NULL,
			fields       TEXT[]      NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, pgx.Identifier{s.table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// PutEvents bulk-inserts events with COPY.
func (s *Store) PutEvents(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, columns, pgx.CopyFromRows(copyRows(s.eventName, events)))
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("copy rows: inserted %d of %d", n, len(events))
	}
	return nil
}

func copyRows(eventName string, events []model.DecodedEvent) [][]any {
	rows := make([][]any, 0, len(events))
	for _, event := range events {
		rows = append(rows, []any{
			eventName,
			event.Log.Address.Hex(),
			int64(event.Log.BlockNumber),
			event.Log.BlockHash.Hex(),
			event.Log.TxHash.Hex(),
			int64(event.Log.Index),
			event.Fields,
		})
	}
	return rows
}
