package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

// schema is applied by Migrate. Monetary columns are NUMERIC for exact
// decimal precision. seq orders entries stamped in the same instant by
// insertion.
const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	seq       BIGSERIAL,
	id        TEXT PRIMARY KEY,
	kind      TEXT NOT NULL,
	ref_id    BIGINT NOT NULL,
	symbol    TEXT NOT NULL,
	amount    NUMERIC NOT NULL,
	price     NUMERIC NOT NULL,
	value     NUMERIC NOT NULL,
	tx_ref    TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
ALTER TABLE journal_entries ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
DROP INDEX IF EXISTS journal_entries_timestamp_idx;
CREATE INDEX IF NOT EXISTS journal_entries_order_idx ON journal_entries (timestamp DESC, seq DESC);`

// PostgresJournal implements Journal on a journal_entries table.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a PostgreSQL-backed journal.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

// Migrate creates the journal table if it does not exist.
func (s *PostgresJournal) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (s *PostgresJournal) Append(ctx context.Context, e model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, kind, ref_id, symbol, amount, price, value, tx_ref, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		e.ID, e.Kind, e.RefID, e.Symbol,
		e.Amount.String(), e.Price.String(), e.Value.String(),
		e.TxRef, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append journal entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresJournal) List(ctx context.Context, f Filter) ([]model.JournalEntry, error) {
	query, args := listQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// listQuery builds the SELECT for f with positional arguments.
func listQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, kind, ref_id, symbol,
	        amount::TEXT, price::TEXT, value::TEXT, tx_ref, timestamp
	 FROM journal_entries`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC, seq DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanEntries(rows pgx.Rows) ([]model.JournalEntry, error) {
	entries := make([]model.JournalEntry, 0)
	for rows.Next() {
		var e model.JournalEntry
		var amountS, priceS, valueS string

		if err := rows.Scan(&e.ID, &e.Kind, &e.RefID, &e.Symbol,
			&amountS, &priceS, &valueS, &e.TxRef, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if err := decodeNumeric(&e, amountS, priceS, valueS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// decodeNumeric parses the NUMERIC::TEXT columns of e.
func decodeNumeric(e *model.JournalEntry, amount, price, value string) error {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"amount", amount, &e.Amount},
		{"price", price, &e.Price},
		{"value", value, &e.Value},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("journal entry %s: parse %s %q: %w", e.ID, f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
