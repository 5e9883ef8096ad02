package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMirror is the optional durable audit mirror, grounded on
// kubeclaw's internal/session/store.go raw-SQL-over-pgxpool pattern
// rather than an ORM: audit rows are simple and append-only, so a
// generated query layer buys nothing here.
type PostgresMirror struct {
	pool *pgxpool.Pool
}

// NewPostgresMirror wraps an already-connected pool. Schema is expected
// to be managed externally via golang-migrate (see pkg/recovery's
// migration files).
func NewPostgresMirror(pool *pgxpool.Pool) *PostgresMirror {
	return &PostgresMirror{pool: pool}
}

var auditColumns = []string{"sequence_number", "timestamp", "event_type", "principal_id", "node", "checksum", "details"}

// InsertEntries batches every entry into a single COPY.
func (m *PostgresMirror) InsertEntries(ctx context.Context, entries []Entry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.Sequence, e.Timestamp, e.EventType, e.PrincipalID, e.Node, e.Checksum, e.Details})
	}

	_, err := m.pool.CopyFrom(ctx, pgx.Identifier{"audit_entries"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copying audit entries: %w", err)
	}
	return nil
}
