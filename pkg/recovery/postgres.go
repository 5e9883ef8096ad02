package recovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMirror durably persists every backup snapshot alongside
// pkg/audit's PostgresMirror, sharing the same connection pool rather
// than opening a second one.
type PostgresMirror struct {
	pool *pgxpool.Pool
}

// NewPostgresMirror wraps an already-connected pool.
func NewPostgresMirror(pool *pgxpool.Pool) *PostgresMirror {
	return &PostgresMirror{pool: pool}
}

// InsertSnapshot stores the whole snapshot as a JSON blob keyed by id:
// recovery backups are read back whole, never queried by field, so a
// single jsonb column is simpler than exploding four components into
// their own tables.
func (m *PostgresMirror) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = m.pool.Exec(ctx,
		`INSERT INTO recovery_snapshots (id, created_at, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.CreatedAt, raw)
	if err != nil {
		return fmt.Errorf("inserting recovery snapshot: %w", err)
	}
	return nil
}
