package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore persists snapshots as rows in a single table, upserted by
// key, mirroring internal/app/storage/postgres's raw-SQL, parameterized
// query style.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-opened handle. Callers own the
// connection's lifecycle beyond Close.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the snapshot table if it does not already exist.
// Callers typically run this once at startup alongside their own migrations.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			key        TEXT PRIMARY KEY,
			taken_at   TIMESTAMPTZ NOT NULL,
			queue      JSONB NOT NULL,
			workers    JSONB NOT NULL,
			results    JSONB NOT NULL
		)
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, key string, snapshot Snapshot) error {
	snapshot.TakenAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_snapshots (key, taken_at, queue, workers, results)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET taken_at = $2, queue = $3, workers = $4, results = $5
	`, key, snapshot.TakenAt, nullableJSON(snapshot.Queue), nullableJSON(snapshot.Workers), nullableJSON(snapshot.Results))
	return err
}

func (s *PostgresStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT taken_at, queue, workers, results
		FROM workflow_snapshots
		WHERE key = $1
	`, key)

	var snapshot Snapshot
	if err := row.Scan(&snapshot.TakenAt, &snapshot.Queue, &snapshot.Workers, &snapshot.Results); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// nullableJSON substitutes a JSON null for an empty raw message so an
// unset queue/workers/results field round-trips instead of violating the
// NOT NULL constraint.
func nullableJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

var _ Store = (*PostgresStore)(nil)
