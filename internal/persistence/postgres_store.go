package persistence

import (
	"database/sql"
)

// PostgresEventStore is an EventStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresEventStore struct {
	*sqlEventStore
}

// Ensure PostgresEventStore implements EventStore.
var _ EventStore = (*PostgresEventStore)(nil)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS umeboshi_events (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			trigger_name TEXT NOT NULL,
			task_group TEXT NOT NULL DEFAULT '',
			data_blob BYTEA,
			data_hash TEXT NOT NULL,
			datetime_created BIGINT NOT NULL,
			datetime_scheduled BIGINT NOT NULL,
			datetime_processed BIGINT,
			status INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS umeboshi_events_due_idx
			ON umeboshi_events (datetime_processed, datetime_scheduled);`,
		`CREATE INDEX IF NOT EXISTS umeboshi_events_dedup_idx
			ON umeboshi_events (data_hash, datetime_processed, trigger_name);`,
		`CREATE INDEX IF NOT EXISTS umeboshi_events_task_group_idx
			ON umeboshi_events (task_group);`,
		`CREATE INDEX IF NOT EXISTS umeboshi_events_status_idx
			ON umeboshi_events (status, datetime_scheduled);`,
	},
}

// NewPostgresEventStore initializes the required schema in the given
// database and returns a new PostgresEventStore.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s, err := newSQLEventStore(db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresEventStore{sqlEventStore: s}, nil
}
