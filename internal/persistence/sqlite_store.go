package persistence

import (
	"database/sql"
)

// SQLiteEventStore is an EventStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteEventStore struct {
	*sqlEventStore
}

// Ensure SQLiteEventStore implements EventStore.
var _ EventStore = (*SQLiteEventStore)(nil)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS umeboshi_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			trigger_name TEXT NOT NULL,
			task_group TEXT NOT NULL DEFAULT '',
			data_blob BLOB,
			data_hash TEXT NOT NULL,
			datetime_created INTEGER NOT NULL,
			datetime_scheduled INTEGER NOT NULL,
			datetime_processed INTEGER,
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

// NewSQLiteEventStore initializes the required schema in the given
// database and returns a new SQLiteEventStore.
//
// SQLite allows a single writer; callers sharing one file between
// goroutines should keep db.SetMaxOpenConns(1).
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s, err := newSQLEventStore(db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SQLiteEventStore{sqlEventStore: s}, nil
}
