package persistence

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/api"
)

// eventsTable is the table every SQL store uses.
const eventsTable = "umeboshi_events"

const eventColumns = `id, uuid, trigger_name, task_group, data_blob, data_hash,
	datetime_created, datetime_scheduled, datetime_processed, status`

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string
	// schema is executed statement by statement on construction.
	schema []string
	// numbered placeholders ($1, $2, ...) instead of '?'.
	numbered bool
}

// sqlEventStore implements EventStore over database/sql. Queries are
// written with '?' placeholders and rebound for the dialect.
type sqlEventStore struct {
	db *sql.DB
	d  dialect
}

func newSQLEventStore(db *sql.DB, d dialect) (*sqlEventStore, error) {
	s := &sqlEventStore{db: db, d: d}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlEventStore) initSchema() error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "%s: init schema", s.d.name)
		}
	}
	return nil
}

// DB returns the underlying handle.
func (s *sqlEventStore) DB() *sql.DB { return s.db }

func (s *sqlEventStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlEventStore) CreateEvent(ctx context.Context, ev *api.Event) error {
	query := s.rebind(`
		INSERT INTO ` + eventsTable + ` (uuid, trigger_name, task_group, data_blob, data_hash,
			datetime_created, datetime_scheduled, datetime_processed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		ev.UUID,
		ev.TriggerName,
		ev.TaskGroup,
		ev.DataBlob,
		ev.DataHash,
		toNanos(ev.CreatedAt),
		toNanos(ev.ScheduledAt),
		nullNanos(ev.ProcessedAt),
		int(ev.Status),
	).Scan(&id)
	if err != nil {
		return errors.Wrapf(err, "%s: insert event", s.d.name)
	}

	ev.ID = id
	return nil
}

func (s *sqlEventStore) UpdateEvent(ctx context.Context, ev *api.Event) error {
	query := s.rebind(`
		UPDATE ` + eventsTable + `
		SET status = ?, datetime_processed = ?, data_blob = ?, data_hash = ?
		WHERE id = ? AND datetime_processed IS NULL`)

	res, err := s.db.ExecContext(ctx, query,
		int(ev.Status),
		nullNanos(ev.ProcessedAt),
		ev.DataBlob,
		ev.DataHash,
		ev.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "%s: update event %d", s.d.name, ev.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	return s.whyNotUpdated(ctx, ev.ID)
}

// whyNotUpdated tells a missing row from a processed one after an update
// matched nothing.
func (s *sqlEventStore) whyNotUpdated(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM `+eventsTable+` WHERE id = ?`), id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrEventNotFound
	case err != nil:
		return errors.Wrapf(err, "%s: check event %d", s.d.name, id)
	default:
		return ErrEventAlreadyProcessed
	}
}

func (s *sqlEventStore) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM `+eventsTable+` WHERE id = ?`), id)
	if err != nil {
		return errors.Wrapf(err, "%s: delete event %d", s.d.name, id)
	}
	return requireAffected(res)
}

func (s *sqlEventStore) GetEvent(ctx context.Context, id int64) (*api.Event, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+eventColumns+`
		FROM `+eventsTable+`
		WHERE id = ?`), id)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, errors.Wrapf(err, "%s: get event %d", s.d.name, id)
	}
	return ev, nil
}

func (s *sqlEventStore) FindMatching(ctx context.Context, q MatchQuery) ([]*api.Event, error) {
	groupColumn := "trigger_name"
	if q.Group.Field == api.GroupByTaskGroup {
		groupColumn = "task_group"
	}

	clauses := []string{"data_hash = ?", groupColumn + " = ?"}
	args := []any{q.DataHash, q.Group.Value}
	if q.UnprocessedOnly {
		clauses = append(clauses, "datetime_processed IS NULL")
	}
	if len(q.Statuses) > 0 {
		clause, statusArgs := statusClause(q.Statuses)
		clauses = append(clauses, clause)
		args = append(args, statusArgs...)
	}

	return s.queryEvents(ctx, clauses, args, 0)
}

func (s *sqlEventStore) ListDueEventIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM ` + eventsTable + `
		WHERE datetime_processed IS NULL AND status = ? AND datetime_scheduled <= ?
		ORDER BY datetime_scheduled, id`
	args := []any{int(api.StatusCreated), toNanos(now)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: list due events", s.d.name)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sqlEventStore) ListEvents(ctx context.Context, f EventFilter) ([]*api.Event, error) {
	var clauses []string
	var args []any

	if f.TriggerName != "" {
		clauses = append(clauses, "trigger_name = ?")
		args = append(args, f.TriggerName)
	}
	if f.TaskGroup != "" {
		clauses = append(clauses, "task_group = ?")
		args = append(args, f.TaskGroup)
	}
	if len(f.Statuses) > 0 {
		clause, statusArgs := statusClause(f.Statuses)
		clauses = append(clauses, clause)
		args = append(args, statusArgs...)
	}

	return s.queryEvents(ctx, clauses, args, f.Limit)
}

func (s *sqlEventStore) queryEvents(ctx context.Context, clauses []string, args []any, limit int) ([]*api.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ` + eventsTable
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY datetime_scheduled, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: query events", s.d.name)
	}
	defer rows.Close()

	var events []*api.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*api.Event, error) {
	var (
		ev                 api.Event
		created, scheduled int64
		processed          sql.NullInt64
		status             int
	)
	if err := row.Scan(
		&ev.ID,
		&ev.UUID,
		&ev.TriggerName,
		&ev.TaskGroup,
		&ev.DataBlob,
		&ev.DataHash,
		&created,
		&scheduled,
		&processed,
		&status,
	); err != nil {
		return nil, err
	}

	ev.CreatedAt = fromNanos(created)
	ev.ScheduledAt = fromNanos(scheduled)
	if processed.Valid {
		t := fromNanos(processed.Int64)
		ev.ProcessedAt = &t
	}
	ev.Status = api.Status(status)
	return &ev, nil
}

func statusClause(statuses []api.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = int(st)
	}
	return "status IN (" + strings.Join(marks, ", ") + ")", args
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}
