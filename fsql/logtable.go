package fsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/ledgerlane/fanout"
)

// NewDeliveryLogTable returns a new delivery log table.
func NewDeliveryLogTable(opts ...LogOption) *DeliveryLogTable {
	table := &DeliveryLogTable{
		schema: lTableSchema{
			name:          defaultLogsTable,
			idField:       defaultLogIDField,
			eventIDField:  defaultLogEventIDField,
			subIDField:    defaultLogSubIDField,
			tenantField:   defaultLogTenantField,
			statusField:   defaultLogStatusField,
			responseField: defaultLogResponseField,
			createdField:  defaultLogCreatedField,
		},
	}

	for _, o := range opts {
		o(table)
	}

	return table
}

// LogOption defines a functional option to configure new delivery log
// tables.
type LogOption func(*DeliveryLogTable)

// WithLogTable provides an option to set the delivery log table name. It
// defaults to 'module_event_logs'.
func WithLogTable(name string) LogOption {
	return func(table *DeliveryLogTable) {
		table.schema.name = name
	}
}

// DeliveryLogTable provides append-only insertion of per-attempt delivery
// audit rows. There is no update or delete; across retries multiple rows
// accumulate per (event, subscription) pair.
type DeliveryLogTable struct {
	schema lTableSchema
}

// Insert appends one delivery attempt row.
func (t *DeliveryLogTable) Insert(ctx context.Context, dbc *sql.DB, entry *fanout.DeliveryEntry) error {
	s := t.schema

	q := "insert into " + s.name + " set " +
		s.eventIDField + "=?, " + s.subIDField + "=?, " + s.tenantField + "=?, " +
		s.statusField + "=?, " + s.responseField + "=?, " + s.createdField + "=now(6)"

	_, err := dbc.ExecContext(ctx, q, entry.EventID, entry.SubscriptionID,
		entry.TenantID, int(entry.Status), entry.Response)
	return errors.Wrap(err, "insert delivery log error")
}

// ListEntriesSince returns delivery rows created at or after the given time,
// oldest first, up to limit. It serves audit export; the dispatch path never
// reads the log.
func (t *DeliveryLogTable) ListEntriesSince(ctx context.Context, dbc *sql.DB,
	since time.Time, limit int,
) ([]fanout.DeliveryEntry, error) {
	s := t.schema

	q := "select " + s.idField + ", " + s.eventIDField + ", " + s.subIDField +
		", " + s.tenantField + ", " + s.statusField + ", " + s.responseField +
		", " + s.createdField + " from " + s.name +
		" where " + s.createdField + ">=? order by " + s.createdField + " asc limit ?"

	rows, err := dbc.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list delivery log error")
	}
	defer rows.Close()

	var entries []fanout.DeliveryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ToLog returns the table bound to a db connection as a fanout.DeliveryLog.
func (t *DeliveryLogTable) ToLog(dbc *sql.DB) *BoundDeliveryLog {
	return &BoundDeliveryLog{table: t, dbc: dbc}
}

// BoundDeliveryLog is a DeliveryLogTable bound to a db connection.
type BoundDeliveryLog struct {
	table *DeliveryLogTable
	dbc   *sql.DB
}

func (l *BoundDeliveryLog) Record(ctx context.Context, entry *fanout.DeliveryEntry) error {
	return l.table.Insert(ctx, l.dbc, entry)
}

var _ fanout.DeliveryLog = (*BoundDeliveryLog)(nil)
