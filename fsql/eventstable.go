package fsql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ledgerlane/fanout"
	"github.com/ledgerlane/fanout/internal/tracing"
)

// NewEventsTable returns a new module events table.
func NewEventsTable(opts ...EventsOption) *EventsTable {
	table := &EventsTable{
		schema: eTableSchema{
			name:            defaultEventsTable,
			idField:         defaultEventIDField,
			tenantField:     defaultEventTenantField,
			typeField:       defaultEventTypeField,
			entityField:     defaultEventEntityField,
			payloadField:    defaultEventPayloadField,
			statusField:     defaultEventStatusField,
			retryField:      defaultEventRetryField,
			maxRetriesField: defaultEventMaxRetriesField,
			processedField:  defaultEventProcessedField,
			errorField:      defaultEventErrorField,
			createdField:    defaultEventCreatedField,
			traceField:      defaultEventTraceField,
		},
		maxRetries: defaultMaxRetries,
		genID:      uuid.NewString,
	}

	for _, o := range opts {
		o(table)
	}

	return table
}

// EventsOption defines a functional option to configure new events tables.
type EventsOption func(*EventsTable)

// WithEventsTable provides an option to set the events table name. It
// defaults to 'module_events'.
func WithEventsTable(name string) EventsOption {
	return func(table *EventsTable) {
		table.schema.name = name
	}
}

// WithEventsTraceField provides an option to persist the producing span
// context in the given column. It is disabled by default.
func WithEventsTraceField(field string) EventsOption {
	return func(table *EventsTable) {
		table.schema.traceField = field
	}
}

// WithEventsMaxRetries provides an option to set the default retry budget of
// inserted events. It defaults to 3.
func WithEventsMaxRetries(n int) EventsOption {
	return func(table *EventsTable) {
		table.maxRetries = n
	}
}

// WithEventsIDGenerator provides an option to set the event id generator,
// for testing. It defaults to random uuids.
func WithEventsIDGenerator(fn func() string) EventsOption {
	return func(table *EventsTable) {
		table.genID = fn
	}
}

// EventsTable provides module event insertion and lifecycle mutation for a
// mysql table.
type EventsTable struct {
	schema     eTableSchema
	maxRetries int
	genID      func() string
}

// Insert inserts a new pending event as part of the producer's transaction
// and returns its id. The event becomes eligible for dispatch once the
// transaction commits.
func (t *EventsTable) Insert(ctx context.Context, tx *sql.Tx, tenantID,
	eventType, entityID string, payload []byte,
) (string, error) {
	id := t.genID()
	s := t.schema

	q := "insert into " + s.name + " set " +
		s.idField + "=?, " + s.tenantField + "=?, " + s.typeField + "=?, " +
		s.entityField + "=?, " + s.payloadField + "=?, " +
		s.statusField + "=?, " + s.retryField + "=0, " +
		s.maxRetriesField + "=?, " + s.createdField + "=now(6)"
	args := []interface{}{
		id, tenantID, eventType, entityID, payload,
		int(fanout.EventPending), t.maxRetries,
	}

	if sc, ok := tracing.Extract(ctx); s.traceField != "" && ok {
		traceData, err := tracing.Marshal(sc)
		if err != nil {
			return "", err
		}
		q += ", " + s.traceField + "=?"
		args = append(args, traceData)
	}

	_, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return "", errors.Wrap(err, "insert event error")
	}
	return id, nil
}

// Lookup returns the event row or fanout.ErrEventNotFound.
func (t *EventsTable) Lookup(ctx context.Context, dbc *sql.DB, eventID string) (*fanout.Event, error) {
	s := t.schema

	q := "select " + s.idField + ", " + s.tenantField + ", " + s.typeField +
		", " + s.entityField + ", " + s.payloadField + ", " + s.statusField +
		", " + s.retryField + ", " + s.maxRetriesField + ", " + s.processedField +
		", " + s.errorField + ", " + s.createdField + ", " + t.traceCol() +
		" from " + s.name + " where " + s.idField + "=?"

	ev, err := scanEvent(dbc.QueryRowContext(ctx, q, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(fanout.ErrEventNotFound, "", j.KV("event_id", eventID))
	} else if err != nil {
		return nil, errors.Wrap(err, "lookup event error")
	}
	return ev, nil
}

// Claim transitions the event from pending to processing with a single
// conditional update; the sole entry gate guarding against concurrent
// dispatch of the same event. It returns false if the event was not pending.
func (t *EventsTable) Claim(ctx context.Context, dbc *sql.DB, tenantID, eventID string) (bool, error) {
	s := t.schema

	q := "update " + s.name + " set " + s.statusField + "=?" +
		" where " + s.idField + "=? and " + s.tenantField + "=? and " +
		s.statusField + "=?"

	res, err := dbc.ExecContext(ctx, q,
		int(fanout.EventProcessing), eventID, tenantID, int(fanout.EventPending))
	if err != nil {
		return false, errors.Wrap(err, "claim event error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeCompleted marks the event completed, sets processed_at and clears
// any previous error message. A completed event is permanently inert.
func (t *EventsTable) FinalizeCompleted(ctx context.Context, dbc *sql.DB, ev *fanout.Event) error {
	s := t.schema

	q := "update " + s.name + " set " + s.statusField + "=?, " +
		s.processedField + "=now(6), " + s.errorField + "=null" +
		" where " + s.idField + "=? and " + s.tenantField + "=?"

	_, err := dbc.ExecContext(ctx, q, int(fanout.EventCompleted), ev.ID, ev.TenantID)
	return errors.Wrap(err, "finalize completed error")
}

// ScheduleRetry returns the event to pending and increments its retry count,
// making it eligible for another whole-event dispatch pass.
func (t *EventsTable) ScheduleRetry(ctx context.Context, dbc *sql.DB, ev *fanout.Event) error {
	s := t.schema

	q := "update " + s.name + " set " + s.statusField + "=?, " +
		s.retryField + "=" + s.retryField + "+1" +
		" where " + s.idField + "=? and " + s.tenantField + "=?"

	_, err := dbc.ExecContext(ctx, q, int(fanout.EventPending), ev.ID, ev.TenantID)
	return errors.Wrap(err, "schedule retry error")
}

// FinalizeFailed marks the event permanently failed with a summary of the
// failed handlers. Failed events are only dispatchable again via
// ResetForReplay.
func (t *EventsTable) FinalizeFailed(ctx context.Context, dbc *sql.DB, ev *fanout.Event, summary string) error {
	s := t.schema

	q := "update " + s.name + " set " + s.statusField + "=?, " +
		s.retryField + "=" + s.retryField + "+1, " + s.errorField + "=?" +
		" where " + s.idField + "=? and " + s.tenantField + "=?"

	_, err := dbc.ExecContext(ctx, q, int(fanout.EventFailed), summary, ev.ID, ev.TenantID)
	return errors.Wrap(err, "finalize failed error")
}

// ListPending returns the ids of pending events, oldest first, up to limit.
func (t *EventsTable) ListPending(ctx context.Context, dbc *sql.DB, limit int) ([]string, error) {
	s := t.schema

	q := "select " + s.idField + " from " + s.name +
		" where " + s.statusField + "=? order by " + s.createdField + " asc limit ?"

	rows, err := dbc.QueryContext(ctx, q, int(fanout.EventPending), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending error")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetForReplay returns a permanently failed event to pending with a fresh
// retry budget. It is a deliberate manual operation, not part of the
// automatic retry policy. It returns false if the event was not failed.
func (t *EventsTable) ResetForReplay(ctx context.Context, dbc *sql.DB, tenantID, eventID string) (bool, error) {
	s := t.schema

	q := "update " + s.name + " set " + s.statusField + "=?, " +
		s.retryField + "=0, " + s.errorField + "=null" +
		" where " + s.idField + "=? and " + s.tenantField + "=? and " +
		s.statusField + "=?"

	res, err := dbc.ExecContext(ctx, q,
		int(fanout.EventPending), eventID, tenantID, int(fanout.EventFailed))
	if err != nil {
		return false, errors.Wrap(err, "reset for replay error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *EventsTable) traceCol() string {
	if t.schema.traceField == "" {
		return "null"
	}
	return t.schema.traceField
}

// ToStore returns the table bound to a db connection as the store interfaces
// consumed by the dispatcher and sweeper.
func (t *EventsTable) ToStore(dbc *sql.DB) *BoundEventStore {
	return &BoundEventStore{table: t, dbc: dbc}
}

// BoundEventStore is an EventsTable bound to a db connection. It implements
// fanout.EventStore and fanout.PendingLister.
type BoundEventStore struct {
	table *EventsTable
	dbc   *sql.DB
}

func (s *BoundEventStore) Lookup(ctx context.Context, eventID string) (*fanout.Event, error) {
	return s.table.Lookup(ctx, s.dbc, eventID)
}

func (s *BoundEventStore) Claim(ctx context.Context, tenantID, eventID string) (bool, error) {
	return s.table.Claim(ctx, s.dbc, tenantID, eventID)
}

func (s *BoundEventStore) FinalizeCompleted(ctx context.Context, ev *fanout.Event) error {
	return s.table.FinalizeCompleted(ctx, s.dbc, ev)
}

func (s *BoundEventStore) ScheduleRetry(ctx context.Context, ev *fanout.Event) error {
	return s.table.ScheduleRetry(ctx, s.dbc, ev)
}

func (s *BoundEventStore) FinalizeFailed(ctx context.Context, ev *fanout.Event, summary string) error {
	return s.table.FinalizeFailed(ctx, s.dbc, ev, summary)
}

func (s *BoundEventStore) ListPending(ctx context.Context, limit int) ([]string, error) {
	return s.table.ListPending(ctx, s.dbc, limit)
}

var (
	_ fanout.EventStore    = (*BoundEventStore)(nil)
	_ fanout.PendingLister = (*BoundEventStore)(nil)
)
