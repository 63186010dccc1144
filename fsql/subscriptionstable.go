package fsql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"

	"github.com/ledgerlane/fanout"
)

// NewSubscriptionsTable returns a new subscriptions table.
func NewSubscriptionsTable(opts ...SubscriptionsOption) *SubscriptionsTable {
	table := &SubscriptionsTable{
		schema: sTableSchema{
			name:          defaultSubsTable,
			idField:       defaultSubIDField,
			patternField:  defaultSubPatternField,
			moduleField:   defaultSubModuleField,
			isActiveField: defaultSubIsActiveField,
		},
		genID: uuid.NewString,
	}

	for _, o := range opts {
		o(table)
	}

	return table
}

// SubscriptionsOption defines a functional option to configure new
// subscriptions tables.
type SubscriptionsOption func(*SubscriptionsTable)

// WithSubscriptionsTable provides an option to set the subscriptions table
// name. It defaults to 'module_event_subscriptions'.
func WithSubscriptionsTable(name string) SubscriptionsOption {
	return func(table *SubscriptionsTable) {
		table.schema.name = name
	}
}

// SubscriptionsTable provides read access to the topic-pattern subscription
// registry. Subscriptions are created by system configuration; the
// dispatcher only reads them.
type SubscriptionsTable struct {
	schema sTableSchema
	genID  func() string
}

// Insert registers a subscription. It is a configuration operation, not part
// of the dispatch path.
func (t *SubscriptionsTable) Insert(ctx context.Context, dbc *sql.DB,
	pattern, handlerModule string, active bool,
) (string, error) {
	id := t.genID()
	s := t.schema

	q := "insert into " + s.name + " set " + s.idField + "=?, " +
		s.patternField + "=?, " + s.moduleField + "=?, " + s.isActiveField + "=?"

	_, err := dbc.ExecContext(ctx, q, id, pattern, handlerModule, active)
	if err != nil {
		return "", errors.Wrap(err, "insert subscription error")
	}
	return id, nil
}

// ListMatching returns the active subscriptions whose pattern matches the
// event topic; the union of the exact topic and its namespace wildcard.
// Order is by id for deterministic logs, but callers must not depend on it.
func (t *SubscriptionsTable) ListMatching(ctx context.Context, dbc *sql.DB,
	eventType string,
) ([]fanout.Subscription, error) {
	s := t.schema

	q := "select " + s.idField + ", " + s.patternField + ", " + s.moduleField +
		", " + s.isActiveField + " from " + s.name +
		" where " + s.isActiveField + "=? and " + s.patternField + " in (?, ?)" +
		" order by " + s.idField

	rows, err := dbc.QueryContext(ctx, q, true, eventType, fanout.Wildcard(eventType))
	if err != nil {
		return nil, errors.Wrap(err, "list subscriptions error")
	}
	defer rows.Close()

	var subs []fanout.Subscription
	for rows.Next() {
		var sub fanout.Subscription
		err := rows.Scan(&sub.ID, &sub.EventTypePattern, &sub.HandlerModule, &sub.IsActive)
		if err != nil {
			return nil, err
		}
		if !fanout.MatchTopic(sub.EventTypePattern, eventType) {
			// The in-clause already guarantees a match; this guards schema
			// drift between the query and the matcher.
			continue
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ToStore returns the table bound to a db connection as a
// fanout.SubscriptionStore.
func (t *SubscriptionsTable) ToStore(dbc *sql.DB) *BoundSubscriptionStore {
	return &BoundSubscriptionStore{table: t, dbc: dbc}
}

// BoundSubscriptionStore is a SubscriptionsTable bound to a db connection.
type BoundSubscriptionStore struct {
	table *SubscriptionsTable
	dbc   *sql.DB
}

func (s *BoundSubscriptionStore) ListMatching(ctx context.Context, eventType string) ([]fanout.Subscription, error) {
	return s.table.ListMatching(ctx, s.dbc, eventType)
}

var _ fanout.SubscriptionStore = (*BoundSubscriptionStore)(nil)
