// Package fsql provides mysql implementations of the fanout event,
// subscription and delivery log stores.
package fsql

import (
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/ledgerlane/fanout"
)

const (
	defaultEventsTable          = "module_events"
	defaultEventIDField         = "id"
	defaultEventTenantField     = "tenant_id"
	defaultEventTypeField       = "event_type"
	defaultEventEntityField     = "entity_id"
	defaultEventPayloadField    = "payload"
	defaultEventStatusField     = "status"
	defaultEventRetryField      = "retry_count"
	defaultEventMaxRetriesField = "max_retries"
	defaultEventProcessedField  = "processed_at"
	defaultEventErrorField      = "error_message"
	defaultEventCreatedField    = "created_at"
	defaultEventTraceField      = "" // disabled

	defaultSubsTable        = "module_event_subscriptions"
	defaultSubIDField       = "id"
	defaultSubPatternField  = "event_type_pattern"
	defaultSubModuleField   = "handler_module"
	defaultSubIsActiveField = "is_active"

	defaultLogsTable        = "module_event_logs"
	defaultLogIDField       = "id"
	defaultLogEventIDField  = "event_id"
	defaultLogSubIDField    = "subscription_id"
	defaultLogTenantField   = "tenant_id"
	defaultLogStatusField   = "status"
	defaultLogResponseField = "response_or_error"
	defaultLogCreatedField  = "created_at"

	defaultMaxRetries = 3
)

// eTableSchema defines the mysql schema of a module events table.
type eTableSchema struct {
	name            string
	idField         string
	tenantField     string
	typeField       string
	entityField     string
	payloadField    string
	statusField     string
	retryField      string
	maxRetriesField string
	processedField  string
	errorField      string
	createdField    string
	traceField      string
}

// sTableSchema defines the mysql schema of a subscriptions table.
type sTableSchema struct {
	name          string
	idField       string
	patternField  string
	moduleField   string
	isActiveField string
}

// lTableSchema defines the mysql schema of a delivery log table.
type lTableSchema struct {
	name          string
	idField       string
	eventIDField  string
	subIDField    string
	tenantField   string
	statusField   string
	responseField string
	createdField  string
}

type row interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r row) (*fanout.Event, error) {
	var (
		e         fanout.Event
		status    int
		payload   sql.NullString
		processed sql.NullTime
		errMsg    sql.NullString
		traceData []byte
	)
	err := r.Scan(&e.ID, &e.TenantID, &e.Type, &e.EntityID, &payload, &status,
		&e.RetryCount, &e.MaxRetries, &processed, &errMsg, &e.CreatedAt, &traceData)
	if err != nil {
		return nil, err
	}

	e.Status = fanout.EventStatus(status)
	if !e.Status.Valid() {
		return nil, errors.New("invalid event status")
	}
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	if processed.Valid {
		t := processed.Time
		e.ProcessedAt = &t
	}
	e.ErrorMessage = errMsg.String
	e.Trace = traceData

	return &e, nil
}

func scanEntry(r row) (*fanout.DeliveryEntry, error) {
	var (
		e       fanout.DeliveryEntry
		status  int
		created time.Time
	)
	err := r.Scan(&e.ID, &e.EventID, &e.SubscriptionID, &e.TenantID, &status,
		&e.Response, &created)
	if err != nil {
		return nil, err
	}
	e.Status = fanout.DeliveryStatus(status)
	e.CreatedAt = created
	return &e, nil
}
