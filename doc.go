// Package fanout provides durable at-least-once fan-out of module events for
// a multi-tenant business application. A module event is a record of something
// that happened in one module (ex. "invoice.posted") that other modules react
// to (deduct stock, emit a notification) without the producing module knowing
// about them. It uses only a relational store and synchronous calls; there is
// no message broker runtime.
//
// Module events are durable rows with a dot-namespaced topic:
//
//	id varchar(36)         // unique id of the event
//	tenant_id varchar(36)  // opaque partition key, never aggregated across
//	event_type varchar     // dot-namespaced topic, ex. "invoice.posted"
//	entity_id varchar      // id of the business entity that changed
//	payload json           // opaque structured data read by the handlers
//	status tinyint         // pending, processing, completed, failed
//
// Events are inserted by producers as part of the sql transaction that
// performs the causing business change. The Dispatcher is invoked afterwards
// with the event id (directly, by the Sweeper, or by a manual replay) and is
// the only component that mutates event rows.
//
// Subscriptions map topic patterns (exact or single-level wildcard, ex.
// "inventory.*") to named handler modules. The Dispatcher claims the event,
// invokes each matching subscription's handler sequentially and in isolation,
// records one delivery log entry per attempt, and finalises the event status
// with a bounded whole-event retry policy. Since delivery is at-least-once
// and retries re-run handlers that already succeeded, all handlers must be
// idempotent.
package fanout
