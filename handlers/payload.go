package handlers

import (
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ledgerlane/fanout"
)

// Event payloads are opaque to the bus but not to the handlers: each typed
// handler decodes the payload into the variant for its event type so that
// missing fields fail loudly at the handler boundary instead of deep inside
// a side effect.

// InvoiceLine is one product line of a posted invoice.
type InvoiceLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`

	// Reference optionally overrides the generated idempotency reference
	// for this line's stock movement.
	Reference string `json:"reference"`
}

// InvoicePosted is the payload of "invoice.posted" events.
type InvoicePosted struct {
	WarehouseID string        `json:"warehouse_id"`
	Lines       []InvoiceLine `json:"lines"`
}

// SalesOrderRef is the payload of "sales_order.confirmed" and
// "sales_order.cancelled" events. The order id falls back to the event's
// entity id when absent.
type SalesOrderRef struct {
	SalesOrderID string `json:"sales_order_id"`
}

// ReturnLine is one accepted product line of an approved return case.
type ReturnLine struct {
	ProductID        string `json:"product_id"`
	AcceptedQuantity int64  `json:"accepted_quantity"`
}

// ReturnCaseApproved is the payload of "return_case.approved" events.
type ReturnCaseApproved struct {
	CaseType string       `json:"case_type"`
	Lines    []ReturnLine `json:"lines"`
}

// decode unmarshals the event payload into the typed variant T. A payload
// that does not decode is a handler error (fanout.ErrInvalidPayload) and
// contributes to the retry decision like any other handler failure.
func decode[T any](ev *fanout.Event) (T, error) {
	var v T
	if len(ev.Payload) == 0 {
		return v, errors.Wrap(fanout.ErrInvalidPayload, "empty payload",
			j.KV("event_type", ev.Type))
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, errors.Wrap(fanout.ErrInvalidPayload, err.Error(),
			j.KV("event_type", ev.Type))
	}
	return v, nil
}
