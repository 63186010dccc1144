package handlers

import (
	"context"
	"fmt"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ledgerlane/fanout"
)

// StockAdjustment is one signed stock movement against a warehouse. The
// reference is the idempotency key: re-applying an adjustment with the same
// reference must be a no-op in the stock collaborator.
type StockAdjustment struct {
	TenantID     string
	ProductID    string
	WarehouseID  string
	Quantity     int64
	MovementType string
	Reference    string
}

// Stock is the inventory collaborator consumed by the inventory handlers.
// It is specified only at this boundary; the business rules behind it are
// out of scope.
type Stock interface {
	// AdjustStock applies a signed quantity movement.
	AdjustStock(ctx context.Context, adj StockAdjustment) error

	// ReserveStock reserves stock for a confirmed sales order as a single
	// domain operation.
	ReserveStock(ctx context.Context, tenantID, salesOrderID string) error

	// ReleaseStock releases a cancelled sales order's reservation.
	ReleaseStock(ctx context.Context, tenantID, salesOrderID string) error

	// FirstActiveWarehouse returns the id of the tenant's first active
	// warehouse, or empty if none exists.
	FirstActiveWarehouse(ctx context.Context, tenantID string) (string, error)
}

// NewInventory returns the inventory handler set backed by the stock
// collaborator.
func NewInventory(stock Stock) *Inventory {
	return &Inventory{stock: stock}
}

// Inventory implements the inventory module's event reactions.
type Inventory struct {
	stock Stock
}

// Register installs the inventory handlers into the registry.
func (h *Inventory) Register(r *Registry) {
	r.Register("inventory", "invoice.posted", h.InvoicePosted)
	r.Register("inventory", "sales_order.confirmed", h.SalesOrderConfirmed)
	r.Register("inventory", "sales_order.cancelled", h.SalesOrderCancelled)
	r.Register("inventory", "return_case.approved", h.ReturnCaseApproved)
}

// InvoicePosted deducts stock for each product line of the posted invoice.
// Any line failure aborts this handler only; lines already adjusted are not
// rolled back and rely on reference idempotency across retries.
func (h *Inventory) InvoicePosted(ctx context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	p, err := decode[InvoicePosted](ev)
	if err != nil {
		return fanout.HandlerResult{}, err
	}
	if p.WarehouseID == "" {
		return fanout.HandlerResult{}, errors.Wrap(fanout.ErrInvalidPayload,
			"missing warehouse_id")
	}

	ref := lineRef(ev, "")
	for i, line := range p.Lines {
		lref := line.Reference
		if lref == "" {
			lref = lineRef(ev, fmt.Sprintf("%s/%d", line.ProductID, i))
		}
		err := h.stock.AdjustStock(ctx, StockAdjustment{
			TenantID:     ev.TenantID,
			ProductID:    line.ProductID,
			WarehouseID:  p.WarehouseID,
			Quantity:     -line.Quantity,
			MovementType: "invoice",
			Reference:    lref,
		})
		if err != nil {
			return fanout.HandlerResult{}, errors.Wrap(err, "stock adjustment error",
				j.MKS{"product_id": line.ProductID, "reference": lref})
		}
	}

	return fanout.HandlerResult{
		Action:    fanout.ActionApplied,
		Reference: ref,
		Detail:    fmt.Sprintf("%d stock adjustments", len(p.Lines)),
	}, nil
}

// SalesOrderConfirmed reserves stock for the confirmed order.
func (h *Inventory) SalesOrderConfirmed(ctx context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	orderID, err := salesOrderID(ev)
	if err != nil {
		return fanout.HandlerResult{}, err
	}
	if err := h.stock.ReserveStock(ctx, ev.TenantID, orderID); err != nil {
		return fanout.HandlerResult{}, errors.Wrap(err, "reserve stock error",
			j.KV("sales_order_id", orderID))
	}
	return fanout.HandlerResult{
		Action:    fanout.ActionApplied,
		Reference: lineRef(ev, ""),
		Detail:    "stock reserved for " + orderID,
	}, nil
}

// SalesOrderCancelled releases the cancelled order's reservation.
func (h *Inventory) SalesOrderCancelled(ctx context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	orderID, err := salesOrderID(ev)
	if err != nil {
		return fanout.HandlerResult{}, err
	}
	if err := h.stock.ReleaseStock(ctx, ev.TenantID, orderID); err != nil {
		return fanout.HandlerResult{}, errors.Wrap(err, "release stock error",
			j.KV("sales_order_id", orderID))
	}
	return fanout.HandlerResult{
		Action:    fanout.ActionApplied,
		Reference: lineRef(ev, ""),
		Detail:    "stock released for " + orderID,
	}, nil
}

// ReturnCaseApproved re-adds accepted quantities to the tenant's first
// active warehouse for customer returns. Non-customer return types and
// tenants without an active warehouse are skipped, not errors.
func (h *Inventory) ReturnCaseApproved(ctx context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	p, err := decode[ReturnCaseApproved](ev)
	if err != nil {
		return fanout.HandlerResult{}, err
	}

	if p.CaseType != "customer" {
		return fanout.HandlerResult{
			Action: fanout.ActionSkipped,
			Detail: "non-customer return case",
		}, nil
	}

	warehouseID, err := h.stock.FirstActiveWarehouse(ctx, ev.TenantID)
	if err != nil {
		return fanout.HandlerResult{}, errors.Wrap(err, "warehouse lookup error")
	}
	if warehouseID == "" {
		return fanout.HandlerResult{
			Action: fanout.ActionSkipped,
			Detail: "no active warehouse",
		}, nil
	}

	for i, line := range p.Lines {
		err := h.stock.AdjustStock(ctx, StockAdjustment{
			TenantID:     ev.TenantID,
			ProductID:    line.ProductID,
			WarehouseID:  warehouseID,
			Quantity:     line.AcceptedQuantity,
			MovementType: "return",
			Reference:    lineRef(ev, fmt.Sprintf("%s/%d", line.ProductID, i)),
		})
		if err != nil {
			return fanout.HandlerResult{}, errors.Wrap(err, "stock adjustment error",
				j.KV("product_id", line.ProductID))
		}
	}

	return fanout.HandlerResult{
		Action:    fanout.ActionApplied,
		Reference: lineRef(ev, ""),
		Detail:    fmt.Sprintf("%d return lines restocked to %s", len(p.Lines), warehouseID),
	}, nil
}

func salesOrderID(ev *fanout.Event) (string, error) {
	p, err := decode[SalesOrderRef](ev)
	if fanout.IsInvalidPayloadErr(err) && ev.EntityID != "" {
		return ev.EntityID, nil
	} else if err != nil {
		return "", err
	}
	if p.SalesOrderID != "" {
		return p.SalesOrderID, nil
	}
	if ev.EntityID != "" {
		return ev.EntityID, nil
	}
	return "", errors.Wrap(fanout.ErrInvalidPayload, "missing sales_order_id")
}

// lineRef builds the stable idempotency reference for an event side effect.
// It is identical across retry passes so collaborators can deduplicate.
func lineRef(ev *fanout.Event, suffix string) string {
	ref := ev.Type + "/" + ev.ID
	if suffix != "" {
		ref += "/" + suffix
	}
	return ref
}
