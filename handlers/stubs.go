package handlers

import (
	"context"

	"github.com/luno/fate"

	"github.com/ledgerlane/fanout"
)

// RegisterStubs installs the acknowledged placeholder handlers: (module,
// type) pairs that are subscribed today but whose side effects are deferred.
// They return ActionAcknowledged so the delivery log distinguishes a
// deliberate placeholder from an unregistered pair (ActionNoop).
func RegisterStubs(r *Registry) {
	r.Register("production", "work_order.completed", acknowledge)
	r.Register("pos", "sale.recorded", acknowledge)
}

func acknowledge(_ context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	return fanout.HandlerResult{
		Action: fanout.ActionAcknowledged,
		Detail: "acknowledged without effect",
	}, nil
}
