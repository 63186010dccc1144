// Package handlers maps (handler module, event type) pairs to the concrete
// side-effecting operations executed when a subscription matches an event.
// The mapping is a dispatch table built at startup so it is inspectable and
// testable in isolation from the dispatcher loop.
//
// Since event delivery is at-least-once and retries re-run handlers that
// already succeeded in a prior pass, every handler must be idempotent. Side
// effects are keyed on a stable reference string derived from the event id
// rather than blindly re-applied.
package handlers

import (
	"context"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ledgerlane/fanout"
)

// Func is a single handler operation. It returns a structured result or an
// error that the dispatcher records against this subscription only.
type Func func(ctx context.Context, f fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error)

type key struct {
	module    string
	eventType string
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[key]Func),
		defaults: make(map[string]Func),
	}
}

// Registry is the handler dispatch table keyed by (module, event type), with
// optional per-module defaults for modules that react to any topic (ex.
// notifications). Configure it at startup; it is safe for concurrent use
// after that.
type Registry struct {
	handlers map[key]Func
	defaults map[string]Func
}

// Register adds a handler for the (module, event type) pair.
func (r *Registry) Register(module, eventType string, fn Func) {
	r.handlers[key{module: module, eventType: eventType}] = fn
}

// RegisterDefault adds a fallback handler invoked for any event type routed
// to the module that has no exact (module, event type) entry.
func (r *Registry) RegisterDefault(module string, fn Func) {
	r.defaults[module] = fn
}

// Invoke executes the handler for the pair. A lookup miss is not an error:
// a subscription may exist for monitoring purposes without requiring a real
// effect yet, so it resolves to a documented ActionNoop result.
func (r *Registry) Invoke(ctx context.Context, f fate.Fate, module string,
	ev *fanout.Event,
) (fanout.HandlerResult, error) {
	fn, ok := r.handlers[key{module: module, eventType: ev.Type}]
	if !ok {
		fn, ok = r.defaults[module]
	}
	if !ok {
		return fanout.HandlerResult{
			Action: fanout.ActionNoop,
			Detail: "no handler registered",
		}, nil
	}

	if err := f.Tempt(); err != nil {
		return fanout.HandlerResult{}, err
	}

	res, err := fn(ctx, f, ev)
	if err != nil {
		return fanout.HandlerResult{}, errors.Wrap(err, "", j.MKS{
			"handler_module": module,
			"event_type":     ev.Type,
		})
	}
	return res, nil
}

var _ fanout.Invoker = (*Registry)(nil)
