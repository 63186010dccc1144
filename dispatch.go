package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerlane/fanout/internal/metrics"
	"github.com/ledgerlane/fanout/internal/tracing"
)

// Dispatcher orchestrates one dispatch pass for a single event: claim the
// event, resolve matching subscriptions, invoke each handler in isolation,
// record delivery log entries, and finalise the event status under the
// whole-event retry policy. It is the only component that mutates event rows.
type Dispatcher struct {
	events EventStore
	subs   SubscriptionStore
	dlog   DeliveryLog
	invoke Invoker
}

// NewDispatcher returns a new dispatcher.
func NewDispatcher(events EventStore, subs SubscriptionStore, dlog DeliveryLog,
	invoker Invoker,
) *Dispatcher {
	return &Dispatcher{
		events: events,
		subs:   subs,
		dlog:   dlog,
		invoke: invoker,
	}
}

// DispatchResult is the structured outcome of one dispatch call. Handler
// failures are data in Results, not errors; the call itself only errors on
// lookup failures and system errors.
type DispatchResult struct {
	EventID string
	Status  EventStatus
	Message string
	Results []SubscriptionResult
}

// SubscriptionResult is the outcome of one handler invocation within a
// dispatch pass.
type SubscriptionResult struct {
	SubscriptionID string
	Status         DeliveryStatus
	Action         Action
	Error          string
}

type dispatchOptions struct {
	tenantID string
}

// DispatchOption configures a single dispatch call.
type DispatchOption func(*dispatchOptions)

// WithTenant restricts the dispatch to events owned by the given tenant.
// An event of another tenant behaves as not found so that event existence
// never leaks across the tenant partition.
func WithTenant(tenantID string) DispatchOption {
	return func(o *dispatchOptions) {
		o.tenantID = tenantID
	}
}

// Dispatch executes one dispatch pass for the event. It returns
// ErrEventNotFound if the id does not resolve, a no-op result if the event
// is already completed or concurrently claimed, and otherwise the
// per-subscription outcomes after finalising the event status.
//
// Delivery log or finalise write failures propagate as errors and may leave
// the event in processing; that is an operational hazard to monitor, not a
// silent success.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID string,
	opts ...DispatchOption,
) (*DispatchResult, error) {
	t0 := time.Now()
	defer func() {
		metrics.DispatchLatency.Observe(time.Since(t0).Seconds())
	}()

	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	ev, err := d.events.Lookup(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if o.tenantID != "" && ev.TenantID != o.tenantID {
		return nil, errors.Wrap(ErrEventNotFound, "", j.KV("tenant_id", o.tenantID))
	}

	ctx = log.ContextWith(ctx, j.MKS{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"tenant_id":  ev.TenantID,
	})

	// Resume the producing span if the producer persisted one.
	if sc, err := tracing.Unmarshal(ev.Trace); err == nil && sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}

	// Idempotency gate: a completed event is permanently inert.
	if ev.Status == EventCompleted {
		return &DispatchResult{
			EventID: ev.ID,
			Status:  EventCompleted,
			Message: "already processed",
		}, nil
	}

	claimed, err := d.events.Claim(ctx, ev.TenantID, ev.ID)
	if err != nil {
		return nil, errors.Wrap(err, "claim error")
	}
	if !claimed {
		// Lost the claim to a concurrent dispatch, or the event is failed
		// and needs a manual replay first.
		return &DispatchResult{
			EventID: ev.ID,
			Status:  ev.Status,
			Message: "already being processed",
		}, nil
	}

	subs, err := d.subs.ListMatching(ctx, ev.Type)
	if err != nil {
		return nil, errors.Wrap(err, "list subscriptions error")
	}

	// Empty fan-out is success, not failure.
	if len(subs) == 0 {
		if err := d.events.FinalizeCompleted(ctx, ev); err != nil {
			return nil, errors.Wrap(err, "finalize error")
		}
		return &DispatchResult{
			EventID: ev.ID,
			Status:  EventCompleted,
			Message: "No subscriptions matched",
		}, nil
	}

	f := fate.New()

	var (
		results []SubscriptionResult
		failed  int
	)
	for _, sub := range subs {
		res, sr := d.invokeOne(ctx, f, sub, ev)
		if sr.Status == DeliveryFailed {
			failed++
		}
		results = append(results, sr)

		entry := &DeliveryEntry{
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			TenantID:       ev.TenantID,
			Status:         sr.Status,
			Response:       deliveryResponse(res, sr),
		}
		if err := d.dlog.Record(ctx, entry); err != nil {
			return nil, errors.Wrap(err, "record delivery error", j.MKS{
				"subscription_id": sub.ID,
			})
		}
		metrics.DeliveriesRecorded.WithLabelValues(sr.Status.String()).Inc()
	}

	if failed == 0 {
		if err := d.events.FinalizeCompleted(ctx, ev); err != nil {
			return nil, errors.Wrap(err, "finalize error")
		}
		return &DispatchResult{
			EventID: ev.ID,
			Status:  EventCompleted,
			Results: results,
		}, nil
	}

	summary := fmt.Sprintf("%d of %d handlers failed", failed, len(subs))

	if ev.RetryCount+1 < ev.MaxRetries {
		if err := d.events.ScheduleRetry(ctx, ev); err != nil {
			return nil, errors.Wrap(err, "schedule retry error")
		}
		metrics.EventsRetried.Inc()
		log.Info(ctx, "dispatch pass failed, retry scheduled", j.MKS{
			"summary":     summary,
			"retry_count": fmt.Sprint(ev.RetryCount + 1),
		})
		return &DispatchResult{
			EventID: ev.ID,
			Status:  EventPending,
			Message: summary,
			Results: results,
		}, nil
	}

	if err := d.events.FinalizeFailed(ctx, ev, summary); err != nil {
		return nil, errors.Wrap(err, "finalize failed error")
	}
	metrics.EventsDeadLettered.Inc()
	log.Error(ctx, errors.New("event dead lettered after exhausting retries"),
		j.MKS{"summary": summary})

	return &DispatchResult{
		EventID: ev.ID,
		Status:  EventFailed,
		Message: summary,
		Results: results,
	}, nil
}

// invokeOne runs a single subscription's handler in isolation. A handler
// error is converted into a failed SubscriptionResult and never aborts
// sibling handlers.
func (d *Dispatcher) invokeOne(ctx context.Context, f fate.Fate,
	sub Subscription, ev *Event,
) (HandlerResult, SubscriptionResult) {
	t0 := time.Now()
	res, err := d.invoke.Invoke(ctx, f, sub.HandlerModule, ev)
	metrics.HandlerLatency.With(metrics.Labels(sub.HandlerModule)).
		Observe(time.Since(t0).Seconds())

	if err != nil {
		metrics.HandlerErrors.With(metrics.Labels(sub.HandlerModule)).Inc()
		log.Error(ctx, errors.Wrap(err, "handler failed", j.MKS{
			"subscription_id": sub.ID,
			"handler_module":  sub.HandlerModule,
		}))
		return HandlerResult{}, SubscriptionResult{
			SubscriptionID: sub.ID,
			Status:         DeliveryFailed,
			Error:          err.Error(),
		}
	}

	return res, SubscriptionResult{
		SubscriptionID: sub.ID,
		Status:         DeliverySuccess,
		Action:         res.Action,
	}
}

// deliveryResponse renders the response_or_error column of a delivery log
// entry: the handler's structured result on success, the error message on
// failure.
func deliveryResponse(res HandlerResult, sr SubscriptionResult) string {
	if sr.Status == DeliveryFailed {
		return sr.Error
	}
	b, err := json.Marshal(res)
	if err != nil {
		return string(res.Action)
	}
	return string(b)
}
