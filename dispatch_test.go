package fanout_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlane/fanout"
)

func pendingEvent(id, tenantID, eventType string) *fanout.Event {
	return &fanout.Event{
		ID:         id,
		TenantID:   tenantID,
		Type:       eventType,
		EntityID:   "E-" + id,
		Payload:    []byte(`{}`),
		Status:     fanout.EventPending,
		MaxRetries: 3,
	}
}

func activeSub(id, pattern, module string) fanout.Subscription {
	return fanout.Subscription{
		ID:               id,
		EventTypePattern: pattern,
		HandlerModule:    module,
		IsActive:         true,
	}
}

func TestDispatchNotFound(t *testing.T) {
	d := fanout.NewDispatcher(newMemStore(), &memSubs{}, &memLog{}, newMemInvoker())

	_, err := d.Dispatch(context.Background(), "missing")
	jtest.Require(t, fanout.ErrEventNotFound, err)
}

func TestDispatchIdempotencyGate(t *testing.T) {
	ev := pendingEvent("e1", "t1", "invoice.posted")
	ev.Status = fanout.EventCompleted

	store := newMemStore(ev)
	dlog := new(memLog)
	invoker := newMemInvoker()
	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "inventory"),
	}}, dlog, invoker)

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	require.Equal(t, fanout.EventCompleted, res.Status)
	require.Equal(t, "already processed", res.Message)
	require.Empty(t, res.Results)
	require.Zero(t, invoker.callCount())
	require.Empty(t, dlog.list())
}

func TestDispatchEmptyFanout(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "approval.requested"))
	dlog := new(memLog)
	d := fanout.NewDispatcher(store, &memSubs{}, dlog, newMemInvoker())

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	require.Equal(t, fanout.EventCompleted, res.Status)
	require.Equal(t, "No subscriptions matched", res.Message)
	require.Empty(t, dlog.list())
	require.Equal(t, fanout.EventCompleted, store.get("e1").Status)
}

func TestDispatchAllSuccess(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "invoice.posted"))
	dlog := new(memLog)
	invoker := newMemInvoker()
	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "inventory"),
		activeSub("s2", "invoice.*", "notifications"),
	}}, dlog, invoker)

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	require.Equal(t, fanout.EventCompleted, res.Status)
	require.Len(t, res.Results, 2)
	for _, sr := range res.Results {
		require.Equal(t, fanout.DeliverySuccess, sr.Status)
		require.Equal(t, fanout.ActionApplied, sr.Action)
	}
	require.Len(t, dlog.list(), 2)
	require.Equal(t, 2, invoker.callCount())
	require.Equal(t, fanout.EventCompleted, store.get("e1").Status)
}

func TestDispatchPartialFailureIsolation(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "invoice.posted"))
	dlog := new(memLog)
	invoker := newMemInvoker()
	invoker.errs["accounting"] = errors.New("accounts not found")

	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "accounting"),
		activeSub("s2", "invoice.posted", "inventory"),
	}}, dlog, invoker)

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	// Both handlers ran despite the first failing.
	require.Equal(t, 2, invoker.callCount())

	byID := make(map[string]fanout.SubscriptionResult)
	for _, sr := range res.Results {
		byID[sr.SubscriptionID] = sr
	}
	require.Equal(t, fanout.DeliveryFailed, byID["s1"].Status)
	assert.Contains(t, byID["s1"].Error, "accounts not found")
	require.Equal(t, fanout.DeliverySuccess, byID["s2"].Status)

	entries := dlog.list()
	require.Len(t, entries, 2)
	statuses := map[fanout.DeliveryStatus]int{}
	for _, e := range entries {
		statuses[e.Status]++
		require.Equal(t, "t1", e.TenantID)
	}
	require.Equal(t, 1, statuses[fanout.DeliverySuccess])
	require.Equal(t, 1, statuses[fanout.DeliveryFailed])

	// A partial failure schedules a retry.
	require.Equal(t, fanout.EventPending, res.Status)
	require.Equal(t, fanout.EventPending, store.get("e1").Status)
	require.Equal(t, 1, store.get("e1").RetryCount)
}

func TestDispatchRetryAccumulation(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "invoice.posted"))
	dlog := new(memLog)
	invoker := newMemInvoker()
	invoker.errs["accounting"] = errors.New("accounts not found")

	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "accounting"),
	}}, dlog, invoker)

	// First two failing passes return the event to pending.
	for i := 1; i <= 2; i++ {
		res, err := d.Dispatch(context.Background(), "e1")
		jtest.RequireNil(t, err)
		require.Equal(t, fanout.EventPending, res.Status)
		require.Equal(t, i, store.get("e1").RetryCount)
	}

	// The third failing pass exhausts the retry budget.
	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)
	require.Equal(t, fanout.EventFailed, res.Status)
	require.Equal(t, "1 of 1 handlers failed", res.Message)
	require.Equal(t, fanout.EventFailed, store.get("e1").Status)
	require.Equal(t, "1 of 1 handlers failed", store.get("e1").ErrorMessage)

	// Failed events are terminal for the claim gate.
	res, err = d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)
	require.Equal(t, "already being processed", res.Message)
	require.Equal(t, 3, len(dlog.list()))
}

func TestDispatchClaimContention(t *testing.T) {
	ev := pendingEvent("e1", "t1", "invoice.posted")
	ev.Status = fanout.EventProcessing

	invoker := newMemInvoker()
	d := fanout.NewDispatcher(newMemStore(ev), &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "inventory"),
	}}, new(memLog), invoker)

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	require.Equal(t, "already being processed", res.Message)
	require.Zero(t, invoker.callCount())
}

func TestDispatchTenantScope(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "invoice.posted"))
	d := fanout.NewDispatcher(store, &memSubs{}, new(memLog), newMemInvoker())

	// Another tenant's scope behaves as not found.
	_, err := d.Dispatch(context.Background(), "e1", fanout.WithTenant("t2"))
	jtest.Require(t, fanout.ErrEventNotFound, err)
	require.Equal(t, fanout.EventPending, store.get("e1").Status)

	// The owning tenant dispatches normally.
	res, err := d.Dispatch(context.Background(), "e1", fanout.WithTenant("t1"))
	jtest.RequireNil(t, err)
	require.Equal(t, fanout.EventCompleted, res.Status)
}

func TestDispatchDeliveryLogWriteFailure(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "invoice.posted"))
	dlog := &memLog{err: errors.New("log table down")}
	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "invoice.posted", "inventory"),
	}}, dlog, newMemInvoker())

	_, err := d.Dispatch(context.Background(), "e1")
	require.Error(t, err)

	// The event is left in processing; an operational hazard, not a silent
	// success.
	require.Equal(t, fanout.EventProcessing, store.get("e1").Status)
}

func TestDispatchNoopResult(t *testing.T) {
	store := newMemStore(pendingEvent("e1", "t1", "budget.exceeded"))
	invoker := newMemInvoker()
	invoker.results["monitoring"] = fanout.HandlerResult{
		Action: fanout.ActionNoop,
		Detail: "no handler registered",
	}
	dlog := new(memLog)
	d := fanout.NewDispatcher(store, &memSubs{subs: []fanout.Subscription{
		activeSub("s1", "budget.*", "monitoring"),
	}}, dlog, invoker)

	res, err := d.Dispatch(context.Background(), "e1")
	jtest.RequireNil(t, err)

	// A router miss is delivery success with a distinguishable action.
	require.Equal(t, fanout.EventCompleted, res.Status)
	require.Equal(t, fanout.ActionNoop, res.Results[0].Action)
	require.Equal(t, fanout.DeliverySuccess, res.Results[0].Status)
	assert.Contains(t, dlog.list()[0].Response, "noop")
}
