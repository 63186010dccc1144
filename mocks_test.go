package fanout_test

import (
	"context"
	"sync"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"

	"github.com/ledgerlane/fanout"
)

// memStore is an in-memory event store asserting the dispatcher's lifecycle
// calls. It also implements fanout.PendingLister for sweeper tests.
type memStore struct {
	mu     sync.Mutex
	events map[string]*fanout.Event
}

func newMemStore(events ...*fanout.Event) *memStore {
	s := &memStore{events: make(map[string]*fanout.Event)}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return s
}

func (s *memStore) get(id string) *fanout.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

func (s *memStore) Lookup(_ context.Context, eventID string) (*fanout.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, errors.Wrap(fanout.ErrEventNotFound, "")
	}
	clone := *ev
	return &clone, nil
}

func (s *memStore) Claim(_ context.Context, tenantID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.TenantID != tenantID || ev.Status != fanout.EventPending {
		return false, nil
	}
	ev.Status = fanout.EventProcessing
	return true, nil
}

func (s *memStore) FinalizeCompleted(_ context.Context, ev *fanout.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[ev.ID]
	stored.Status = fanout.EventCompleted
	stored.ErrorMessage = ""
	return nil
}

func (s *memStore) ScheduleRetry(_ context.Context, ev *fanout.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[ev.ID]
	stored.Status = fanout.EventPending
	stored.RetryCount++
	return nil
}

func (s *memStore) FinalizeFailed(_ context.Context, ev *fanout.Event, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[ev.ID]
	stored.Status = fanout.EventFailed
	stored.RetryCount++
	stored.ErrorMessage = summary
	return nil
}

func (s *memStore) ListPending(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, ev := range s.events {
		if ev.Status != fanout.EventPending {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// memSubs returns a fixed subscription list filtered by the topic matcher.
type memSubs struct {
	subs []fanout.Subscription
}

func (s *memSubs) ListMatching(_ context.Context, eventType string) ([]fanout.Subscription, error) {
	var matched []fanout.Subscription
	for _, sub := range s.subs {
		if sub.IsActive && fanout.MatchTopic(sub.EventTypePattern, eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// memLog is an in-memory append-only delivery log.
type memLog struct {
	mu      sync.Mutex
	entries []fanout.DeliveryEntry
	err     error
}

func (l *memLog) Record(_ context.Context, entry *fanout.DeliveryEntry) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *memLog) list() []fanout.DeliveryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fanout.DeliveryEntry(nil), l.entries...)
}

// memInvoker maps handler modules to canned results or errors and records
// each invocation.
type memInvoker struct {
	mu      sync.Mutex
	results map[string]fanout.HandlerResult
	errs    map[string]error
	calls   []string
}

func newMemInvoker() *memInvoker {
	return &memInvoker{
		results: make(map[string]fanout.HandlerResult),
		errs:    make(map[string]error),
	}
}

func (i *memInvoker) Invoke(_ context.Context, _ fate.Fate, module string,
	ev *fanout.Event,
) (fanout.HandlerResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls = append(i.calls, module+":"+ev.ID)
	if err, ok := i.errs[module]; ok {
		return fanout.HandlerResult{}, err
	}
	if res, ok := i.results[module]; ok {
		return res, nil
	}
	return fanout.HandlerResult{Action: fanout.ActionApplied}, nil
}

func (i *memInvoker) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}
