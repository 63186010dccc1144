package fanout

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
)

const defaultSweepBackoff = time.Second * 30
const defaultSweepLimit = 100

// PendingLister lists the ids of events eligible for a dispatch pass,
// oldest first.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]string, error)
}

// NewSweeper returns a sweeper that repeatedly dispatches pending events;
// the cron-style sweep that picks up events whose producer never invoked the
// dispatcher, and events returned to pending by the retry policy.
func NewSweeper(events PendingLister, d *Dispatcher, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		events:     events,
		dispatcher: d,
		backoff:    defaultSweepBackoff,
		limit:      defaultSweepLimit,
		sleep:      time.After,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sweeper polls the event store for pending events and dispatches each in
// turn. Dispatch outcomes (including handler failures) are data and never
// stop the sweep; only store errors and context cancellation do.
type Sweeper struct {
	events     PendingLister
	dispatcher *Dispatcher
	backoff    time.Duration
	limit      int
	sleep      func(d time.Duration) <-chan time.Time
}

// SweeperOption defines a functional option to configure new sweepers.
type SweeperOption func(*Sweeper)

// WithSweepBackoff provides an option to set the backoff period between
// polling the DB when no pending events are found. It defaults to 30s.
func WithSweepBackoff(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.backoff = d
	}
}

// WithSweepLimit provides an option to set the maximum number of events
// fetched per poll. It defaults to 100.
func WithSweepLimit(limit int) SweeperOption {
	return func(s *Sweeper) {
		s.limit = limit
	}
}

// WithSweepSleep provides an option to set the sleep function, for testing.
func WithSweepSleep(fn func(d time.Duration) <-chan time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.sleep = fn
	}
}

// Run blocks while sweeping pending events. It always returns a non-nil
// error. Cancel the context to return early.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		ids, err := s.events.ListPending(ctx, s.limit)
		if err != nil {
			return errors.Wrap(err, "list pending error")
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(ErrStopped, err.Error())
			}

			res, err := s.dispatcher.Dispatch(ctx, id)
			if IsNotFoundErr(err) {
				// Deleted between poll and dispatch.
				continue
			} else if err != nil {
				return errors.Wrap(err, "sweep dispatch error", j.KV("event_id", id))
			}

			log.Info(ctx, "swept event", j.MKS{
				"event_id": id,
				"status":   res.Status.String(),
			})
		}

		if len(ids) == s.limit {
			// More may be waiting; poll again immediately.
			continue
		}

		select {
		case <-s.sleep(s.backoff):
		case <-ctx.Done():
			return errors.Wrap(ErrStopped, ctx.Err().Error())
		}
	}
}
