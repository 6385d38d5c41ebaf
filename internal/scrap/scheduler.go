package scrap

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StopVisitor executes one visit for an order and reports the outcome.
// Implementations must not panic across this boundary; failures are part
// of the result, not errors.
type StopVisitor interface {
	Visit(ctx context.Context, order ScrapOrder) VisitResult
}

// VisitorFunc adapts a function to the StopVisitor interface
type VisitorFunc func(ctx context.Context, order ScrapOrder) VisitResult

func (f VisitorFunc) Visit(ctx context.Context, order ScrapOrder) VisitResult {
	return f(ctx, order)
}

// SchedulerConfig tunes the rolling cadence
type SchedulerConfig struct {
	InitialOffset time.Duration // first visit of every stop after startup
	VisitedDelay  time.Duration // steady-state polling interval
	FailedDelay   time.Duration // retry backoff after a failed visit
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.InitialOffset <= 0 {
		c.InitialOffset = DefaultInitialOffset
	}
	if c.VisitedDelay <= 0 {
		c.VisitedDelay = DefaultVisitedDelay
	}
	if c.FailedDelay <= 0 {
		c.FailedDelay = DefaultFailedDelay
	}
	return c
}

// Scheduler visits every stop on a rolling cadence. One goroutine owns the
// queue: it pops the earliest-due order, runs the visit strictly
// sequentially, and pushes exactly one follow-up order per visit.
type Scheduler struct {
	queue   *OrderQueue
	visitor StopVisitor
	cfg     SchedulerConfig
	now     func() time.Time
}

// NewScheduler seeds the queue with one order per stop id, all due
// InitialOffset from now.
func NewScheduler(visitor StopVisitor, stopIDs []string, cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		visitor: visitor,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
	s.queue = NewOrderQueue(InitOrders(stopIDs, s.now(), s.cfg.InitialOffset)...)
	return s
}

// Pending returns the number of queued orders
func (s *Scheduler) Pending() int { return s.queue.Len() }

// Run drives the loop until ctx is cancelled or the queue drains. The
// queue never drains in normal operation because every visit re-enqueues;
// visit failures are folded into the reschedule and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msgf("scheduler started, %d orders pending", s.queue.Len())

	for {
		next, ok := s.queue.Peek()
		if !ok {
			log.Warn().Msg("order queue drained, scheduler stopping")
			return nil
		}

		if wait := next.ScheduledAt.Sub(s.now()); wait > 0 {
			log.Debug().Msgf("next order %s due in %s", next.StopID, wait.Round(time.Millisecond))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		order, _ := s.queue.Pop()
		result := s.visitor.Visit(ctx, order)
		followUp := Reschedule(order, result, s.cfg.VisitedDelay, s.cfg.FailedDelay)
		s.queue.Push(followUp)

		log.Info().
			Str("stop", order.StopID).
			Stringer("result", result).
			Time("next", followUp.ScheduledAt).
			Msg("visit finished")
	}
}
