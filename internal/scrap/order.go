package scrap

import "time"

// Scheduling cadence defaults. The follow-up delays are measured from the
// order's original due time, not from when the visit finished.
const (
	DefaultInitialOffset = 10 * time.Second
	DefaultVisitedDelay  = 5 * time.Minute
	DefaultFailedDelay   = 1 * time.Minute
)

// ScrapOrder one scheduled visit of a stop's pages
type ScrapOrder struct {
	ScheduledAt time.Time // due time, primary ordering key
	StopID      string    // tie-breaker, lexicographic
}

// Before reports whether o is due ahead of other. Earlier due time wins;
// equal times fall back to the stop id.
func (o ScrapOrder) Before(other ScrapOrder) bool {
	if !o.ScheduledAt.Equal(other.ScheduledAt) {
		return o.ScheduledAt.Before(other.ScheduledAt)
	}
	return o.StopID < other.StopID
}

// VisitResult outcome of one visit
type VisitResult int

const (
	Visited VisitResult = iota // every page captured
	Failed                     // a page failed, remaining pages were skipped
)

func (r VisitResult) String() string {
	switch r {
	case Visited:
		return "visited"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reschedule returns the single follow-up order for a finished visit:
// visitedDelay after the original due time on success, failedDelay on
// failure. Every visit produces exactly one follow-up.
func Reschedule(order ScrapOrder, result VisitResult, visitedDelay, failedDelay time.Duration) ScrapOrder {
	delay := visitedDelay
	if result == Failed {
		delay = failedDelay
	}
	return ScrapOrder{
		ScheduledAt: order.ScheduledAt.Add(delay),
		StopID:      order.StopID,
	}
}

// InitOrders builds the initial order set: one per stop id, all due at the
// same instant, base+offset.
func InitOrders(stopIDs []string, base time.Time, offset time.Duration) []ScrapOrder {
	due := base.Add(offset)
	orders := make([]ScrapOrder, 0, len(stopIDs))
	for _, id := range stopIDs {
		orders = append(orders, ScrapOrder{ScheduledAt: due, StopID: id})
	}
	return orders
}
