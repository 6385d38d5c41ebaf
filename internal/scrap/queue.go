package scrap

import "container/heap"

// OrderQueue a min-priority queue of scrap orders, smallest due time first.
// Not safe for concurrent use; the scheduler goroutine is its only owner.
type OrderQueue struct {
	h orderHeap
}

// NewOrderQueue builds a queue holding the given orders
func NewOrderQueue(orders ...ScrapOrder) *OrderQueue {
	q := &OrderQueue{h: make(orderHeap, len(orders))}
	copy(q.h, orders)
	heap.Init(&q.h)
	return q
}

// Len returns the number of pending orders
func (q *OrderQueue) Len() int { return len(q.h) }

// Push adds an order
func (q *OrderQueue) Push(o ScrapOrder) {
	heap.Push(&q.h, o)
}

// Peek returns the earliest-due order without removing it
func (q *OrderQueue) Peek() (ScrapOrder, bool) {
	if len(q.h) == 0 {
		return ScrapOrder{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the earliest-due order
func (q *OrderQueue) Pop() (ScrapOrder, bool) {
	if len(q.h) == 0 {
		return ScrapOrder{}, false
	}
	return heap.Pop(&q.h).(ScrapOrder), true
}

type orderHeap []ScrapOrder

func (h orderHeap) Len() int           { return len(h) }
func (h orderHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h orderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) {
	*h = append(*h, x.(ScrapOrder))
}

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	o := old[n-1]
	*h = old[:n-1]
	return o
}
