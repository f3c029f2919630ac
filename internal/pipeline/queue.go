// Package pipeline carries frozen detection events from the capture
// loop to the redaction worker over a bounded FIFO queue.
package pipeline

import (
	"sync"
	"time"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/metrics"
)

const DefaultQueueCapacity = 16

type item struct {
	ev     monitor.DetectionEvent
	poison bool
}

// Queue is a bounded multi-producer/single-consumer FIFO. When full,
// Offer evicts the oldest pending event rather than blocking the
// capture loop (drop-oldest backpressure).
type Queue struct {
	mu sync.Mutex
	ch chan item
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan item, capacity)}
}

// Offer enqueues an event, evicting the oldest entry if the queue is
// full. It never blocks longer than the eviction itself.
func (q *Queue) Offer(ev monitor.DetectionEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := item{ev: ev}
	for {
		select {
		case q.ch <- it:
			return
		default:
		}
		select {
		case dropped := <-q.ch:
			if dropped.poison {
				// Never evict the shutdown sentinel; put it back and
				// drop the new event instead.
				q.ch <- dropped
				metrics.EventsDropped.Inc()
				return
			}
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

// Poison pushes the shutdown sentinel. The consumer exits after
// draining everything enqueued before it.
func (q *Queue) Poison() {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := item{poison: true}
	for {
		select {
		case q.ch <- it:
			return
		default:
		}
		select {
		case dropped := <-q.ch:
			if !dropped.poison {
				metrics.EventsDropped.Inc()
			}
		default:
		}
	}
}

// Dequeue waits up to timeout for the next event. The second return is
// false on timeout, and poison is true when the sentinel was read.
func (q *Queue) Dequeue(timeout time.Duration) (ev monitor.DetectionEvent, poison, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case it := <-q.ch:
		return it.ev, it.poison, true
	case <-timer.C:
		return monitor.DetectionEvent{}, false, false
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	return len(q.ch)
}
