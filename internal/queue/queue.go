// Package queue: Queue ties a Container, Distributor, FlowLimit, and
// ThresholdObserver together into the single object SessionState's
// handleContent enqueues messages onto and a consumer's delivery path
// dequeues from.
//
// Grounded on original_source/cpp/src/qpid/broker/Queue.cpp's
// process()/dequeue() pairing enqueue/dequeue with its observers.
package queue

import (
	"log"
	"sync"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
)

// Queue is one broker queue: a name, its settings, and the tagged-variant
// storage/distribution machinery QueueFactory assembled for it.
type Queue struct {
	Name     string
	Settings QueueSettings

	mu        sync.Mutex
	container Container
	distrib   Distributor
	flow      *FlowLimit
	threshold *ThresholdObserver

	nextID    seq.Number
	count     uint32
	size      uint64
	consumers []string

	log *log.Logger
}

// Enqueue admits msg onto the queue, assigning it the next sequence
// number. The caller must already hold a Clone reference on msg's
// completion for the queue's own bookkeeping; Enqueue hands msg to the
// flow limit (which takes its own reference if it holds the message) and
// then calls End on the caller's reference. An entry the container evicts
// or replaces is reported to the flow limit as dequeued, which releases
// any hold on it.
func (q *Queue) Enqueue(msg *message.Message) seq.Number {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	size := uint64(len(msg.Content))

	evicted, evictedOK := q.container.Push(id, msg)
	q.count++
	q.size += size

	var evictedSize uint64
	if evictedOK {
		q.count--
		evictedSize = uint64(len(evicted.Msg.Content))
		if evictedSize <= q.size {
			q.size -= evictedSize
		} else {
			q.size = 0
		}
	}

	flow := q.flow
	threshold := q.threshold
	count, qsize := q.count, q.size
	q.mu.Unlock()

	if flow != nil {
		flow.Enqueued(id, msg, size)
	}
	msg.Completion().End()
	if evictedOK && flow != nil {
		flow.Dequeued(evicted.ID, evictedSize)
	}
	threshold.Observe(count, qsize)

	return id
}

// Dequeue removes and returns the next entry the queue's container
// selects, releasing any flow-control hold the entry carried. The
// distributor is not consulted; Assign does that separately.
func (q *Queue) Dequeue() (Entry, bool) {
	q.mu.Lock()
	e, ok := q.container.Pop()
	if !ok {
		q.mu.Unlock()
		return Entry{}, false
	}
	size := uint64(len(e.Msg.Content))
	if q.count > 0 {
		q.count--
	}
	if size <= q.size {
		q.size -= size
	} else {
		q.size = 0
	}
	flow := q.flow
	threshold := q.threshold
	count, qsize := q.count, q.size
	q.mu.Unlock()

	if flow != nil {
		flow.Dequeued(e.ID, size)
	}
	threshold.Observe(count, qsize)
	return e, true
}

// Depth reports the queue's current count and total content size.
func (q *Queue) Depth() (uint32, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count, q.size
}

// FlowActive reports whether producer flow control is currently engaged
// for this queue.
func (q *Queue) FlowActive() bool {
	if q.flow == nil {
		return false
	}
	return q.flow.Active()
}

// AddConsumer registers a consumer id as eligible for delivery.
func (q *Queue) AddConsumer(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers = append(q.consumers, id)
}

// RemoveConsumer unregisters a consumer, releasing any group ownership
// the distributor had assigned it.
func (q *Queue) RemoveConsumer(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.consumers {
		if c == id {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	q.distrib.Release(id)
}

// Assign asks the distributor which registered consumer e should be
// offered to.
func (q *Queue) Assign(e Entry) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.distrib.Assign(e, q.consumers)
}
