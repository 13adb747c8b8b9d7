package main

import (
	"log"
	"sync"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/mgmt"
	"github.com/ted-ross/qpid-spf/internal/queue"
	"github.com/ted-ross/qpid-spf/internal/store"
)

// brokerRouter is the session.Router every connection's SessionState is
// built with. It resolves a destination to a queue.Queue (creating one
// with the broker's default settings on first use), writes the message
// through the store, and enqueues it — the concrete wiring
// cmd/qpid-broker supplies for the core pipeline's router/store
// collaborators, which spec.md treats as out of scope.
type brokerRouter struct {
	mu      sync.Mutex
	queues  map[string]*queue.Queue
	factory *queue.Factory
	store   store.Store
	agent   *mgmt.Agent
	log     *log.Logger
}

func newBrokerRouter(factory *queue.Factory, st store.Store, agent *mgmt.Agent, logger *log.Logger) *brokerRouter {
	return &brokerRouter{
		queues:  make(map[string]*queue.Queue),
		factory: factory,
		store:   st,
		agent:   agent,
		log:     logger,
	}
}

func (r *brokerRouter) queueFor(name string) *queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q
	}
	q, err := r.factory.Create(name, queue.QueueSettings{})
	if err != nil {
		// Default settings always validate; a non-default queue would be
		// declared through the (out of scope) management interface before
		// any message ever routes to it.
		if r.log != nil {
			r.log.Printf("router: failed to auto-create queue %q: %v", name, err)
		}
		return nil
	}
	r.queues[name] = q
	r.agent.RegisterQueue(name, q.Settings)
	return q
}

// Route admits msg onto its destination queue. It clones the message's
// completion twice — once for the store write, once for the queue's own
// enqueue bookkeeping — per store.Store.Write's and queue.Queue.Enqueue's
// documented calling convention, then lets the session's own Begin
// reference (ended by handleContent right after Route returns) go away
// last.
func (r *brokerRouter) Route(msg *message.Message) {
	q := r.queueFor(msg.Destination)
	if q == nil {
		return
	}

	msg.Completion().Clone()
	r.store.Write(msg)

	msg.Completion().Clone()
	q.Enqueue(msg)
}
