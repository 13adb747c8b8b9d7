// Package store provides the message store the session's Router writes
// ingress messages through before enqueuing them on a queue. The
// real qpid broker's store is durable and out of scope here (spec.md's
// Non-goals: "durable store internals"); this package keeps the store's
// interface contract and an in-memory implementation that completes
// asynchronously, on a goroutine standing in for the store's own I/O
// thread, so callers exercise the same clone/Completed completion path a
// real disk-backed store would require.
//
// Grounded on amps/publish_store.go's mutex-guarded map store.
package store

import (
	"sync"
	"time"

	"github.com/ted-ross/qpid-spf/internal/message"
)

// Store durably records an ingress message. Write returns once the write
// has been queued; completion of the message's IngressCompletion
// reference happens later, asynchronously, via Completed.
type Store interface {
	// Write queues msg for a store write. The caller must have already
	// called msg.Completion().Clone() for the reference Write will end.
	Write(msg *message.Message)

	// Flush forces an in-flight write for msg to complete immediately,
	// rather than waiting out its simulated latency. Grounded on
	// original_source's IncompleteIngressMsgXfer::clone(), which calls
	// msg->flush() to force an immediate journal write when the client is
	// already blocked waiting on the transfer's completion (an
	// Execution.Sync arrived before the store write landed on its own).
	// A message with no in-flight write is a no-op.
	Flush(msg *message.Message)
}

// MemoryStore is a non-durable Store that retains written messages in a
// map and simulates the store's own background I/O thread with a
// goroutine per write, completing the message's clone via Completed once
// the simulated write lands (or once Flush cuts the wait short).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*message.Message
	nextID  uint64
	latency time.Duration
	inFlight map[*message.Message]chan struct{}
}

// NewMemoryStore returns a MemoryStore that completes each write after
// latency (use 0 for synchronous-feeling tests; a real store would never
// be this fast, but nothing in the contract requires artificial delay).
func NewMemoryStore(latency time.Duration) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*message.Message),
		latency:  latency,
		inFlight: make(map[*message.Message]chan struct{}),
	}
}

func (s *MemoryStore) Write(msg *message.Message) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	flush := make(chan struct{})
	s.inFlight[msg] = flush
	s.mu.Unlock()

	go func() {
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-flush:
			}
		}
		s.mu.Lock()
		s.records[recordKey(id)] = msg
		delete(s.inFlight, msg)
		s.mu.Unlock()
		msg.Completion().Completed()
	}()
}

func (s *MemoryStore) Flush(msg *message.Message) {
	s.mu.Lock()
	flush, ok := s.inFlight[msg]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-flush:
	default:
		close(flush)
	}
}

// Len reports how many records have landed. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func recordKey(id uint64) string {
	// A map key constructor kept separate from Write so a future durable
	// implementation can key records by something richer than an
	// internal counter without touching Write's call sites.
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * i))
	}
	return string(b)
}
