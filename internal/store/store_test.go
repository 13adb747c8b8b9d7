package store

import (
	"sync"
	"testing"
	"time"

	"github.com/ted-ross/qpid-spf/internal/message"
)

type flushSignal struct {
	wg *sync.WaitGroup
}

func (f flushSignal) FlushCompletion(m *message.Message, sync bool) {
	f.wg.Done()
}

func TestMemoryStoreCompletesAsynchronously(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)
	msg := &message.Message{Destination: "q1"}

	var wg sync.WaitGroup
	wg.Add(1)
	msg.Completion().Begin(msg, flushSignal{&wg})

	msg.Completion().Clone()
	s.Write(msg)
	msg.Completion().End() // the session's own reference

	wg.Wait()

	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}
