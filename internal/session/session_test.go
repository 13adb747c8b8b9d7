package session

import (
	"sync"
	"testing"
	"time"

	"github.com/ted-ross/qpid-spf/internal/frame"
	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
	"github.com/ted-ross/qpid-spf/internal/store"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandler struct {
	mu         sync.Mutex
	results    []frame.ExecutionResult
	completed  []frame.ExecutionCompleted
	accepts    []frame.MessageAccept
	detaches   int
	deliveries []frame.Delivery
	exceptions []frame.SessionException
	syncs      int
}

func (h *fakeHandler) OutResult(r frame.ExecutionResult)       { h.mu.Lock(); h.results = append(h.results, r); h.mu.Unlock() }
func (h *fakeHandler) OutCompleted(c frame.ExecutionCompleted)  { h.mu.Lock(); h.completed = append(h.completed, c); h.mu.Unlock() }
func (h *fakeHandler) OutAccept(a frame.MessageAccept)          { h.mu.Lock(); h.accepts = append(h.accepts, a); h.mu.Unlock() }
func (h *fakeHandler) OutDetach(frame.SessionDetach)            { h.mu.Lock(); h.detaches++; h.mu.Unlock() }
func (h *fakeHandler) OutDelivery(d frame.Delivery)             { h.mu.Lock(); h.deliveries = append(h.deliveries, d); h.mu.Unlock() }
func (h *fakeHandler) OutException(e frame.SessionException)   { h.mu.Lock(); h.exceptions = append(h.exceptions, e); h.mu.Unlock() }
func (h *fakeHandler) SendCompletion()                          { h.mu.Lock(); h.syncs++; h.mu.Unlock() }

func (h *fakeHandler) syncCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncs
}

func (h *fakeHandler) acceptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.accepts)
}

// instantRouter completes every routed message immediately, synchronously,
// simulating a queue enqueue with no flow-control hold.
type instantRouter struct{}

func (instantRouter) Route(msg *message.Message) {}

// capturingRouter records the last message routed to it, for assertions
// about fields handleContent attaches before routing.
type capturingRouter struct {
	mu   sync.Mutex
	last *message.Message
}

func (r *capturingRouter) Route(msg *message.Message) {
	r.mu.Lock()
	r.last = msg
	r.mu.Unlock()
}

func (r *capturingRouter) lastMessage() *message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// holdingRouter clones the message's completion and holds it open until
// Release is called for that message, simulating an enqueue that is still
// in flight (e.g. flow-controlled, or awaiting a store write).
type holdingRouter struct {
	mu   sync.Mutex
	held []*message.Message
}

func (r *holdingRouter) Route(msg *message.Message) {
	msg.Completion().Clone()
	r.mu.Lock()
	r.held = append(r.held, msg)
	r.mu.Unlock()
}

func (r *holdingRouter) releaseAll(sync bool) {
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.mu.Unlock()
	for _, m := range held {
		if sync {
			m.Completion().End()
		} else {
			m.Completion().Completed()
		}
	}
}

func transferFrame(destination string, sync bool, content string) frame.Frame {
	return frame.Frame{
		Flags:  frame.Flags{Bof: true, Eof: true, Bos: true, Eos: true},
		Method: frame.MessageTransfer{Destination: destination, AcceptMode: frame.AcceptModeNone, Sync: sync},
		Content: []byte(content),
	}
}

// S1: basic completion — a transfer that completes synchronously within
// handleContent sends no completion notice unless sync was requested.
func TestBasicCompletionSync(t *testing.T) {
	h := &fakeHandler{}
	s := New("s1", store.NewMemoryStore(0), instantRouter{})
	defer s.Close()
	s.Attach(h)

	if err := s.HandleIn(transferFrame("q1", false, "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.syncCount() != 0 {
		t.Fatalf("expected no completion notice without sync bit, got %d", h.syncCount())
	}

	if err := s.HandleIn(transferFrame("q1", true, "world")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.syncCount() != 1 {
		t.Fatalf("expected one completion notice for the sync transfer, got %d", h.syncCount())
	}
}

// S2: deferred sync — an Execution.Sync arriving while an earlier
// transfer is still in flight must not complete until that transfer
// completes, and completing the transfer must release the deferred sync.
func TestDeferredExecutionSync(t *testing.T) {
	h := &fakeHandler{}
	router := &holdingRouter{}
	s := New("s2", store.NewMemoryStore(0), router)
	defer s.Close()
	s.Attach(h)

	if err := s.HandleIn(transferFrame("q1", false, "pending")); err != nil {
		t.Fatalf("unexpected error on transfer: %v", err)
	}

	syncFrame := frame.Frame{
		Flags:  frame.Flags{Bof: true, Eof: true},
		Method: frame.ExecutionSyncMethod{Sync: true},
	}
	if err := s.HandleIn(syncFrame); err != nil {
		t.Fatalf("unexpected error on sync: %v", err)
	}
	if h.syncCount() != 0 {
		t.Fatalf("sync should be deferred while the transfer is in flight, got %d completions", h.syncCount())
	}

	router.releaseAll(false) // worker thread completes the held transfer

	deadline := time.Now().Add(time.Second)
	for h.syncCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.syncCount() != 1 {
		t.Fatalf("expected the deferred sync to complete once the transfer finished, got %d", h.syncCount())
	}
}

// S6: async cancel — completions scheduled from a worker thread after the
// session has been closed must not touch session state.
func TestAsyncCancelIsSafe(t *testing.T) {
	h := &fakeHandler{}
	router := &holdingRouter{}
	s := New("s6", store.NewMemoryStore(0), router)
	s.Attach(h)

	if err := s.HandleIn(transferFrame("q1", false, "held")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Close() // cancels the completer while the transfer is still held

	// Completing it now must be a no-op, not a panic or a touch of freed state.
	router.releaseAll(false)
	time.Sleep(10 * time.Millisecond)
}

// handleContent always attaches publisher identity, and attaches a
// receive timestamp only when timestamping is enabled.
func TestHandleContentAttachesPublisherAndTimestamp(t *testing.T) {
	h := &fakeHandler{}
	router := &capturingRouter{}
	s := New("s-publisher", store.NewMemoryStore(0), router)
	defer s.Close()
	s.Attach(h)

	if err := s.HandleIn(transferFrame("q1", false, "untimestamped")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := router.lastMessage()
	if msg.Publisher != "s-publisher" {
		t.Fatalf("expected publisher identity to be attached, got %q", msg.Publisher)
	}
	if !msg.Timestamp.IsZero() {
		t.Fatalf("expected no timestamp when timestamping is disabled, got %v", msg.Timestamp)
	}

	s.SetTimestamping(true)
	if err := s.HandleIn(transferFrame("q1", false, "timestamped")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg = router.lastMessage()
	if msg.Timestamp.IsZero() {
		t.Fatal("expected a receive timestamp once timestamping is enabled")
	}
}

// HandleOut forwards to the attached handler and fails when detached.
func TestHandleOutForwardsAndFailsWhenDetached(t *testing.T) {
	h := &fakeHandler{}
	s := New("s-out", store.NewMemoryStore(0), instantRouter{})
	defer s.Close()
	s.Attach(h)

	if err := s.HandleOut(frame.Delivery{CommandID: 7, Destination: "q1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.mu.Lock()
	n := len(h.deliveries)
	h.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected the delivery to reach the handler, got %d deliveries", n)
	}

	s.Detach()
	if err := s.HandleOut(frame.Delivery{CommandID: 8, Destination: "q1"}); err == nil {
		t.Fatal("expected an error forwarding an outbound frame on a detached session")
	}
}

// Deliver buffers egress deliveries for replay up to the configured
// capacity, and SenderCompleted releases them.
func TestReplayBufferCapacityAndSenderCompleted(t *testing.T) {
	h := &fakeHandler{}
	s := New("s-replay", store.NewMemoryStore(0), instantRouter{})
	defer s.Close()
	s.SetReplayCapacity(2)
	s.Attach(h)

	id1 := s.Deliver("q1", nil, []byte("one"), false, false)
	id2 := s.Deliver("q1", nil, []byte("two"), false, false)
	if n := s.replayBufferLen(); n != 2 {
		t.Fatalf("expected 2 buffered deliveries, got %d", n)
	}

	s.Deliver("q1", nil, []byte("three"), false, false)
	if n := s.replayBufferLen(); n != 2 {
		t.Fatalf("expected capacity to stay at 2 after a third delivery, got %d", n)
	}

	s.SenderCompleted([]seq.Number{id1, id2})
	if n := s.replayBufferLen(); n != 1 {
		t.Fatalf("expected 1 buffered delivery after releasing two, got %d", n)
	}
}

// A replay capacity of 0 disables buffering entirely.
func TestReplayBufferDisabledByDefault(t *testing.T) {
	h := &fakeHandler{}
	s := New("s-noreplay", store.NewMemoryStore(0), instantRouter{})
	defer s.Close()
	s.Attach(h)

	s.Deliver("q1", nil, []byte("one"), false, false)
	if n := s.replayBufferLen(); n != 0 {
		t.Fatalf("expected no replay buffering by default, got %d", n)
	}
}

// Concurrent worker-thread completions, modeling spec.md §5's "pool of
// worker threads... may call back... from any thread."
func TestConcurrentWorkerCompletions(t *testing.T) {
	h := &fakeHandler{}
	router := &holdingRouter{}
	s := New("sN", store.NewMemoryStore(0), router)
	defer s.Close()
	s.Attach(h)

	const n = 20
	for i := 0; i < n; i++ {
		if err := s.HandleIn(transferFrame("q1", false, "msg")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	router.mu.Lock()
	held := router.held
	router.held = nil
	router.mu.Unlock()

	var g errgroup.Group
	for _, m := range held {
		m := m
		g.Go(func() error {
			m.Completion().Completed()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the dispatcher drain the scheduled completions
}
