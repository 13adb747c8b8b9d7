package session

import (
	"sync"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
	"github.com/ted-ross/qpid-spf/internal/store"
)

// pendingCompletion is the payload AsyncCommandCompleter.scheduleMsgCompletion
// queues for the I/O thread to act on — MessageInfo in original_source.
type pendingCompletion struct {
	id             seq.Number
	requiresAccept bool
	requiresSync   bool
}

// AsyncCommandCompleter is the thread-safe bridge between an arbitrary
// worker thread completing a message's store write and the session's own
// I/O thread, which alone is allowed to mutate SessionState. It breaks
// the natural session<->completer ownership cycle via Cancel, which nulls
// the back-pointer to the session under lock so a completer outliving its
// session (briefly, on another thread) can't touch freed state.
//
// Grounded verbatim on original_source/cpp/src/qpid/broker/
// SessionState.cpp's AsyncCommandCompleter: addPendingMessage/
// deletePendingMessage/flushPendingMessages/scheduleMsgCompletion/
// completeCommands/attached/detached/cancel.
type AsyncCommandCompleter struct {
	mu         sync.Mutex
	session    *SessionState // nulled by Cancel
	isAttached bool
	pending    map[seq.Number]*message.Message
	completed  []pendingCompletion
}

func newAsyncCommandCompleter(s *SessionState) *AsyncCommandCompleter {
	return &AsyncCommandCompleter{
		session: s,
		pending: make(map[seq.Number]*message.Message),
	}
}

// addPendingMessage tracks msg as pending completion, so a later
// Execution.Sync can force its store write to flush early via
// flushPendingMessages.
func (c *AsyncCommandCompleter) addPendingMessage(id seq.Number, msg *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = msg
}

// deletePendingMessage stops tracking a message once its completion has
// landed through some other path.
func (c *AsyncCommandCompleter) deletePendingMessage(id seq.Number) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// flushPendingMessages forces every currently tracked message's store
// write to complete immediately. Called when an Execution.Sync arrives
// and needs every earlier command — including ones still waiting out
// their store latency — to finish now rather than later.
func (c *AsyncCommandCompleter) flushPendingMessages(st store.Store) {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[seq.Number]*message.Message)
	c.mu.Unlock()

	for _, msg := range batch {
		st.Flush(msg)
	}
}

// scheduleMsgCompletion marks a Message.Transfer command completed from
// an arbitrary worker thread. It must be thread-safe: it may run on any
// goroutine. The first entry in a batch schedules a dispatch onto the
// session's I/O thread to drain the batch via completeCommands.
func (c *AsyncCommandCompleter) scheduleMsgCompletion(id seq.Number, requiresAccept, requiresSync bool) {
	c.mu.Lock()
	if c.session == nil || !c.isAttached {
		c.mu.Unlock()
		return
	}
	c.completed = append(c.completed, pendingCompletion{id, requiresAccept, requiresSync})
	first := len(c.completed) == 1
	session := c.session
	c.mu.Unlock()

	if first {
		session.dispatcher.Schedule(func() { c.completeCommands() })
	}
}

// completeCommands runs on the I/O thread: it drains every completion
// scheduleMsgCompletion queued and feeds each into the session's
// completeRcvMsg.
func (c *AsyncCommandCompleter) completeCommands() {
	c.mu.Lock()
	session := c.session
	batch := c.completed
	c.completed = nil
	c.mu.Unlock()

	if session == nil || !session.IsAttached() {
		return
	}
	for _, p := range batch {
		session.completeRcvMsg(p.id, p.requiresAccept, p.requiresSync)
	}
}

// cancel severs the completer's link to its session. Called when the
// session is being torn down: any completion scheduled from a worker
// thread after this point is silently dropped rather than touching freed
// session state.
func (c *AsyncCommandCompleter) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// attached/detached gate whether scheduleMsgCompletion is allowed to act;
// a detached session has no I/O thread to bounce back onto.
func (c *AsyncCommandCompleter) attached()  { c.mu.Lock(); c.isAttached = true; c.mu.Unlock() }
func (c *AsyncCommandCompleter) detached()  { c.mu.Lock(); c.isAttached = false; c.mu.Unlock() }

// pendingCount reports how many messages are currently tracked pending
// completion. Intended for tests.
func (c *AsyncCommandCompleter) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *AsyncCommandCompleter) currentSession() *SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// ingressHandle implements message.Flusher for one ingress
// Message.Transfer, and installs message.IngressCompletion's clone-policy
// hook: every additional reference taken on the message either forces an
// immediate store flush (sync requested) or registers the message with
// the completer so a later sync can force it. This is the Go collapse of
// original_source's IncompleteIngressMsgXfer (clone()+completed()) that
// spec.md §9 calls for.
type ingressHandle struct {
	id             seq.Number
	requiresAccept bool
	requiresSync   bool
	completer      *AsyncCommandCompleter
	store          store.Store
	tracked        bool
}

func (h *ingressHandle) onClone(msg *message.Message) {
	if h.requiresSync {
		h.store.Flush(msg)
		return
	}
	h.tracked = true
	h.completer.addPendingMessage(h.id, msg)
}

func (h *ingressHandle) FlushCompletion(msg *message.Message, sync bool) {
	if h.tracked {
		h.completer.deletePendingMessage(h.id)
	}
	if sync {
		// This path runs directly from handleContent's own call to End,
		// still on the I/O thread, so the session is definitely valid.
		if s := h.completer.currentSession(); s != nil && s.IsAttached() {
			s.completeRcvMsg(h.id, h.requiresAccept, h.requiresSync)
		}
		return
	}
	h.completer.scheduleMsgCompletion(h.id, h.requiresAccept, h.requiresSync)
}
