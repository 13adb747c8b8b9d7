// Package message implements the broker's ingress completion bookkeeping:
// a Message.Transfer is not "done" until every asynchronous consumer of it
// (the store write, each queue it lands on) has reported back, and only
// then does the session get to mark the transfer's command complete and
// fold its id into the accept set.
//
// Grounded on original_source/cpp/src/qpid/broker/SessionState.cpp's
// IncompleteIngressMsgXfer (a refcounted sentinel that calls back into the
// session exactly once, however many consumers cloned it) and on the
// value-typed completion handles in amps/publish_store.go, which is the
// teacher's own analogue of "a message isn't acked until its store write
// finishes."
package message

import (
	"sync"
	"time"
)

// Flusher is anything that needs to be told a message's completion has
// reached zero references so it can run whatever follow-up bookkeeping
// the session associated with the message (completeRcvMsg in spec.md
// §4.1's vocabulary).
type Flusher interface {
	// FlushCompletion runs when the last reference to a Message's
	// IngressCompletion ends or completes. sync reports whether the call
	// arrived on the session's own I/O thread (End) or from an arbitrary
	// worker thread (Completed) — FlushCompletion must dispatch to the
	// I/O thread itself in the latter case.
	FlushCompletion(m *Message, sync bool)
}

// IngressCompletion is a reference-counted completion handle attached to
// an ingress Message. Every asynchronous consumer of the message (the
// store write, each queue enqueue) holds one reference, obtained via
// Clone, and calls End or Completed when its own work finishes. The
// terminal callback — Flusher.FlushCompletion — fires exactly once, when
// the last reference goes away, regardless of how many consumers cloned
// it or in what order they finish.
//
// This merges the C++ split between IncompleteIngressMsgXfer (the
// refcounted sentinel) and the message's own completion callback into one
// value: spec.md §9's design note suggests exactly this collapse for a Go
// port ("a counted sentinel plus a completion callback stored by value").
type IngressCompletion struct {
	mu      sync.Mutex
	count   int
	fired   bool
	flusher Flusher
	onClone func(*Message)
	msg     *Message
}

// Begin initializes the completion with one outstanding reference — the
// reference the session itself holds until handleContent finishes
// dispatching the message to its destination(s).
func (c *IngressCompletion) Begin(msg *Message, f Flusher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 1
	c.fired = false
	c.flusher = f
	c.msg = msg
}

// SetOnClone installs a hook run every time Clone is called, in addition
// to the refcount bump. This is where a caller plugs in the clone policy
// original_source's IncompleteIngressMsgXfer::clone() implements — flush
// immediately if the transfer requires sync, otherwise track the message
// so a later Execution.Sync can force the flush — without the message
// package itself needing to know about sessions or completers.
func (c *IngressCompletion) SetOnClone(f func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClone = f
}

// Clone adds one outstanding reference on behalf of the caller, who must
// later call End or Completed exactly once for it. Clone after the count
// has already reached zero is a programming error (the message has
// already been flushed) and panics, matching the original's assertion
// that clone() is never called on a sentinel that has already fired.
func (c *IngressCompletion) Clone() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		panic("message: Clone called after completion already fired")
	}
	c.count++
	onClone, msg := c.onClone, c.msg
	c.mu.Unlock()

	if onClone != nil {
		onClone(msg)
	}
}

// End drops one reference from the session's own I/O thread. Use this from
// handleContent/handleCommand's own call stack, never from a worker
// thread.
func (c *IngressCompletion) End() {
	c.decrement(true)
}

// Completed drops one reference from an arbitrary worker thread (a store
// write callback, a queue's async observer). The Flusher is responsible
// for bouncing back onto the session's I/O thread before touching session
// state.
func (c *IngressCompletion) Completed() {
	c.decrement(false)
}

func (c *IngressCompletion) decrement(sync bool) {
	c.mu.Lock()
	c.count--
	fire := c.count == 0 && !c.fired
	if fire {
		c.fired = true
	}
	msg, flusher := c.msg, c.flusher
	c.mu.Unlock()

	if fire && flusher != nil {
		flusher.FlushCompletion(msg, sync)
	}
}

// Outstanding reports the current reference count, for tests and
// diagnostics.
func (c *IngressCompletion) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Message is one ingress Message.Transfer: the method plus the header and
// content frames collected by a MessageBuilder, carrying its own
// completion handle.
type Message struct {
	Destination string
	Properties  map[string]any
	TTL         uint64
	Content     []byte

	// RequiresSync is true when the peer's Message.Transfer set the sync
	// bit: any clone of this message's completion handle must flush the
	// consumer's work immediately rather than deferring it, per spec.md
	// §4.1's clone policy.
	RequiresSync bool

	// Timestamp is the time the broker received this message, set by
	// handleContent when the session's timestamping option is enabled
	// (spec.md §4.1's "apply timestamping if configured" step). Zero when
	// timestamping is disabled.
	Timestamp time.Time

	// Publisher identifies the session that published this message
	// (spec.md §4.1's "attach publisher identity" step).
	Publisher string

	completion IngressCompletion
}

// Completion returns the message's completion handle.
func (m *Message) Completion() *IngressCompletion { return &m.completion }

// Builder accumulates the method/header/content frames of one
// content-bearing frameset into a Message, mirroring handleContent's
// frame-by-frame assembly in spec.md §4.1.
type Builder struct {
	msg *Message
}

// Start begins assembling a new message for destination, carrying the
// sync bit off the originating Message.Transfer method.
func (b *Builder) Start(destination string, sync bool) {
	b.msg = &Message{Destination: destination, RequiresSync: sync}
}

// SetHeader applies the frameset's header frame, if any; a headerless
// frameset leaves Properties/TTL at their zero values.
func (b *Builder) SetHeader(properties map[string]any, ttl uint64) {
	if b.msg == nil {
		return
	}
	b.msg.Properties = properties
	b.msg.TTL = ttl
}

// AppendContent appends one content frame's bytes.
func (b *Builder) AppendContent(p []byte) {
	if b.msg == nil {
		return
	}
	b.msg.Content = append(b.msg.Content, p...)
}

// Finish returns the assembled message and resets the builder for the next
// frameset.
func (b *Builder) Finish() *Message {
	m := b.msg
	b.msg = nil
	return m
}

// InProgress reports whether a frameset is currently being assembled.
func (b *Builder) InProgress() bool { return b.msg != nil }
