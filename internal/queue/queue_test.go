package queue

import (
	"testing"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
)

func newTestMessage(content string) *message.Message {
	m := &message.Message{Content: []byte(content)}
	m.Completion().Begin(m, nopFlusher{})
	return m
}

type nopFlusher struct{}

func (nopFlusher) FlushCompletion(*message.Message, bool) {}

// S3: flow control on count alone.
func TestFlowLimitCountThreshold(t *testing.T) {
	f := NewFlowLimit("q", 2, 1, 0, 0, nil, nil)

	m1, m2, m3 := newTestMessage("a"), newTestMessage("b"), newTestMessage("c")
	f.Enqueued(1, m1, 1)
	f.Enqueued(2, m2, 1)
	if f.Active() {
		t.Fatal("should not be active at count==stop (strict inequality)")
	}
	f.Enqueued(3, m3, 1)
	if !f.Active() {
		t.Fatal("should be active once count > stop")
	}
	if f.HeldCount() != 1 {
		t.Fatalf("expected 1 held message (the one over the line), got %d", f.HeldCount())
	}

	f.Dequeued(1, 1)
	f.Dequeued(2, 1)
	if !f.Active() {
		t.Fatal("should stay active at count==resume (strict inequality)")
	}
	f.Dequeued(3, 1)
	if f.Active() {
		t.Fatal("should resume once count < resume (strict inequality)")
	}
	if f.HeldCount() != 0 {
		t.Fatal("expected held messages released on resume")
	}
}

// S4: flow control combo of count and size.
func TestFlowLimitCombo(t *testing.T) {
	f := NewFlowLimit("q", 10, 5, 20, 10, nil, nil)

	m1 := newTestMessage("0123456789012345") // 16 bytes
	m2 := newTestMessage("01234567")          // 8 bytes

	f.Enqueued(1, m1, 16)
	if f.Active() {
		t.Fatal("16 bytes should not trip a 20-byte stop threshold")
	}
	f.Enqueued(2, m2, 8)
	if !f.Active() {
		t.Fatal("24 bytes should trip a 20-byte stop threshold")
	}

	f.Dequeued(1, 16)
	if f.Active() {
		t.Fatal("8 bytes remaining should be below a 10-byte resume threshold")
	}
}

// S5: LVQ overwrite semantics.
func TestLvqOverwrite(t *testing.T) {
	c := NewLvqContainer("key")

	m1 := &message.Message{Properties: map[string]any{"key": "k1"}, Content: []byte("first")}
	m1.Completion().Begin(m1, nopFlusher{})
	m2 := &message.Message{Properties: map[string]any{"key": "k1"}, Content: []byte("second")}
	m2.Completion().Begin(m2, nopFlusher{})
	m3 := &message.Message{Properties: map[string]any{"key": "k2"}, Content: []byte("third")}
	m3.Completion().Begin(m3, nopFlusher{})

	if _, evicted := c.Push(1, m1); evicted {
		t.Fatal("first push should not evict")
	}
	evictedEntry, evicted := c.Push(2, m2)
	if !evicted || string(evictedEntry.Msg.Content) != "first" {
		t.Fatalf("expected overwrite to evict the first message, got evicted=%v entry=%v", evicted, evictedEntry)
	}
	if _, evicted := c.Push(3, m3); evicted {
		t.Fatal("distinct key should not evict")
	}

	if c.Len() != 2 {
		t.Fatalf("expected 2 live entries, got %d", c.Len())
	}

	e, ok := c.Pop()
	if !ok || string(e.Msg.Content) != "second" {
		t.Fatalf("expected pop to return the overwritten (second) message, got %+v", e)
	}
}

// TestLvqOverwriteMovesToTail mirrors the a,b,a,a,c,c push sequence from
// qpid_tests.broker_0_10.lvq.test_simple: overwriting a key must move it
// to the back of the browse order, not leave it at its first position.
func TestLvqOverwriteMovesToTail(t *testing.T) {
	c := NewLvqContainer("key")

	push := func(id seq.Number, key, content string) {
		m := &message.Message{Properties: map[string]any{"key": key}, Content: []byte(content)}
		m.Completion().Begin(m, nopFlusher{})
		c.Push(id, m)
	}

	push(1, "a", "a-1")
	push(2, "b", "b-1")
	push(3, "a", "a-2")
	push(4, "a", "a-3")
	push(5, "c", "c-1")
	push(6, "c", "c-2")

	want := []string{"b-1", "a-3", "c-2"}
	for _, w := range want {
		e, ok := c.Pop()
		if !ok || string(e.Msg.Content) != w {
			t.Fatalf("expected %q next, got ok=%v entry=%+v", w, ok, e)
		}
	}
	if _, ok := c.Pop(); ok {
		t.Fatal("expected the container to be empty")
	}
}

func TestRingContainerEvictsOldest(t *testing.T) {
	c := NewRingContainer(2)
	m1, m2, m3 := newTestMessage("1"), newTestMessage("2"), newTestMessage("3")

	c.Push(1, m1)
	c.Push(2, m2)
	evicted, ok := c.Push(3, m3)
	if !ok || evicted.ID != 1 {
		t.Fatalf("expected eviction of id 1, got ok=%v entry=%+v", ok, evicted)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestFactoryRejectsRingWithLvqKey(t *testing.T) {
	f := &Factory{}
	_, err := f.Create("q", QueueSettings{DropMessagesAtLimit: true, LvqKey: "k"})
	if err == nil {
		t.Fatal("expected validation error for ring+lvqKey combination")
	}
}

func TestFactoryDerivesDefaultFlowRatios(t *testing.T) {
	f := &Factory{Defaults: DefaultRatios{MaxQueueSize: 1000, FlowStopRatio: 80, FlowResumeRatio: 70}}
	q, err := f.Create("q", QueueSettings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.flow == nil {
		t.Fatal("expected a default-derived flow limit")
	}
	if q.flow.stopSize != 800 {
		t.Fatalf("expected stopSize 800, got %d", q.flow.stopSize)
	}
	if q.flow.resumeSize != 700 {
		t.Fatalf("expected resumeSize 700, got %d", q.flow.resumeSize)
	}
}

func TestQueueEnqueueDequeueBasic(t *testing.T) {
	f := &Factory{}
	q, err := f.Create("q", QueueSettings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := newTestMessage("hello")
	m.Completion().Clone() // the queue's own reference, ended by Enqueue
	q.Enqueue(m)

	count, size := q.Depth()
	if count != 1 || size != 5 {
		t.Fatalf("expected depth (1,5), got (%d,%d)", count, size)
	}

	e, ok := q.Dequeue()
	if !ok || string(e.Msg.Content) != "hello" {
		t.Fatalf("expected to dequeue the message back, got ok=%v entry=%+v", ok, e)
	}
	count, size = q.Depth()
	if count != 0 || size != 0 {
		t.Fatalf("expected depth (0,0) after dequeue, got (%d,%d)", count, size)
	}
}
