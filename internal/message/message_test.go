package message

import "testing"

type recordingFlusher struct {
	calls []bool // each entry is the sync flag of one FlushCompletion call
}

func (f *recordingFlusher) FlushCompletion(m *Message, sync bool) {
	f.calls = append(f.calls, sync)
}

func TestIngressCompletionFiresOnceAtZero(t *testing.T) {
	f := &recordingFlusher{}
	m := &Message{}
	c := m.Completion()
	c.Begin(m, f)

	c.Clone() // store write
	c.Clone() // queue enqueue

	if got := c.Outstanding(); got != 3 {
		t.Fatalf("expected 3 outstanding, got %d", got)
	}

	c.Completed() // store write finishes, worker thread
	c.End()       // queue enqueue finishes, I/O thread

	if len(f.calls) != 0 {
		t.Fatalf("expected no flush yet, got %d", len(f.calls))
	}

	c.End() // session's own reference ends last
	if len(f.calls) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(f.calls))
	}
	if f.calls[0] != true {
		t.Fatalf("expected the firing call to report sync=true (End), got %v", f.calls[0])
	}
}

func TestIngressCompletionFiresFromWorkerThread(t *testing.T) {
	f := &recordingFlusher{}
	m := &Message{}
	c := m.Completion()
	c.Begin(m, f)

	c.Completed()
	if len(f.calls) != 1 || f.calls[0] != false {
		t.Fatalf("expected one flush with sync=false, got %v", f.calls)
	}
}

func TestIngressCompletionCloneAfterFirePanics(t *testing.T) {
	f := &recordingFlusher{}
	m := &Message{}
	c := m.Completion()
	c.Begin(m, f)
	c.End()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Clone after fire to panic")
		}
	}()
	c.Clone()
}

func TestBuilderAssemblesFrameset(t *testing.T) {
	var b Builder
	if b.InProgress() {
		t.Fatal("builder should not be in progress before Start")
	}

	b.Start("amq.direct/foo", true)
	if !b.InProgress() {
		t.Fatal("builder should be in progress after Start")
	}
	b.SetHeader(map[string]any{"x-key": "v"}, 1000)
	b.AppendContent([]byte("hello, "))
	b.AppendContent([]byte("world"))

	msg := b.Finish()
	if b.InProgress() {
		t.Fatal("builder should reset after Finish")
	}
	if msg.Destination != "amq.direct/foo" {
		t.Fatalf("unexpected destination %q", msg.Destination)
	}
	if string(msg.Content) != "hello, world" {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if !msg.RequiresSync {
		t.Fatal("expected RequiresSync to carry over from Start")
	}
	if msg.TTL != 1000 {
		t.Fatalf("unexpected ttl %d", msg.TTL)
	}
}
