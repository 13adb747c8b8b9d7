package main

import (
	"testing"

	"github.com/ted-ross/qpid-spf/internal/frame"
	"github.com/ted-ross/qpid-spf/internal/message"
)

func TestTransferFrameSelfContainedFrameset(t *testing.T) {
	f := transferFrame("q1", true, []byte("payload"))
	if !f.Flags.StartsFrameset() || !f.Flags.EndsFrameset() {
		t.Fatalf("expected a single-frame frameset, got flags %+v", f.Flags)
	}
	m, ok := f.Method.(frame.MessageTransfer)
	if !ok || !m.Sync || m.Destination != "q1" {
		t.Fatalf("unexpected method: %+v", f.Method)
	}
}

func TestRouterFuncAdaptsPlainFunction(t *testing.T) {
	var routed *message.Message
	router := routerFunc(func(m *message.Message) { routed = m })

	msg := &message.Message{Destination: "q1"}
	router.Route(msg)
	if routed != msg {
		t.Fatal("expected routerFunc.Route to forward to the wrapped function")
	}
}
