package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ted-ross/qpid-spf/internal/frame"
)

func TestDecodeFrameTransfer(t *testing.T) {
	wf := wireFrame{
		Bof: true, Eof: true, Bos: true, Eos: true,
		Method:      "transfer",
		Destination: "q1",
		AcceptMode:  "explicit",
		Sync:        true,
		Content:     []byte("hello"),
	}
	f, err := decodeFrame(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := f.Method.(frame.MessageTransfer)
	if !ok {
		t.Fatalf("expected MessageTransfer, got %T", f.Method)
	}
	if m.Destination != "q1" || m.AcceptMode != frame.AcceptModeExplicit || !m.Sync {
		t.Fatalf("unexpected method: %+v", m)
	}
	if !bytes.Equal(f.Content, []byte("hello")) {
		t.Fatalf("unexpected content: %q", f.Content)
	}
}

func TestDecodeFrameUnknownMethod(t *testing.T) {
	if _, err := decodeFrame(wireFrame{Method: "bogus"}); err == nil {
		t.Fatal("expected an error for an unrecognized method")
	}
}

func TestDecodeFrameContentContinuation(t *testing.T) {
	f, err := decodeFrame(wireFrame{Content: []byte("more")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Method != nil {
		t.Fatalf("expected a nil method for a pure content frame, got %v", f.Method)
	}
}

func TestConnHandlerEncodesException(t *testing.T) {
	var buf bytes.Buffer
	h := newConnHandler(&buf)
	h.OutException(frame.SessionException{Code: 1, Message: "cannot handle multi-frame command segments"})

	var out wireOut
	if err := json.NewDecoder(strings.NewReader(buf.String())).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Kind != "exception" || out.Code != 1 || out.Message == "" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestConnHandlerEncodesDelivery(t *testing.T) {
	var buf bytes.Buffer
	h := newConnHandler(&buf)
	h.OutDelivery(frame.Delivery{CommandID: 7, Destination: "q1", Content: []byte("x")})

	var out wireOut
	if err := json.NewDecoder(strings.NewReader(buf.String())).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Kind != "delivery" || out.CommandID != 7 || out.Destination != "q1" {
		t.Fatalf("unexpected output: %+v", out)
	}
}
