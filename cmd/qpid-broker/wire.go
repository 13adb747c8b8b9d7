package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ted-ross/qpid-spf/internal/frame"
	"github.com/ted-ross/qpid-spf/internal/seq"
)

// wireFrame is the on-the-wire, newline-delimited JSON encoding of an
// inbound frame.Frame this binary accepts in place of byte-exact AMQP 0-10
// framing — an explicit Non-goal (spec.md/SPEC_FULL §6: "byte-exact AMQP
// 0-10 framing... TCP/I-O transport beyond what's needed to demonstrate
// the pipeline end-to-end"). It carries exactly the fields handleIn's
// frame classification needs.
type wireFrame struct {
	Bof, Eof, Bos, Eos bool

	// Method is empty for a pure content-continuation frame, otherwise
	// one of "transfer", "execution.sync", "session.detach", "management".
	Method string `json:",omitempty"`

	Destination string         `json:",omitempty"`
	AcceptMode  string         `json:",omitempty"`
	Sync        bool           `json:",omitempty"`
	Properties  map[string]any `json:",omitempty"`
	TTL         uint64         `json:",omitempty"`
	Content     []byte         `json:",omitempty"`

	ManagementMethod int            `json:",omitempty"`
	ManagementArgs   map[string]any `json:",omitempty"`
}

func decodeFrame(wf wireFrame) (frame.Frame, error) {
	flags := frame.Flags{Bof: wf.Bof, Eof: wf.Eof, Bos: wf.Bos, Eos: wf.Eos}

	var header *frame.Header
	if wf.Properties != nil || wf.TTL != 0 {
		header = &frame.Header{Properties: wf.Properties, TTL: wf.TTL}
	}

	switch wf.Method {
	case "":
		return frame.Frame{Flags: flags, Header: header, Content: wf.Content}, nil
	case "transfer":
		mode := frame.AcceptModeNone
		if wf.AcceptMode == "explicit" {
			mode = frame.AcceptModeExplicit
		}
		method := frame.MessageTransfer{Destination: wf.Destination, AcceptMode: mode, Sync: wf.Sync}
		return frame.Frame{Flags: flags, Method: method, Header: header, Content: wf.Content}, nil
	case "execution.sync":
		return frame.Frame{Flags: flags, Method: frame.ExecutionSyncMethod{Sync: wf.Sync}}, nil
	case "session.detach":
		return frame.Frame{Flags: flags, Method: frame.SessionDetachMethod{Sync: wf.Sync}}, nil
	case "management":
		method := frame.ManagementMethod{MethodID: wf.ManagementMethod, Args: wf.ManagementArgs, Sync: wf.Sync}
		return frame.Frame{Flags: flags, Method: method}, nil
	default:
		return frame.Frame{}, fmt.Errorf("wire: unknown method %q", wf.Method)
	}
}

// wireOut is the outbound counterpart: every frame.SessionHandler callback
// is rendered as one JSON line tagged by kind.
type wireOut struct {
	Kind string `json:"kind"`

	CommandID   uint64         `json:"command_id,omitempty"`
	Mark        uint64         `json:"mark,omitempty"`
	IDs         []uint64       `json:"ids,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Content     []byte         `json:"content,omitempty"`
	Redelivered bool           `json:"redelivered,omitempty"`
	Value       any            `json:"value,omitempty"`
	Code        int            `json:"code,omitempty"`
	Message     string         `json:"message,omitempty"`
}

func idsToUint64(ids []seq.Number) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// connHandler implements frame.SessionHandler by serializing each outbound
// event as a wireOut JSON line. Writes are serialized with a mutex since
// SessionHandler methods are invoked from the session's dispatcher
// goroutine while handleConnection's read loop may call OutException at
// the same time, and the shared io.Writer needs protecting against
// interleaved partial writes.
type connHandler struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newConnHandler(w io.Writer) *connHandler {
	return &connHandler{enc: json.NewEncoder(w)}
}

func (h *connHandler) write(v wireOut) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.enc.Encode(v)
}

func (h *connHandler) OutResult(r frame.ExecutionResult) {
	h.write(wireOut{Kind: "result", CommandID: uint64(r.CommandID), Value: r.Value})
}

func (h *connHandler) OutCompleted(c frame.ExecutionCompleted) {
	h.write(wireOut{Kind: "completed", Mark: uint64(c.Mark)})
}

func (h *connHandler) OutAccept(a frame.MessageAccept) {
	h.write(wireOut{Kind: "accept", IDs: idsToUint64(a.IDs)})
}

func (h *connHandler) OutDetach(frame.SessionDetach) {
	h.write(wireOut{Kind: "detach"})
}

func (h *connHandler) OutDelivery(d frame.Delivery) {
	h.write(wireOut{
		Kind:        "delivery",
		CommandID:   uint64(d.CommandID),
		Destination: d.Destination,
		Properties:  d.Properties,
		Content:     d.Content,
		Redelivered: d.Redelivered,
	})
}

func (h *connHandler) OutException(e frame.SessionException) {
	h.write(wireOut{Kind: "exception", Code: e.Code, Message: e.Message})
}

func (h *connHandler) SendCompletion() {
	h.write(wireOut{Kind: "sync"})
}
