// Package frame defines the small AMQP 0-10 command vocabulary the session
// pipeline dispatches on: frame flags, the method-vs-content split, and the
// outbound frame types a SessionState emits.
//
// Grounded on amps/command.go's command-id vocabulary (int-enum command
// kind, getters on a header struct) and amps/header.go's wire-field naming,
// adapted from the AMPS command set to the AMQP 0-10 subset spec.md names:
// Message.Transfer, Message.Accept, Execution.Sync, Execution.Result,
// Execution.Completed, Session.Detach.
package frame

import "github.com/ted-ross/qpid-spf/internal/seq"

// Flags mirror the four AMQP 0-10 framing bits spec.md §6 describes: a
// method frame is self-contained iff Bof&&Eof; a content frameset spans
// from a frame with Bos to one with Eos.
type Flags struct {
	Bof bool
	Eof bool
	Bos bool
	Eos bool
}

// IsSelfContainedMethod reports whether both Bof and Eof are set, i.e.
// the frame carries a whole method by itself. It does not look at whether
// that method is content-bearing.
func (f Flags) IsSelfContainedMethod() bool { return f.Bof && f.Eof }

// StartsFrameset reports whether this frame opens a content frameset.
func (f Flags) StartsFrameset() bool { return f.Bos }

// EndsFrameset reports whether this frame closes a content frameset.
func (f Flags) EndsFrameset() bool { return f.Eos }

// MethodKind identifies the shape of an inbound method, mirroring
// amps/command.go's commandStringToInt/commandIntToString enum.
type MethodKind int

const (
	MethodUnknown MethodKind = iota
	MethodMessageTransfer
	MethodExecutionSync
	MethodSessionDetach
	MethodManagement
)

// Method is anything carried in a self-contained method frame or as the
// leading frame of a content-bearing frameset.
type Method interface {
	Kind() MethodKind
	IsSync() bool
	IsContentBearing() bool
}

// AcceptMode mirrors the AMQP 0-10 message.accept-mode: explicit accept
// requires the broker to track the transfer in the session's accepted set
// until Message.Accept is sent; none means no Message.Accept is expected.
type AcceptMode int

const (
	AcceptModeExplicit AcceptMode = iota
	AcceptModeNone
)

// MessageTransfer is the method that opens a content-bearing frameset.
// It is never dispatched through the Invoker — handleIn routes it (and any
// header/content continuation) to handleContent instead, per spec.md §4.1's
// frame classification rule.
type MessageTransfer struct {
	Destination string
	AcceptMode  AcceptMode
	Sync        bool
}

func (MessageTransfer) Kind() MethodKind        { return MethodMessageTransfer }
func (m MessageTransfer) IsSync() bool          { return m.Sync }
func (MessageTransfer) IsContentBearing() bool  { return true }

// ExecutionSyncMethod is the method whose adapter invocation defers
// completion until every earlier command on the session has completed
// (spec.md §4.1, "Special case — Execution.Sync").
type ExecutionSyncMethod struct {
	Sync bool
}

func (ExecutionSyncMethod) Kind() MethodKind       { return MethodExecutionSync }
func (m ExecutionSyncMethod) IsSync() bool         { return m.Sync }
func (ExecutionSyncMethod) IsContentBearing() bool { return false }

// SessionDetachMethod requests that the session detach from its handler.
type SessionDetachMethod struct {
	Sync bool
}

func (SessionDetachMethod) Kind() MethodKind       { return MethodSessionDetach }
func (m SessionDetachMethod) IsSync() bool         { return m.Sync }
func (SessionDetachMethod) IsContentBearing() bool { return false }

// Management method ids, mirroring spec.md §6's abstracted management
// surface: detach is implemented, the rest are accepted but not
// implemented (status NotImplemented).
const (
	ManagementDetach = iota
	ManagementClose
	ManagementSolicitAck
	ManagementResetLifespan
)

// ManagementMethod is a generic stand-in for the broker's other
// per-session/per-exchange management methods. The core pipeline does not
// need to know their business effect, only whether the Invoker handled
// them and whether they produced a result (spec.md §1's "out of scope:
// treated as external collaborators, specified only at their interface").
type ManagementMethod struct {
	MethodID int
	Args     map[string]any
	Sync     bool
}

func (ManagementMethod) Kind() MethodKind       { return MethodManagement }
func (m ManagementMethod) IsSync() bool         { return m.Sync }
func (ManagementMethod) IsContentBearing() bool { return false }

// Header carries the per-message properties a content frameset's header
// frame supplies (delivery properties, application headers). The session
// synthesizes an empty Header for "headerless" framesets per spec.md §4.1.
type Header struct {
	Properties map[string]any
	TTL        uint64
}

// Frame is one inbound AMQP frame as delivered by the (out of scope) frame
// decoder: a method frame, a header frame, or a content frame, tagged with
// its framing flags.
type Frame struct {
	Flags   Flags
	Method  Method
	Header  *Header
	Content []byte
}

// --- Outbound frame types, emitted by SessionState onto its SessionHandler ---

// ExecutionResult carries the return value of a method invocation back to
// the peer.
type ExecutionResult struct {
	CommandID seq.Number
	Value     any
}

// ExecutionCompleted carries the cumulative completed-command mark (and any
// exception ids still outstanding below it — omitted here since the core
// never produces gaps below its own mark) back to the peer.
type ExecutionCompleted struct {
	Mark seq.Number
}

// MessageAccept carries the accumulated set of received Message.Transfer
// ids the session is ready to acknowledge.
type MessageAccept struct {
	IDs []seq.Number
}

// SessionDetach notifies the peer the session has detached.
type SessionDetach struct{}

// SessionException carries a fatal protocol-invariant violation back to
// the peer immediately before the session detaches, the outbound
// analogue of an AMQP 0-10 session.exception. Code is one of the
// internal/errs codes (InternalError, in practice — the only code
// severe enough to fail the session rather than just the one command).
type SessionException struct {
	Code    int
	Message string
}

// Delivery carries an egress Message.Transfer to a consumer — the Go
// analogue of SessionState::deliver's method+header+content frame
// sequence in original_source, collapsed to one value since this repo
// does not model byte-exact wire framing (a Non-goal).
type Delivery struct {
	CommandID   seq.Number
	Destination string
	Properties  map[string]any
	Content     []byte
	Redelivered bool
}

// SessionHandler is the session's connection-level output path — the Go
// analogue of SessionHandler/AMQP_ClientProxy in original_source. A
// SessionState never writes bytes itself; it hands finished outbound
// frames to whatever attached SessionHandler the connection wired up.
type SessionHandler interface {
	OutResult(ExecutionResult)
	OutCompleted(ExecutionCompleted)
	OutAccept(MessageAccept)
	OutDetach(SessionDetach)
	OutDelivery(Delivery)
	OutException(SessionException)
	SendCompletion()
}

