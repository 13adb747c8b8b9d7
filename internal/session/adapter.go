package session

import "github.com/ted-ross/qpid-spf/internal/frame"

// invokeOutcome carries the result of dispatching one method through the
// Adapter: whether the method kind was recognized at all (handled), and
// whatever result value it produced (for Execution.Result).
type invokeOutcome struct {
	handled bool
	result  any
}

// Adapter dispatches a recognized frame.Method to the SessionState
// operation it maps to. This replaces original_source's code-generated
// ServerInvoker double-dispatch visitor with a plain Go type switch —
// idiomatic Go has no use for a generated visitor when a switch on a
// small, closed set of concrete types says the same thing directly.
type Adapter struct {
	session *SessionState
}

// Invoke runs m's handler. The critical side effect is timing: when m is
// an Execution.Sync whose completion must be deferred,
// addPendingExecutionSync mutates session.currentCommandComplete
// synchronously, during this call — handleCommand's post-invoke
// completeness check must observe that mutation.
func (a *Adapter) Invoke(m frame.Method) invokeOutcome {
	switch v := m.(type) {
	case frame.ExecutionSyncMethod:
		a.session.addPendingExecutionSync()
		return invokeOutcome{handled: true}

	case frame.SessionDetachMethod:
		a.session.requestDetach()
		return invokeOutcome{handled: true}

	case frame.ManagementMethod:
		return a.invokeManagement(v)

	default:
		return invokeOutcome{handled: false}
	}
}

// Management method status values, the Go analogue of
// qpid::management::Manageable::status_t.
const (
	StatusOK             = "ok"
	StatusNotImplemented = "not-implemented"
)

func (a *Adapter) invokeManagement(m frame.ManagementMethod) invokeOutcome {
	switch m.MethodID {
	case frame.ManagementDetach:
		a.session.requestDetach()
		return invokeOutcome{handled: true, result: StatusOK}
	case frame.ManagementClose, frame.ManagementSolicitAck, frame.ManagementResetLifespan:
		return invokeOutcome{handled: true, result: StatusNotImplemented}
	default:
		return invokeOutcome{handled: false}
	}
}
