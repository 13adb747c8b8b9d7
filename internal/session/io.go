package session

// Dispatcher models the connection's I/O thread: a single goroutine that
// serializes every mutation of session state, whether it originates from
// an inbound frame or from a worker thread's completion callback.
// Grounded on ConnectionState's requestIOProcessing in original_source,
// which SessionState::AsyncCommandCompleter::scheduleMsgCompletion uses to
// bounce worker-thread completions back onto the connection's own thread.
type Dispatcher struct {
	work chan func()
	done chan struct{}
}

// NewDispatcher starts a Dispatcher's goroutine. Callers must call Close
// when the owning session/connection shuts down.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case fn := <-d.work:
			fn()
		case <-d.done:
			return
		}
	}
}

// Schedule queues fn to run on the dispatcher's goroutine. Safe to call
// from any thread.
func (d *Dispatcher) Schedule(fn func()) {
	select {
	case d.work <- fn:
	case <-d.done:
	}
}

// Close stops the dispatcher's goroutine. Pending scheduled work that has
// not yet started is dropped, matching AsyncCommandCompleter::cancel's
// "session is gone, stop acting on its behalf" semantics.
func (d *Dispatcher) Close() {
	close(d.done)
}
