package mgmt

import (
	"log"
	"sync"
	"time"

	"github.com/ted-ross/qpid-spf/internal/queue"
)

// Agent is the management object registry: one per broker process, holding
// every live Session and Queue management object and publishing their
// lifecycle transitions onto a Hub. Grounded on
// original_source/cpp/src/qpid/broker/Broker.cpp's single ManagementAgent
// owning every Manageable in the process.
type Agent struct {
	mu       sync.Mutex
	sessions map[string]*SessionObject
	queues   map[string]*QueueObject
	hub      *Hub
	log      *log.Logger
}

// NewAgent constructs an Agent publishing events onto hub (nil is
// accepted — events are simply dropped). logger may be nil.
func NewAgent(hub *Hub, logger *log.Logger) *Agent {
	return &Agent{
		sessions: make(map[string]*SessionObject),
		queues:   make(map[string]*QueueObject),
		hub:      hub,
		log:      logger,
	}
}

func (a *Agent) publish(evt Event) {
	if a.hub == nil {
		return
	}
	evt.Time = time.Now()
	a.hub.Publish(evt)
}

func (a *Agent) logf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}

// RegisterSession creates and registers a SessionObject for a newly
// attached session, the Go analogue of addManagementObject at session
// construction.
func (a *Agent) RegisterSession(id string) {
	obj := newSessionObject(id, time.Now())
	a.mu.Lock()
	a.sessions[id] = obj
	a.mu.Unlock()
	a.logf("mgmt: session %q registered", id)
	a.publish(Event{Kind: EventSessionAttached, Subject: id})
}

// AttachSession marks a previously registered, detached session as
// attached again.
func (a *Agent) AttachSession(id string) {
	now := time.Now()
	a.mu.Lock()
	obj := a.sessions[id]
	a.mu.Unlock()
	if obj == nil {
		a.RegisterSession(id)
		return
	}
	obj.attach(now)
	a.publish(Event{Kind: EventSessionAttached, Subject: id})
}

// DetachSession marks a session's management object detached; it is not
// destroyed — the session may still reattach within its lifespan.
func (a *Agent) DetachSession(id string) {
	now := time.Now()
	a.mu.Lock()
	obj := a.sessions[id]
	a.mu.Unlock()
	if obj == nil {
		return
	}
	obj.detach(now)
	a.logf("mgmt: session %q detached", id)
	a.publish(Event{Kind: EventSessionDetached, Subject: id})
}

// DestroySession marks a session's management object for destruction.
// Mirrors resourceDestroy: the entry stays registered (Sweep purges it
// later) so a still-pending report referencing it can resolve.
func (a *Agent) DestroySession(id string) {
	a.mu.Lock()
	obj := a.sessions[id]
	a.mu.Unlock()
	if obj == nil {
		return
	}
	obj.markDestroyed(time.Now())
	a.logf("mgmt: session %q marked for destruction", id)
}

// RecordFailedCompletion notes that id's async completion reported a
// failure, for surfacing through SessionSnapshot.FailedCompletions — the
// REDESIGN FLAGS resolution's observability channel.
func (a *Agent) RecordFailedCompletion(id string) {
	a.mu.Lock()
	obj := a.sessions[id]
	a.mu.Unlock()
	if obj != nil {
		obj.recordFailedCompletion()
	}
}

// SessionSnapshots returns a snapshot of every currently registered
// session, including ones marked for destruction but not yet swept.
func (a *Agent) SessionSnapshots() []SessionSnapshot {
	a.mu.Lock()
	objs := make([]*SessionObject, 0, len(a.sessions))
	for _, o := range a.sessions {
		objs = append(objs, o)
	}
	a.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.snapshot())
	}
	return out
}

// RegisterQueue creates and registers a QueueObject for a newly created
// queue.
func (a *Agent) RegisterQueue(name string, settings queue.QueueSettings) {
	obj := newQueueObject(name, settings, time.Now())
	a.mu.Lock()
	a.queues[name] = obj
	a.mu.Unlock()
	a.logf("mgmt: queue %q registered", name)
}

// DestroyQueue marks a queue's management object for destruction.
func (a *Agent) DestroyQueue(name string) {
	a.mu.Lock()
	obj := a.queues[name]
	a.mu.Unlock()
	if obj == nil {
		return
	}
	obj.markDestroyed(time.Now())
	a.logf("mgmt: queue %q marked for destruction", name)
}

// OnQueueFlowActiveChanged is a queue.Factory.OnFlowActiveChanged
// callback: it updates the queue's management object and publishes a
// flow-control transition event.
func (a *Agent) OnQueueFlowActiveChanged(name string, active bool) {
	a.mu.Lock()
	obj := a.queues[name]
	a.mu.Unlock()
	if obj != nil {
		obj.setFlowActive(active)
	}
	kind := EventQueueFlowInactive
	if active {
		kind = EventQueueFlowActive
	}
	a.publish(Event{Kind: kind, Subject: name})
}

// OnQueueThreshold is a queue.Factory.OnThreshold callback: it updates
// the queue's management object and publishes the threshold-alert event
// SPEC_FULL adds for ThresholdAlerts::observe.
func (a *Agent) OnQueueThreshold(evt queue.ThresholdEvent) {
	a.mu.Lock()
	obj := a.queues[evt.QueueName]
	a.mu.Unlock()
	if obj != nil {
		obj.recordThresholdCrossing()
	}
	a.publish(Event{
		Kind:    EventQueueThreshold,
		Subject: evt.QueueName,
		Detail:  map[string]any{"count": evt.Count, "size": evt.Size},
	})
}

// QueueSnapshots returns a snapshot of every currently registered queue.
func (a *Agent) QueueSnapshots() []QueueSnapshot {
	a.mu.Lock()
	objs := make([]*QueueObject, 0, len(a.queues))
	for _, o := range a.queues {
		objs = append(objs, o)
	}
	a.mu.Unlock()

	out := make([]QueueSnapshot, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.snapshot())
	}
	return out
}

// Sweep runs one pass of management-object housekeeping: any session
// detached for at least lifespan is reported as expired (its id is
// returned so the caller can tear down the underlying session.SessionState
// — the Agent has no reference to it), and any object already marked for
// destruction for at least destroyedRetention is purged from the
// registry outright.
//
// Grounded on the SessionManager-style expiry sweep SPEC_FULL adds for the
// "detachedLifespan" concept original_source leaves as a documented no-op
// in SessionState::setTimeout.
func (a *Agent) Sweep(now time.Time, lifespan, destroyedRetention time.Duration) []string {
	a.mu.Lock()
	sessions := make(map[string]*SessionObject, len(a.sessions))
	for id, o := range a.sessions {
		sessions[id] = o
	}
	queues := make(map[string]*QueueObject, len(a.queues))
	for name, o := range a.queues {
		queues[name] = o
	}
	a.mu.Unlock()

	var expired []string
	for id, o := range sessions {
		if o.isExpired(now, lifespan) {
			o.markDestroyed(now)
			expired = append(expired, id)
			a.logf("mgmt: session %q expired after %s detached", id, lifespan)
			a.publish(Event{Kind: EventSessionExpired, Subject: id})
		}
	}

	a.mu.Lock()
	for id, o := range sessions {
		if o.purgeable(now, destroyedRetention) {
			delete(a.sessions, id)
		}
	}
	for name, o := range queues {
		if o.purgeable(now, destroyedRetention) {
			delete(a.queues, name)
		}
	}
	a.mu.Unlock()

	return expired
}
