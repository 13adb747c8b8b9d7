// Package mgmt models the broker's management object lifecycle and exposes
// it through a REST admin surface and a websocket live event stream.
//
// Grounded on original_source/cpp/src/qpid/broker/SessionState.cpp's
// addManagementObject/resourceDestroy: every live Session and Queue gets a
// management object registered at construction and marked for destruction
// (not deleted outright — it may still have a pending report to publish)
// at teardown. The REST surface and its mux.HandleFunc registration style
// are grounded on tools/fakeamps/admin.go; the live event stream reuses
// that same "console push" idea over github.com/gorilla/websocket instead
// of a bespoke protocol.
package mgmt

import (
	"sync"
	"time"

	"github.com/ted-ross/qpid-spf/internal/queue"
)

// SessionSnapshot is a point-in-time, read-only view of a SessionObject,
// safe to hand to a JSON encoder or an event payload without holding any
// lock.
type SessionSnapshot struct {
	ID                string    `json:"id"`
	Attached          bool      `json:"attached"`
	CreatedAt         time.Time `json:"created_at"`
	DetachedAt        time.Time `json:"detached_at,omitempty"`
	Destroyed         bool      `json:"destroyed"`
	DestroyedAt       time.Time `json:"destroyed_at,omitempty"`
	FailedCompletions int       `json:"failed_completions"`
}

// SessionObject is the management object for one live session.
type SessionObject struct {
	mu sync.Mutex

	id                string
	attached          bool
	createdAt         time.Time
	detachedAt        time.Time
	destroyed         bool
	destroyedAt       time.Time
	failedCompletions int
}

func newSessionObject(id string, now time.Time) *SessionObject {
	return &SessionObject{id: id, attached: true, createdAt: now}
}

func (o *SessionObject) attach(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached = true
}

func (o *SessionObject) detach(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached = false
	o.detachedAt = now
}

// markDestroyed flags the object for destruction without removing it —
// Agent.Sweep purges it once destroyedRetention has elapsed, the Go
// analogue of resourceDestroy's deferred deletion.
func (o *SessionObject) markDestroyed(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed = true
	o.destroyedAt = now
}

func (o *SessionObject) recordFailedCompletion() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failedCompletions++
}

func (o *SessionObject) snapshot() SessionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SessionSnapshot{
		ID:                o.id,
		Attached:          o.attached,
		CreatedAt:         o.createdAt,
		DetachedAt:        o.detachedAt,
		Destroyed:         o.destroyed,
		DestroyedAt:       o.destroyedAt,
		FailedCompletions: o.failedCompletions,
	}
}

func (o *SessionObject) isExpired(now time.Time, lifespan time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attached || o.destroyed || lifespan <= 0 {
		return false
	}
	return !o.detachedAt.IsZero() && now.Sub(o.detachedAt) >= lifespan
}

func (o *SessionObject) purgeable(now time.Time, retention time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed && now.Sub(o.destroyedAt) >= retention
}

// QueueSnapshot is a point-in-time, read-only view of a QueueObject.
type QueueSnapshot struct {
	Name                string              `json:"name"`
	Settings            queue.QueueSettings `json:"settings"`
	CreatedAt           time.Time           `json:"created_at"`
	Destroyed           bool                `json:"destroyed"`
	FlowActive          bool                `json:"flow_active"`
	ThresholdCrossings  int                 `json:"threshold_crossings"`
}

// QueueObject is the management object for one live queue.
type QueueObject struct {
	mu sync.Mutex

	name      string
	settings  queue.QueueSettings
	createdAt time.Time

	destroyed   bool
	destroyedAt time.Time

	flowActive         bool
	thresholdCrossings int
}

func newQueueObject(name string, settings queue.QueueSettings, now time.Time) *QueueObject {
	return &QueueObject{name: name, settings: settings, createdAt: now}
}

func (o *QueueObject) setFlowActive(active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flowActive = active
}

func (o *QueueObject) recordThresholdCrossing() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.thresholdCrossings++
}

func (o *QueueObject) markDestroyed(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed = true
	o.destroyedAt = now
}

func (o *QueueObject) purgeable(now time.Time, retention time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed && now.Sub(o.destroyedAt) >= retention
}

func (o *QueueObject) snapshot() QueueSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return QueueSnapshot{
		Name:               o.name,
		Settings:           o.settings,
		CreatedAt:          o.createdAt,
		Destroyed:          o.destroyed,
		FlowActive:         o.flowActive,
		ThresholdCrossings: o.thresholdCrossings,
	}
}
