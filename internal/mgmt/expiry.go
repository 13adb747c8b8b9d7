package mgmt

import (
	"log"
	"time"
)

// Sweeper periodically runs Agent.Sweep, turning a Detached session whose
// configured lifespan has elapsed with no re-attach into an actual
// teardown via onExpire — the concrete half of the SessionManager-style
// expiry SPEC_FULL adds on top of original_source's documented no-op
// SessionState::setTimeout. Scoped to a single process: no distributed
// consensus on session ownership, per the carried Non-goals.
type Sweeper struct {
	agent              *Agent
	lifespan           time.Duration
	destroyedRetention time.Duration
	onExpire           func(sessionID string)
	log                *log.Logger
	stop               chan struct{}
}

// NewSweeper constructs a Sweeper. onExpire is called once per expired
// session id, outside any Agent lock, so it is safe for it to call back
// into session.SessionState.Close or similar teardown.
func NewSweeper(agent *Agent, lifespan, destroyedRetention time.Duration, onExpire func(string), logger *log.Logger) *Sweeper {
	return &Sweeper{
		agent:              agent,
		lifespan:           lifespan,
		destroyedRetention: destroyedRetention,
		onExpire:           onExpire,
		log:                logger,
		stop:               make(chan struct{}),
	}
}

// Run blocks, sweeping every interval until Stop is called. Intended to
// be started in its own goroutine by cmd/qpid-broker.
func (s *Sweeper) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, id := range s.agent.Sweep(now, s.lifespan, s.destroyedRetention) {
				if s.onExpire != nil {
					s.onExpire(id)
				}
			}
		}
	}
}

// Stop ends the sweep loop. Safe to call at most once.
func (s *Sweeper) Stop() { close(s.stop) }
