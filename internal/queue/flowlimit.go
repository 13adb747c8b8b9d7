package queue

import (
	"context"
	"log"
	"sync"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
	"golang.org/x/sync/semaphore"
)

// releaseConcurrency bounds how many flow-released messages' completions
// are run down concurrently when a resume transition releases a whole
// batch at once — releasing one message can trigger a store flush, and
// letting an unbounded number of those run at once just moves the
// backlog from the queue to the store.
const releaseConcurrency = 8

// FlowLimit implements producer back-pressure: once enqueued count/size
// crosses a stop threshold, newly enqueued messages' completions are held
// open (clone held, not ended) until the queue has drained back below the
// resume threshold, at which point every held message is released at
// once. A message being dequeued while flow-controlled is always released
// immediately, since holding it open after it has left the queue would
// deadlock whatever waits on the flow-controlled producer.
//
// Grounded verbatim on original_source/cpp/src/qpid/broker/
// QueueFlowLimit.cpp's enqueued()/dequeued() transition logic: strict
// inequality ">"/"<" at both the stop and resume checks, and resume
// treating a zero threshold on an axis as "that axis does not block
// resume."
type FlowLimit struct {
	mu sync.Mutex

	queueName string
	log       *log.Logger

	stopCount, resumeCount uint32
	stopSize, resumeSize   uint64

	active bool
	count  uint32
	size   uint64

	// held maps the sequence number of a still-enqueued, flow-held
	// message to the Clone reference FlowLimit is responsible for ending.
	held map[seq.Number]*message.Message

	onActiveChanged func(active bool)
	releaseSem      *semaphore.Weighted
}

// NewFlowLimit constructs a FlowLimit with the four stop/resume
// thresholds. A zero stop threshold on an axis disables that axis.
func NewFlowLimit(queueName string, stopCount, resumeCount uint32, stopSize, resumeSize uint64, logger *log.Logger, onActiveChanged func(bool)) *FlowLimit {
	if resumeCount == 0 {
		resumeCount = stopCount
	}
	if resumeSize == 0 {
		resumeSize = stopSize
	}
	return &FlowLimit{
		queueName:       queueName,
		log:             logger,
		stopCount:       stopCount,
		resumeCount:     resumeCount,
		stopSize:        stopSize,
		resumeSize:      resumeSize,
		held:            make(map[seq.Number]*message.Message),
		onActiveChanged: onActiveChanged,
		releaseSem:      semaphore.NewWeighted(releaseConcurrency),
	}
}

// Active reports whether producer flow control is currently engaged.
func (f *FlowLimit) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Enqueued records a newly enqueued message. id is the message's position
// in the queue (used to look it up again on Dequeued); contentSize is its
// byte size. If flow control is (or becomes) active, or any message is
// already held, msg's completion is cloned and held open until a later
// Dequeued or a resume transition releases it.
func (f *FlowLimit) Enqueued(id seq.Number, msg *message.Message, contentSize uint64) {
	f.mu.Lock()

	f.count++
	f.size += contentSize

	wasActive := f.active
	if !f.active {
		switch {
		case f.stopCount != 0 && f.count > f.stopCount:
			f.active = true
		case f.stopSize != 0 && f.size > f.stopSize:
			f.active = true
		}
		if f.active {
			f.logf("queue %q: producer flow control activated (count=%d size=%d)", f.queueName, f.count, f.size)
		}
	}

	hold := f.active || len(f.held) > 0
	becameActive := f.active && !wasActive
	var cb func(bool)
	if hold {
		msg.Completion().Clone()
		f.held[id] = msg
	}
	if becameActive {
		cb = f.onActiveChanged
	}
	f.mu.Unlock()

	if cb != nil {
		cb(true)
	}
}

// Dequeued records that the message at id has left the queue. It always
// releases that message's held completion (if any), then — if the
// resulting count/size has dropped below every enabled resume threshold —
// releases every other held message and clears flow control.
func (f *FlowLimit) Dequeued(id seq.Number, contentSize uint64) {
	f.mu.Lock()

	if f.count > 0 {
		f.count--
	}
	if contentSize <= f.size {
		f.size -= contentSize
	} else {
		f.size = 0
	}

	wasActive := f.active
	if f.active &&
		(f.resumeSize == 0 || f.size < f.resumeSize) &&
		(f.resumeCount == 0 || f.count < f.resumeCount) {
		f.active = false
		f.logf("queue %q: producer flow control deactivated (count=%d size=%d)", f.queueName, f.count, f.size)
	}

	var toRelease []*message.Message
	if !f.active {
		for k, m := range f.held {
			toRelease = append(toRelease, m)
			delete(f.held, k)
		}
	} else if m, ok := f.held[id]; ok {
		toRelease = append(toRelease, m)
		delete(f.held, id)
	}

	becameInactive := wasActive && !f.active
	cb := f.onActiveChanged
	f.mu.Unlock()

	f.releaseMessages(toRelease)
	if becameInactive && cb != nil {
		cb(false)
	}
}

// releaseMessages runs down a batch of released completions, bounding how
// many run concurrently via releaseSem. Blocks until every message in the
// batch has completed, so callers can rely on HeldCount reflecting the
// release immediately afterward.
func (f *FlowLimit) releaseMessages(msgs []*message.Message) {
	if len(msgs) == 0 {
		return
	}
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, m := range msgs {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.releaseSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer f.releaseSem.Release(1)
			m.Completion().Completed()
		}()
	}
	wg.Wait()
}

// HeldCount reports how many messages currently have their completion
// held open by flow control. Intended for tests.
func (f *FlowLimit) HeldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func (f *FlowLimit) logf(format string, args ...any) {
	if f.log != nil {
		f.log.Printf(format, args...)
	}
}

// NewFlowLimitFromSettings derives a FlowLimit from QueueSettings, falling
// back to the broker's DefaultRatios when the queue did not configure
// flow control explicitly. Mirrors QueueFlowLimit::createLimit. Returns
// nil if no limit applies (ring queue, explicit zero settings, or no
// default ratio configured).
func NewFlowLimitFromSettings(queueName string, settings QueueSettings, defaults DefaultRatios, logger *log.Logger, onActiveChanged func(bool)) *FlowLimit {
	if settings.DropMessagesAtLimit {
		return nil
	}

	if settings.FlowStopConfigured() {
		if settings.FlowStopCount == 0 && settings.FlowStopSize == 0 {
			// both stop thresholds explicitly zeroed: flow control off.
			return nil
		}
		return NewFlowLimit(queueName, settings.FlowStopCount, settings.FlowResumeCount, settings.FlowStopSize, settings.FlowResumeSize, logger, onActiveChanged)
	}

	if defaults.FlowStopRatio == 0 {
		return nil
	}

	maxSize := settings.MaxSize
	if maxSize == 0 {
		maxSize = defaults.MaxQueueSize
	}
	stopSize := uint64(float64(maxSize)*(float64(defaults.FlowStopRatio)/100.0) + 0.5)
	resumeSize := uint64(float64(maxSize) * (float64(defaults.FlowResumeRatio) / 100.0))

	maxCount := settings.MaxCount
	stopCount := uint32(float64(maxCount)*(float64(defaults.FlowStopRatio)/100.0) + 0.5)
	resumeCount := uint32(float64(maxCount) * (float64(defaults.FlowResumeRatio) / 100.0))

	return NewFlowLimit(queueName, stopCount, resumeCount, stopSize, resumeSize, logger, onActiveChanged)
}
