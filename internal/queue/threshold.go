package queue

import "log"

// ThresholdEvent is emitted when a queue's enqueued size crosses
// queueThresholdEventRatio * stopSize — a management notification, not a
// protocol error, distinct from flow control kicking in. Grounded on
// ThresholdAlerts::observe in original_source's QueueFactory.cpp, which
// the distilled spec names in its construction-order step but never gives
// its own event type.
type ThresholdEvent struct {
	QueueName string
	Size      uint64
	Count     uint32
}

// ThresholdObserver watches enqueued count/size against a single
// threshold derived from ratio * the flow-control stop threshold, and
// calls onCross exactly once per crossing (armed again once the queue
// drops back below the threshold).
type ThresholdObserver struct {
	queueName    string
	countLimit   uint32
	sizeLimit    uint64
	crossed      bool
	onCross      func(ThresholdEvent)
	log          *log.Logger
}

// NewThresholdObserver derives its limits from ratio (0-100) applied to
// the flow limit's stop thresholds; returns nil if ratio is 0 or flow is
// nil (no stop thresholds to derive a ratio from).
func NewThresholdObserver(queueName string, ratio int, flow *FlowLimit, logger *log.Logger, onCross func(ThresholdEvent)) *ThresholdObserver {
	if ratio <= 0 || flow == nil {
		return nil
	}
	return &ThresholdObserver{
		queueName:  queueName,
		countLimit: uint32(float64(flow.stopCount) * float64(ratio) / 100.0),
		sizeLimit:  uint64(float64(flow.stopSize) * float64(ratio) / 100.0),
		onCross:    onCross,
		log:        logger,
	}
}

// Observe is called after every enqueue/dequeue with the queue's current
// depth.
func (t *ThresholdObserver) Observe(count uint32, size uint64) {
	if t == nil {
		return
	}
	over := (t.countLimit != 0 && count >= t.countLimit) || (t.sizeLimit != 0 && size >= t.sizeLimit)
	if over && !t.crossed {
		t.crossed = true
		if t.log != nil {
			t.log.Printf("queue %q: crossed threshold alert level (count=%d size=%d)", t.queueName, count, size)
		}
		if t.onCross != nil {
			t.onCross(ThresholdEvent{QueueName: t.queueName, Size: size, Count: count})
		}
	} else if !over {
		t.crossed = false
	}
}
