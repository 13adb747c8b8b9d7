// Package queue implements the broker's queue construction and
// producer-side flow-control pipeline: QueueSettings validation, the
// storage/container/distributor tagged-variant construction QueueFactory
// performs, and QueueFlowLimit's count/size threshold state machine.
//
// Grounded on original_source/cpp/src/qpid/broker/{QueueFactory,
// QueueFlowLimit,QueueSettings}.cpp. Reformulated per spec.md §9's
// "Polymorphism" note as tagged variants (QueueKind/ContainerKind/
// DistributorKind) instead of a virtual Queue/Messages/MessageDistributor
// class hierarchy.
package queue

import "github.com/ted-ross/qpid-spf/internal/errs"

// QueueSettings mirrors the config-key table in spec.md §6: the knobs a
// client supplies when declaring a queue.
type QueueSettings struct {
	Durable bool

	// MaxCount/MaxSize are the queue's overall depth bounds (0 = unbounded),
	// "qpid.max_count"/"qpid.max_size" in the original's declare-arguments.
	MaxCount uint32
	MaxSize  uint64

	// DropMessagesAtLimit selects the ring (lossy) queue variant: at
	// MaxCount the oldest message is dropped to admit the new one, and no
	// flow-control limit is attached (the ring bound already caps
	// producer-visible depth). MaxSize does not bound a ring queue, and a
	// MaxCount of 0 leaves it unbounded.
	DropMessagesAtLimit bool

	// LvqKey selects the last-value-queue container: enqueuing a message
	// whose LvqKey property matches one already on the queue replaces the
	// earlier entry, and the replacement takes the tail position.
	LvqKey string

	// Priorities is the number of priority levels; 0 disables priority
	// ordering (container falls back to plain Fifo).
	Priorities int
	// DefaultFairshare/Fairshare configure a fairshare scheduler across
	// priority levels; Fairshare, if non-empty, is "level:limit,..." pairs
	// and takes precedence over DefaultFairshare.
	DefaultFairshare int
	Fairshare        string

	// GroupKey selects the group distributor: messages sharing the same
	// GroupKey property are delivered only to consumers already bound to
	// that group (sticky group assignment), per spec.md §6.
	GroupKey string

	// Flow control, "qpid.flow_stop_count"/"qpid.flow_resume_count"/
	// "qpid.flow_stop_size"/"qpid.flow_resume_size". Zero means "not set";
	// QueueFactory derives defaults from the broker-wide ratio settings
	// when none of these four are set.
	FlowStopCount   uint32
	FlowResumeCount uint32
	FlowStopSize    uint64
	FlowResumeSize  uint64

	// QueueThresholdEventRatio configures the threshold-alert observer
	// (spec.md §4.3 step 4); 0 falls back to the Factory's
	// QueueThresholdEventRatio, and the observer is off only when that is
	// 0 too.
	QueueThresholdEventRatio int
}

// FlowStopConfigured reports whether the settings explicitly requested a
// flow-control limit via any of the four flow keys, as opposed to relying
// on the broker's default ratio.
func (s QueueSettings) FlowStopConfigured() bool {
	return s.FlowStopCount != 0 || s.FlowStopSize != 0 || s.FlowResumeCount != 0 || s.FlowResumeSize != 0
}

// Validate checks the cross-field constraints spec.md §7 calls out,
// mirroring QueueSettings::validate()/QueueFactory::create()'s ordering:
// validation runs before any container/distributor decision is made.
func (s QueueSettings) Validate() error {
	if s.DropMessagesAtLimit && s.LvqKey != "" {
		return errs.New(errs.InvalidQueueSettingsError, "a queue cannot combine the ring policy with an lvq key")
	}
	if s.LvqKey != "" && s.Priorities > 0 {
		return errs.New(errs.InvalidQueueSettingsError, "a last-value queue cannot also be a priority queue")
	}
	if s.Priorities < 0 {
		return errs.New(errs.InvalidQueueSettingsError, "priority level count cannot be negative")
	}
	if s.FlowResumeCount > s.FlowStopCount {
		return errs.New(errs.InvalidQueueSettingsError, "flow_resume_count must not exceed flow_stop_count")
	}
	if s.FlowResumeSize > s.FlowStopSize {
		return errs.New(errs.InvalidQueueSettingsError, "flow_resume_size must not exceed flow_stop_size")
	}
	if s.MaxCount != 0 && s.FlowStopCount != 0 && s.MaxCount < s.FlowStopCount {
		return errs.New(errs.InvalidQueueSettingsError, "flow_stop_count must not exceed max_count")
	}
	if s.MaxSize != 0 && s.FlowStopSize != 0 && s.MaxSize < s.FlowStopSize {
		return errs.New(errs.InvalidQueueSettingsError, "flow_stop_size must not exceed max_size")
	}
	return nil
}

// DefaultRatios are broker-wide flow-control defaults, applied by
// QueueFactory when a queue's settings don't configure flow control
// explicitly. Mirrors QueueFlowLimit::setDefaults.
type DefaultRatios struct {
	MaxQueueSize    uint64
	FlowStopRatio   int // percent, 0-100
	FlowResumeRatio int // percent, 0-100
}

// Validate checks the ratio constraints QueueFlowLimit::setDefaults
// enforces.
func (d DefaultRatios) Validate() error {
	if d.FlowStopRatio > 100 || d.FlowResumeRatio > 100 {
		return errs.New(errs.InvalidQueueSettingsError, "default queue flow ratios must be between 0 and 100")
	}
	if d.FlowResumeRatio > d.FlowStopRatio {
		return errs.New(errs.InvalidQueueSettingsError, "default flow stop ratio must be >= flow resume ratio")
	}
	return nil
}
