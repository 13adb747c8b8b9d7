package queue

import "log"

// QueueKind tags which storage subclass a queue was built as — spec.md
// §9's QueueKind tagged variant. Base and Lossy behave identically at the
// Queue level here (Lossy's drop-oldest behavior lives in RingContainer);
// Kind is retained for introspection/management reporting rather than to
// drive branching, since the container already encodes the behavior.
type QueueKind int

const (
	QueueKindBase QueueKind = iota
	QueueKindLossy
	QueueKindLvq
)

// ContainerKind tags which Container variant a queue was built with.
type ContainerKind int

const (
	ContainerKindFifo ContainerKind = iota
	ContainerKindPriority
	ContainerKindLvq
	ContainerKindRing
)

// DistributorKind tags which Distributor variant a queue was built with.
type DistributorKind int

const (
	DistributorKindFifo DistributorKind = iota
	DistributorKindGroup
)

// Factory builds Queues, mirroring QueueFactory::create's exact
// five-step construction order from original_source/cpp/src/qpid/broker/
// QueueFactory.cpp: validate, pick the storage subclass, pick the
// container, pick the distributor, attach observers (flow limit then
// threshold).
type Factory struct {
	Defaults             DefaultRatios
	QueueThresholdEventRatio int
	Logger               *log.Logger
	OnThreshold          func(ThresholdEvent)
	OnFlowActiveChanged  func(queueName string, active bool)
}

// Create builds a Queue named name from settings, or returns an error if
// settings fails validation.
func (f *Factory) Create(name string, settings QueueSettings) (*Queue, error) {
	// Step 1: validate.
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	q := &Queue{
		Name:     name,
		Settings: settings,
		log:      f.Logger,
	}

	// Step 1 (continued): pick the storage subclass. This only affects
	// QueueKind bookkeeping here — the drop-oldest/overwrite-in-place
	// behavior the original attaches to the subclass lives in the
	// container chosen in step 2.
	kind := QueueKindBase
	switch {
	case settings.DropMessagesAtLimit:
		kind = QueueKindLossy
	case settings.LvqKey != "":
		kind = QueueKindLvq
	}

	// Step 2: pick the container.
	var containerKind ContainerKind
	switch {
	case settings.DropMessagesAtLimit:
		capacity := int(settings.MaxCount)
		q.container = NewRingContainer(capacity)
		containerKind = ContainerKindRing
	case settings.LvqKey != "":
		q.container = NewLvqContainer(settings.LvqKey)
		containerKind = ContainerKindLvq
	case settings.Priorities > 0:
		q.container = NewPriorityContainer(settings.Priorities, settings.Fairshare, settings.DefaultFairshare)
		containerKind = ContainerKindPriority
	default:
		q.container = NewFifoContainer()
		containerKind = ContainerKindFifo
	}

	// Step 3: pick the distributor.
	if settings.GroupKey != "" {
		q.distrib = NewGroupDistributor(settings.GroupKey)
	} else {
		q.distrib = NewFifoDistributor()
	}

	// Step 4: flow-limit observer (computed before threshold so the
	// threshold ratio has stop thresholds to derive its own limit from,
	// same dependency the original expresses by constructing
	// ThresholdAlerts against the queue's already-configured flow
	// settings).
	onActive := func(active bool) {
		if f.OnFlowActiveChanged != nil {
			f.OnFlowActiveChanged(name, active)
		}
	}
	q.flow = NewFlowLimitFromSettings(name, settings, f.Defaults, f.Logger, onActive)

	// Step 5: threshold-alert observer.
	ratio := settings.QueueThresholdEventRatio
	if ratio == 0 {
		ratio = f.QueueThresholdEventRatio
	}
	q.threshold = NewThresholdObserver(name, ratio, q.flow, f.Logger, f.OnThreshold)

	if f.Logger != nil {
		f.Logger.Printf("queue %q: created kind=%d container=%d distributor=%d", name, kind, containerKind, distributorKindOf(settings))
	}

	return q, nil
}

func distributorKindOf(settings QueueSettings) DistributorKind {
	if settings.GroupKey != "" {
		return DistributorKindGroup
	}
	return DistributorKindFifo
}
