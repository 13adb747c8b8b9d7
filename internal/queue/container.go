package queue

import (
	"strconv"
	"strings"

	"github.com/ted-ross/qpid-spf/internal/message"
	"github.com/ted-ross/qpid-spf/internal/seq"
)

// Entry pairs a message with the sequence number it was enqueued under.
type Entry struct {
	ID  seq.Number
	Msg *message.Message
}

// Container is the message storage structure a queue holds — spec.md
// §9's ContainerKind tagged variant, reformulated here as an interface
// implemented by one small struct per variant rather than a class
// hierarchy, since each variant's Push/Pop semantics differ enough that a
// single struct with mode flags would just reintroduce the hierarchy as
// branches.
type Container interface {
	// Push admits msg under id. It returns an entry evicted to make room
	// (Ring, over capacity) or replaced (Lvq, same key),
	// or ok=false if nothing was evicted.
	Push(id seq.Number, msg *message.Message) (evicted Entry, evictedOK bool)
	Pop() (Entry, bool)
	Len() int
}

// FifoContainer is the plain unordered-by-priority container: MessageDeque
// in the original.
type FifoContainer struct {
	entries []Entry
}

func NewFifoContainer() *FifoContainer { return &FifoContainer{} }

func (c *FifoContainer) Push(id seq.Number, msg *message.Message) (Entry, bool) {
	c.entries = append(c.entries, Entry{id, msg})
	return Entry{}, false
}

func (c *FifoContainer) Pop() (Entry, bool) {
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	e := c.entries[0]
	c.entries = c.entries[1:]
	return e, true
}

func (c *FifoContainer) Len() int { return len(c.entries) }

// RingContainer is a fixed-capacity container that evicts the oldest
// entry to admit a new one once full, the container-level analogue of the
// ring (lossy) queue variant — spec.md §4 supplement assigns it its own
// ContainerKind distinct from the Lossy QueueKind wrapper, since a ring
// queue's overflow policy is a property of its storage shape, not of a
// wrapper around an arbitrary container.
type RingContainer struct {
	capacity int
	entries  []Entry
}

func NewRingContainer(capacity int) *RingContainer {
	return &RingContainer{capacity: capacity}
}

func (c *RingContainer) Push(id seq.Number, msg *message.Message) (Entry, bool) {
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		evicted := c.entries[0]
		c.entries = append(c.entries[1:], Entry{id, msg})
		return evicted, true
	}
	c.entries = append(c.entries, Entry{id, msg})
	return Entry{}, false
}

func (c *RingContainer) Pop() (Entry, bool) {
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	e := c.entries[0]
	c.entries = c.entries[1:]
	return e, true
}

func (c *RingContainer) Len() int { return len(c.entries) }

// LvqContainer keeps at most one entry per distinct value of a property
// key: pushing an entry whose key value matches one already present
// overwrites it and moves it to the tail, so its queue position tracks
// the most recent update rather than the key's first arrival —
// MessageMap in the original.
type LvqContainer struct {
	key   string
	order []string // key values, oldest update first
	byKey map[string]Entry
}

func NewLvqContainer(key string) *LvqContainer {
	return &LvqContainer{key: key, byKey: make(map[string]Entry)}
}

func (c *LvqContainer) lvqKeyValue(msg *message.Message) string {
	if msg.Properties == nil {
		return ""
	}
	v, ok := msg.Properties[c.key]
	if !ok {
		return ""
	}
	return toKeyString(v)
}

func (c *LvqContainer) Push(id seq.Number, msg *message.Message) (Entry, bool) {
	k := c.lvqKeyValue(msg)
	old, exists := c.byKey[k]
	if exists {
		c.removeFromOrder(k)
	}
	c.order = append(c.order, k)
	c.byKey[k] = Entry{id, msg}
	if exists {
		return old, true
	}
	return Entry{}, false
}

// removeFromOrder drops k's current position so Push can re-append it at
// the tail, moving an overwritten key to the most-recently-updated slot.
func (c *LvqContainer) removeFromOrder(k string) {
	for i, v := range c.order {
		if v == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *LvqContainer) Pop() (Entry, bool) {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]
		e, ok := c.byKey[k]
		if !ok {
			continue // was overwritten in place and already popped under a later Push's id: unreachable with current Push, kept defensive
		}
		delete(c.byKey, k)
		return e, true
	}
	return Entry{}, false
}

func (c *LvqContainer) Len() int { return len(c.byKey) }

// PriorityContainer holds `levels` separate FIFO lanes and pops from the
// highest occupied lane first, unless fairshare limits are configured, in
// which case it pops up to each lane's configured share before moving to
// the next lower lane, matching Fairshare::create's round-robin-with-quota
// behavior.
type PriorityContainer struct {
	lanes    []FifoContainer
	shares   []int // per-level consecutive-pop quota; 0 = unlimited
	turn     int
	takenRun int
}

// NewPriorityContainer builds a container with the given number of
// priority levels (highest index = highest priority) and an optional
// fairshare spec of "level:limit,level:limit" pairs; an empty fairshare
// spec with defaultShare>0 applies defaultShare to every level.
func NewPriorityContainer(levels int, fairshare string, defaultShare int) *PriorityContainer {
	if levels < 1 {
		levels = 1
	}
	c := &PriorityContainer{
		lanes:  make([]FifoContainer, levels),
		shares: make([]int, levels),
		turn:   levels - 1,
	}
	for i := range c.shares {
		c.shares[i] = defaultShare
	}
	for _, pair := range strings.Split(fairshare, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		level, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		limit, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || level < 0 || level >= levels {
			continue
		}
		c.shares[level] = limit
	}
	return c
}

func (c *PriorityContainer) priorityOf(msg *message.Message) int {
	if msg.Properties == nil {
		return 0
	}
	v, ok := msg.Properties["priority"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return clampLevel(n, len(c.lanes))
	case int64:
		return clampLevel(int(n), len(c.lanes))
	default:
		return 0
	}
}

func clampLevel(n, levels int) int {
	if n < 0 {
		return 0
	}
	if n >= levels {
		return levels - 1
	}
	return n
}

func (c *PriorityContainer) Push(id seq.Number, msg *message.Message) (Entry, bool) {
	lane := c.priorityOf(msg)
	c.lanes[lane].Push(id, msg)
	return Entry{}, false
}

func (c *PriorityContainer) Pop() (Entry, bool) {
	if c.Len() == 0 {
		return Entry{}, false
	}
	hasFairshare := false
	for _, s := range c.shares {
		if s > 0 {
			hasFairshare = true
			break
		}
	}
	if !hasFairshare {
		for i := len(c.lanes) - 1; i >= 0; i-- {
			if e, ok := c.lanes[i].Pop(); ok {
				return e, true
			}
		}
		return Entry{}, false
	}
	return c.popFairshare()
}

func (c *PriorityContainer) popFairshare() (Entry, bool) {
	for tries := 0; tries < len(c.lanes); tries++ {
		lane := c.turn
		share := c.shares[lane]
		if c.lanes[lane].Len() > 0 && (share == 0 || c.takenRun < share) {
			e, ok := c.lanes[lane].Pop()
			if ok {
				c.takenRun++
				return e, true
			}
		}
		c.turn--
		if c.turn < 0 {
			c.turn = len(c.lanes) - 1
		}
		c.takenRun = 0
	}
	return Entry{}, false
}

func (c *PriorityContainer) Len() int {
	total := 0
	for i := range c.lanes {
		total += c.lanes[i].Len()
	}
	return total
}

func toKeyString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return ""
	}
}
