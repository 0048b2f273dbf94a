// Package qos defines the QoS policy set relevant to the core and the
// endpoint-matching compatibility rules used by EDP.
package qos

import "time"

// Reliability selects best-effort or reliable delivery.
type Reliability int

const (
	BestEffort Reliability = iota
	Reliable
)

// compatibleWith reports whether a writer offering `w` satisfies a reader
// requesting `r`: writer offers >= reader requests, RELIABLE >= BEST_EFFORT.
func (w Reliability) compatibleWith(r Reliability) bool { return w >= r }

// Durability ranks storage guarantees, highest first in compatibility
// terms: PERSISTENT >= TRANSIENT >= TRANSIENT_LOCAL >= VOLATILE.
type Durability int

const (
	Volatile Durability = iota
	TransientLocal
	Transient
	Persistent
)

func (w Durability) compatibleWith(r Durability) bool { return w >= r }

// HistoryKind selects KEEP_LAST(n) or KEEP_ALL eviction.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// History is the History QoS policy.
type History struct {
	Kind  HistoryKind
	Depth int // meaningful only for KeepLast
}

// ResourceLimits bounds a HistoryCache's occupancy.
type ResourceLimits struct {
	MaxSamples          int // <=0 means unlimited
	MaxInstances        int
	MaxSamplesPerInstance int
}

// Unlimited is the conventional "no limit" sentinel for ResourceLimits
// fields.
const Unlimited = 0

// Deadline bounds the maximum expected period between updates to an
// instance.
type Deadline struct {
	Period time.Duration // 0 means infinite (no deadline)
}

// compatibleWith: writer.period <= reader.period (a writer promising to
// refresh at least as often as the reader requires is compatible).
func (w Deadline) compatibleWith(r Deadline) bool {
	if r.Period == 0 {
		return true
	}
	if w.Period == 0 {
		return false
	}
	return w.Period <= r.Period
}

// Lifespan bounds how long a sample remains valid after it is written.
type Lifespan struct {
	Duration time.Duration // 0 means infinite
}

// LivelinessKind selects who is responsible for asserting liveliness.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// Liveliness bounds the maximum period of silence before a writer is
// considered not-alive.
type Liveliness struct {
	Kind         LivelinessKind
	LeaseDuration time.Duration
}

// compatibleWith: writer offers a kind at least as strong, and a lease at
// least as tight, as the reader requests. MANUAL_BY_TOPIC is the
// strongest kind, then MANUAL_BY_PARTICIPANT, then AUTOMATIC.
func (w Liveliness) compatibleWith(r Liveliness) bool {
	if w.Kind < r.Kind {
		return false
	}
	if r.LeaseDuration == 0 {
		return true
	}
	return w.LeaseDuration != 0 && w.LeaseDuration <= r.LeaseDuration
}

// OwnershipKind selects shared or exclusive instance ownership.
type OwnershipKind int

const (
	Shared OwnershipKind = iota
	Exclusive
)

// Ownership must match exactly between writer and reader.
type Ownership struct {
	Kind OwnershipKind
}

// Partition lists the partition names an endpoint belongs to. Two
// endpoints are compatible if their partition sets intersect (the
// convention of an empty set meaning the implicit "" default partition).
type Partition struct {
	Names []string
}

func (p Partition) effective() []string {
	if len(p.Names) == 0 {
		return []string{""}
	}
	return p.Names
}

func (p Partition) intersects(o Partition) bool {
	a, b := p.effective(), o.effective()
	set := make(map[string]struct{}, len(a))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// Policy bundles the full set of QoS policies relevant to the core,
// applied to either a writer or a reader endpoint.
type Policy struct {
	Reliability    Reliability
	Durability     Durability
	History        History
	ResourceLimits ResourceLimits
	Deadline       Deadline
	Lifespan       Lifespan
	Liveliness     Liveliness
	Ownership      Ownership
	Partition      Partition
	TopicData      []byte
	UserData       []byte
}

// Default returns the RTPS default policy set: BEST_EFFORT, VOLATILE,
// KEEP_LAST(1), unlimited resources, no deadline/lifespan bound,
// AUTOMATIC liveliness with infinite lease, SHARED ownership.
func Default() Policy {
	return Policy{
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     History{Kind: KeepLast, Depth: 1},
		Liveliness:  Liveliness{Kind: Automatic},
		Ownership:   Ownership{Kind: Shared},
	}
}

// Incompatibility identifies which policy dimension broke compatibility,
// for on_offered_incompatible_qos/on_requested_incompatible_qos listener
// callbacks.
type Incompatibility int

const (
	IncompatibilityNone Incompatibility = iota
	IncompatibilityReliability
	IncompatibilityDurability
	IncompatibilityDeadline
	IncompatibilityLiveliness
	IncompatibilityOwnership
	IncompatibilityPartition
)

func (i Incompatibility) String() string {
	switch i {
	case IncompatibilityReliability:
		return "reliability"
	case IncompatibilityDurability:
		return "durability"
	case IncompatibilityDeadline:
		return "deadline"
	case IncompatibilityLiveliness:
		return "liveliness"
	case IncompatibilityOwnership:
		return "ownership"
	case IncompatibilityPartition:
		return "partition"
	default:
		return "none"
	}
}

// Topic name, type name, and topic kind equality are checked by the caller
// (EDP's tryMatch) before Compatible is ever invoked, since they depend on
// strings and the TopicKind tag the qos package does not carry.

// Compatible implements the QoS-dimension half of the endpoint matching
// rule; the caller is responsible for the topic name/type name/topic kind
// equality conjuncts first. It returns IncompatibilityNone if writer and
// reader are compatible, else the first incompatible dimension found,
// checked in a fixed evaluation order.
func Compatible(writer, reader Policy) Incompatibility {
	if !writer.Reliability.compatibleWith(reader.Reliability) {
		return IncompatibilityReliability
	}
	if !writer.Durability.compatibleWith(reader.Durability) {
		return IncompatibilityDurability
	}
	if !writer.Partition.intersects(reader.Partition) {
		return IncompatibilityPartition
	}
	if !writer.Deadline.compatibleWith(reader.Deadline) {
		return IncompatibilityDeadline
	}
	if !writer.Liveliness.compatibleWith(reader.Liveliness) {
		return IncompatibilityLiveliness
	}
	if writer.Ownership.Kind != reader.Ownership.Kind {
		return IncompatibilityOwnership
	}
	return IncompatibilityNone
}
