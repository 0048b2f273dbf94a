// Package proxy implements the per-peer reliability state machines: a
// ReaderProxy tracks one remote reader's delivery state at a writer, and a
// WriterProxy tracks one remote writer's delivery state at a reader.
package proxy

import (
	"sort"
	"sync"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// ChangeForReaderStatus is a sample's delivery state at one matched reader,
// from a reliable writer's point of view.
type ChangeForReaderStatus int

const (
	Unsent ChangeForReaderStatus = iota
	Underway
	Unacknowledged
	Requested
	Acknowledged
)

// ReaderProxy models one remote reader matched to a local writer.
type ReaderProxy struct {
	mu sync.Mutex

	ReaderGUID              guid.GUID
	Locators                []locator.Locator
	ExpectsInlineQos        bool
	IsReliable              bool
	NackSuppressionDuration time.Duration
	NackResponseDelay       time.Duration

	changes map[seqnum.SequenceNumber]ChangeForReaderStatus

	lastAckNackCount uint32
	haveAckNackCount bool
}

// NewReaderProxy constructs a ReaderProxy for a freshly matched remote
// reader.
func NewReaderProxy(reader guid.GUID, locators []locator.Locator, expectsInlineQos, isReliable bool) *ReaderProxy {
	return &ReaderProxy{
		ReaderGUID:       reader,
		Locators:         locators,
		ExpectsInlineQos: expectsInlineQos,
		IsReliable:       isReliable,
		changes:          make(map[seqnum.SequenceNumber]ChangeForReaderStatus),
	}
}

// AddChange records a newly written sample as UNSENT for this reader.
func (rp *ReaderProxy) AddChange(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.changes[sn] = Unsent
}

// RemoveChange drops a sequence number from this reader's tracking, used
// when the underlying change has been evicted from the writer's
// HistoryCache (a GAP will be sent in its place).
func (rp *ReaderProxy) RemoveChange(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	delete(rp.changes, sn)
}

func (rp *ReaderProxy) withStatus(status ChangeForReaderStatus) []seqnum.SequenceNumber {
	var out []seqnum.SequenceNumber
	for sn, st := range rp.changes {
		if st == status {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnsentChanges returns, in ascending order, the sequence numbers still
// UNSENT for this reader.
func (rp *ReaderProxy) UnsentChanges() []seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.withStatus(Unsent)
}

// RequestedChanges returns, in ascending order, the sequence numbers
// REQUESTED by a NACK for this reader.
func (rp *ReaderProxy) RequestedChanges() []seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.withStatus(Requested)
}

// UnacknowledgedChanges returns, in ascending order, the sequence numbers
// UNACKNOWLEDGED for this reader (used to decide the HEARTBEAT FINAL
// flag).
func (rp *ReaderProxy) UnacknowledgedChanges() []seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.withStatus(Unacknowledged)
}

// MarkUnderway transitions sn to UNDERWAY once its DATA submessage has
// been handed to the transport.
func (rp *ReaderProxy) MarkUnderway(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if _, ok := rp.changes[sn]; ok {
		rp.changes[sn] = Underway
	}
}

// MarkUnacknowledged transitions sn from UNDERWAY to UNACKNOWLEDGED after
// nack_suppression_duration elapses with no NACK.
func (rp *ReaderProxy) MarkUnacknowledged(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if st, ok := rp.changes[sn]; ok && st == Underway {
		rp.changes[sn] = Unacknowledged
	}
}

// MarkRequested transitions sn to REQUESTED on receipt of a NACK bit,
// regardless of its prior state (UNACKNOWLEDGED -> REQUESTED -> UNDERWAY
// is the documented side-transition).
func (rp *ReaderProxy) MarkRequested(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if _, ok := rp.changes[sn]; ok {
		rp.changes[sn] = Requested
	}
}

// AcknowledgeUpTo marks every tracked sequence number strictly below
// upToSeq ACKNOWLEDGED (and removes it from tracking, since the writer's
// HistoryCache.AckedChangesSet is now the source of truth for purge
// eligibility).
func (rp *ReaderProxy) AcknowledgeUpTo(upToSeq seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	for sn := range rp.changes {
		if sn < upToSeq {
			delete(rp.changes, sn)
		}
	}
}

// ShouldDebounceAckNack reports whether an ACKNACK carrying count should be
// ignored because it carries the same count as the last ACKNACK seen from
// this reader. No time window applies: NackResponseDelay is not consulted,
// so a repeated count is ignored no matter how late it arrives. It records
// count as the latest seen as a side effect.
func (rp *ReaderProxy) ShouldDebounceAckNack(count uint32) bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.haveAckNackCount && rp.lastAckNackCount == count {
		return true
	}
	rp.lastAckNackCount = count
	rp.haveAckNackCount = true
	return false
}

// Changes returns a snapshot of sequence->status for introspection/tests.
func (rp *ReaderProxy) Changes() map[seqnum.SequenceNumber]ChangeForReaderStatus {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	out := make(map[seqnum.SequenceNumber]ChangeForReaderStatus, len(rp.changes))
	for k, v := range rp.changes {
		out[k] = v
	}
	return out
}
