package proxy

import (
	"sort"
	"sync"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// ChangeFromWriterStatus is a sequence number's state at a reader, from a
// reliable reader's point of view.
type ChangeFromWriterStatus int

const (
	Unknown ChangeFromWriterStatus = iota
	Missing
	RequestedFromWriter
	Received
	Irrelevant
)

// ProxyState drives a WriterProxy's ACKNACK scheduling.
type ProxyState int

const (
	Idle ProxyState = iota
	WaitingHeartbeat
	MustSendAckNack
)

// WriterProxy models one remote writer matched to a local reader.
type WriterProxy struct {
	mu sync.Mutex

	WriterGUID guid.GUID
	Locators   []locator.Locator

	State ProxyState

	firstAvailableSeq seqnum.SequenceNumber
	lastAvailableSeq  seqnum.SequenceNumber

	// lastIrrelevantOrReceived is the highest sequence number known
	// resolved (received or marked irrelevant); used to drop duplicate
	// or stale DATA.
	lastIrrelevantOrReceived seqnum.SequenceNumber

	status map[seqnum.SequenceNumber]ChangeFromWriterStatus
}

// NewWriterProxy constructs a WriterProxy for a freshly matched remote
// writer.
func NewWriterProxy(writer guid.GUID, locators []locator.Locator) *WriterProxy {
	return &WriterProxy{
		WriterGUID: writer,
		Locators:   locators,
		State:      Idle,
		// 0 precedes every valid sequence number (numbering starts at 1),
		// so "resolved up to and including 0" means nothing resolved yet.
		lastIrrelevantOrReceived: 0,
		status:                   make(map[seqnum.SequenceNumber]ChangeFromWriterStatus),
	}
}

// MarkReceived records seq as RECEIVED. Returns false without effect if
// seq is a duplicate (already at or below the resolved watermark).
func (wp *WriterProxy) MarkReceived(sn seqnum.SequenceNumber) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if sn <= wp.lastIrrelevantOrReceived {
		return false
	}
	wp.status[sn] = Received
	wp.advanceWatermarkLocked()
	wp.recomputeMissingLocked()
	return true
}

// MarkIrrelevant records seq as IRRELEVANT, e.g. from a GAP submessage.
func (wp *WriterProxy) MarkIrrelevant(sn seqnum.SequenceNumber) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.status[sn] = Irrelevant
	wp.advanceWatermarkLocked()
	wp.recomputeMissingLocked()
}

// advanceWatermarkLocked moves lastIrrelevantOrReceived forward through any
// contiguous run of RECEIVED/IRRELEVANT sequence numbers starting just
// after the current watermark.
func (wp *WriterProxy) advanceWatermarkLocked() {
	for {
		next := wp.lastIrrelevantOrReceived + 1
		st, ok := wp.status[next]
		if !ok || (st != Received && st != Irrelevant) {
			break
		}
		wp.lastIrrelevantOrReceived = next
		delete(wp.status, next)
	}
}

// recomputeMissingLocked fills in MISSING entries for every sequence
// number in [firstAvailableSeq, lastAvailableSeq) not already resolved.
func (wp *WriterProxy) recomputeMissingLocked() {
	if wp.lastAvailableSeq == 0 {
		return
	}
	start := wp.firstAvailableSeq
	if start <= wp.lastIrrelevantOrReceived {
		start = wp.lastIrrelevantOrReceived + 1
	}
	for sn := start; sn < wp.lastAvailableSeq; sn++ {
		if _, ok := wp.status[sn]; !ok {
			wp.status[sn] = Missing
		}
	}
}

// UpdateHeartbeat applies a HEARTBEAT's (first, last) bounds and reports
// whether an ACKNACK should be scheduled: true when the FINAL flag is
// clear, or the missing set is non-empty.
func (wp *WriterProxy) UpdateHeartbeat(first, last seqnum.SequenceNumber, final bool) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.firstAvailableSeq = first
	wp.lastAvailableSeq = last
	wp.recomputeMissingLocked()

	needAckNack := !final || len(wp.missingOrRequestedLocked()) > 0
	if needAckNack {
		wp.State = MustSendAckNack
	} else {
		wp.State = WaitingHeartbeat
	}
	return needAckNack
}

func (wp *WriterProxy) missingOrRequestedLocked() []seqnum.SequenceNumber {
	var out []seqnum.SequenceNumber
	for sn, st := range wp.status {
		if st == Missing || st == RequestedFromWriter {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MissingOrRequested returns, ascending, the sequence numbers currently
// MISSING or REQUESTED — the set an ACKNACK's bitmap should carry.
func (wp *WriterProxy) MissingOrRequested() []seqnum.SequenceNumber {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.missingOrRequestedLocked()
}

// MarkAllMissingRequested transitions every MISSING sequence number to
// REQUESTED, called just before sending an ACKNACK, and clears the
// must-send-acknack state.
func (wp *WriterProxy) MarkAllMissingRequested() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	for sn, st := range wp.status {
		if st == Missing {
			wp.status[sn] = RequestedFromWriter
		}
	}
	wp.State = WaitingHeartbeat
}

// AckNackBase returns the base sequence number for the next ACKNACK: the
// lowest MISSING/REQUESTED sequence number, or lastIrrelevantOrReceived+1
// if none is outstanding.
func (wp *WriterProxy) AckNackBase() seqnum.SequenceNumber {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	lowest := wp.lastIrrelevantOrReceived + 1
	for sn := range wp.status {
		if sn < lowest {
			lowest = sn
		}
	}
	return lowest
}

// AckedUpTo returns the watermark below which every sequence number from
// this writer has been resolved (received or irrelevant).
func (wp *WriterProxy) AckedUpTo() seqnum.SequenceNumber {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.lastIrrelevantOrReceived + 1
}
