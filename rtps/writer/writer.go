// Package writer implements the StatefulWriter (reliable, per-reader
// acknowledgement tracking) and StatelessWriter (best-effort, fire-and-
// forget) endpoints.
package writer

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/flow"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/proxy"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
	"github.com/rtpsmesh/rtpsd/rtps/scheduler"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// Config bounds a StatefulWriter's timing behavior.
type Config struct {
	HeartbeatPeriod         time.Duration
	NackResponseDelay       time.Duration
	NackSuppressionDuration time.Duration
}

// DefaultConfig mirrors common RTPS implementation defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod:         3 * time.Second,
		NackResponseDelay:       200 * time.Millisecond,
		NackSuppressionDuration: 0,
	}
}

// Sender is the minimal send surface a writer needs; satisfied by
// transport.Transport.
type Sender interface {
	Send(dst locator.Locator, data []byte) error
}

// StatefulWriter is the reliable writer endpoint: it tracks a
// ReaderProxy per matched reader and drives HEARTBEAT/ACKNACK/GAP
// exchanges through the scheduler.
type StatefulWriter struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicName string
	TypeName  string
	Qos       qos.Policy

	History   *cache.HistoryCache
	Pool      *pool.Pool
	Transport Sender
	Scheduler *scheduler.Scheduler
	Flow      *flow.Controller
	Config    Config

	// NotifyChangeSent fires once per successful transport hand-off of a
	// sequence number's DATA submessage, including retransmits — a
	// retransmitted seq fires this again, it is not deduplicated.
	NotifyChangeSent func(sn seqnum.SequenceNumber)

	readers  map[guid.GUID]*proxy.ReaderProxy
	nextSeq  int64
	hbCount  int32
	hbHandle scheduler.Handle
	closed   bool
}

// New constructs a StatefulWriter and starts its periodic HEARTBEAT
// scheduling.
func New(id guid.GUID, topic, typ string, policy qos.Policy, history *cache.HistoryCache, pl *pool.Pool, tr Sender, sched *scheduler.Scheduler, flowCtl *flow.Controller, cfg Config) *StatefulWriter {
	w := &StatefulWriter{
		GUID:      id,
		TopicName: topic,
		TypeName:  typ,
		Qos:       policy,
		History:   history,
		Pool:      pl,
		Transport: tr,
		Scheduler: sched,
		Flow:      flowCtl,
		Config:    cfg,
		readers:   make(map[guid.GUID]*proxy.ReaderProxy),
	}
	w.scheduleHeartbeat()
	return w
}

// MatchReader installs a ReaderProxy for a newly matched remote reader.
func (w *StatefulWriter) MatchReader(reader guid.GUID, locators []locator.Locator, expectsInlineQos, isReliable bool) *proxy.ReaderProxy {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp := proxy.NewReaderProxy(reader, locators, expectsInlineQos, isReliable)
	rp.NackSuppressionDuration = w.Config.NackSuppressionDuration
	rp.NackResponseDelay = w.Config.NackResponseDelay
	w.readers[reader] = rp
	if isReliable {
		w.History.AddMatchedReliableReader(reader)
		for _, c := range w.History.Changes() {
			rp.AddChange(c.SequenceNumber)
		}
	}
	return rp
}

// UnmatchReader removes a ReaderProxy on unmatch (dispose or incompatible
// QoS update).
func (w *StatefulWriter) UnmatchReader(reader guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readers, reader)
	w.History.RemoveMatchedReader(reader)
}

// Write allocates a payload, appends a CacheChange with the next sequence
// number, marks it UNSENT for every matched reader, and attempts an
// immediate send (the async-writer-thread is optional; absent one, sends
// happen inline on the caller).
func (w *StatefulWriter) Write(data []byte) (seqnum.SequenceNumber, error) {
	pl, err := w.Pool.Get(len(data))
	if err != nil {
		return 0, err
	}
	copy(pl.Bytes, data)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		pl.Release()
		return 0, rtpserrors.New(rtpserrors.AlreadyDeleted, "writer has been deleted")
	}
	w.nextSeq++
	sn := seqnum.SequenceNumber(w.nextSeq)
	w.mu.Unlock()

	change := &cache.CacheChange{
		Kind:            cache.Alive,
		WriterGUID:      w.GUID,
		SequenceNumber:  sn,
		SourceTimestamp: time.Now(),
		Payload:         pl,
	}
	if err := w.History.AddChange(change); err != nil {
		pl.Release()
		return 0, err
	}

	w.mu.Lock()
	for _, rp := range w.readers {
		rp.AddChange(sn)
	}
	readers := make([]*proxy.ReaderProxy, 0, len(w.readers))
	for _, rp := range w.readers {
		readers = append(readers, rp)
	}
	w.mu.Unlock()

	for _, rp := range readers {
		w.drainReader(rp)
	}
	return sn, nil
}

// drainReader sends every UNSENT and REQUESTED change queued for rp,
// subject to the writer's flow controller.
func (w *StatefulWriter) drainReader(rp *proxy.ReaderProxy) {
	pending := append(rp.UnsentChanges(), rp.RequestedChanges()...)
	if len(pending) == 0 {
		return
	}

	items := make([]flow.Item, 0, len(pending))
	byChange := make(map[seqnum.SequenceNumber]*cache.CacheChange, len(pending))
	for _, sn := range pending {
		c, ok := w.History.GetChange(sn)
		if !ok {
			w.sendGap(rp, sn)
			rp.RemoveChange(sn)
			continue
		}
		byChange[sn] = c
		bytes := 0
		if c.Payload != nil {
			bytes = len(c.Payload.Bytes)
		}
		items = append(items, flow.Item{WriterGUID: w.GUID, ReaderGUID: rp.ReaderGUID, SequenceNumber: sn, Bytes: bytes})
	}

	admitted := items
	if w.Flow != nil {
		admitted = w.Flow.Run(items, time.Now())
	}

	for _, it := range admitted {
		c := byChange[it.SequenceNumber]
		if c == nil {
			continue
		}
		if w.sendData(rp, c) {
			rp.MarkUnderway(it.SequenceNumber)
			if w.NotifyChangeSent != nil {
				w.NotifyChangeSent(it.SequenceNumber)
			}
			if w.Config.NackSuppressionDuration <= 0 {
				rp.MarkUnacknowledged(it.SequenceNumber)
			} else if w.Scheduler != nil {
				sn := it.SequenceNumber
				rpCopy := rp
				w.Scheduler.Schedule(w.Config.NackSuppressionDuration, func() { rpCopy.MarkUnacknowledged(sn) })
			}
		}
	}
}

func (w *StatefulWriter) byteOrder() (binary.ByteOrder, bool) {
	return binary.LittleEndian, true
}

func (w *StatefulWriter) sendData(rp *proxy.ReaderProxy, c *cache.CacheChange) bool {
	order, littleEndian := w.byteOrder()
	var payload []byte
	if c.Payload != nil {
		payload = c.Payload.Bytes
	}
	body, flags := cdr.EncodeData(cdr.Data{
		ReaderID:          rp.ReaderGUID.Entity,
		WriterID:          w.GUID.Entity,
		WriterSN:          c.SequenceNumber,
		SerializedPayload: payload,
	}, order, littleEndian)

	msg := w.frame(rp.ReaderGUID.Prefix, littleEndian, cdr.RawSubmessage{
		Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags},
		Body:   body,
	})
	return w.send(rp, msg)
}

func (w *StatefulWriter) sendGap(rp *proxy.ReaderProxy, sn seqnum.SequenceNumber) {
	_, littleEndian := w.byteOrder()
	gapList := seqnum.NewSet(sn)
	body, flags := cdr.EncodeGap(cdr.Gap{
		ReaderID: rp.ReaderGUID.Entity,
		WriterID: w.GUID.Entity,
		GapStart: sn,
		GapList:  gapList,
	}, littleEndian)

	msg := w.frame(rp.ReaderGUID.Prefix, littleEndian, cdr.RawSubmessage{
		Header: cdr.SubmessageHeader{ID: cdr.SubmsgGAP, Flags: flags},
		Body:   body,
	})
	w.send(rp, msg)
}

func (w *StatefulWriter) frame(dstPrefix guid.GuidPrefix, littleEndian bool, sm cdr.RawSubmessage) cdr.Message {
	infoDstBody, infoDstFlags := cdr.EncodeInfoDst(cdr.InfoDst{GuidPrefix: dstPrefix}, littleEndian)
	return cdr.Message{
		Header: cdr.MessageHeader{
			VersionMajor: cdr.ProtocolVersion.Major,
			VersionMinor: cdr.ProtocolVersion.Minor,
			Vendor:       cdr.OurVendorID,
			GuidPrefix:   w.GUID.Prefix,
		},
		Submessages: []cdr.RawSubmessage{
			{Header: cdr.SubmessageHeader{ID: cdr.SubmsgINFO_DST, Flags: infoDstFlags}, Body: infoDstBody},
			sm,
		},
	}
}

func (w *StatefulWriter) send(rp *proxy.ReaderProxy, msg cdr.Message) bool {
	if w.Transport == nil || len(rp.Locators) == 0 {
		return false
	}
	data := msg.Encode()
	ok := false
	for _, loc := range rp.Locators {
		if err := w.Transport.Send(loc, data); err == nil {
			ok = true
		}
	}
	return ok
}

// scheduleHeartbeat sends a HEARTBEAT to every reliable matched reader,
// then reschedules itself.
func (w *StatefulWriter) scheduleHeartbeat() {
	if w.Scheduler == nil {
		return
	}
	w.hbHandle = w.Scheduler.Schedule(w.Config.HeartbeatPeriod, func() {
		w.sendHeartbeats()
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.scheduleHeartbeat()
		}
	})
}

func (w *StatefulWriter) sendHeartbeats() {
	w.mu.Lock()
	readers := make([]*proxy.ReaderProxy, 0, len(w.readers))
	for _, rp := range w.readers {
		if rp.IsReliable {
			readers = append(readers, rp)
		}
	}
	count := atomic.AddInt32(&w.hbCount, 1)
	nextSeq := w.nextSeq
	w.mu.Unlock()

	first, haveFirst := w.History.GetMinSeq()
	last, haveLast := w.History.GetMaxSeq()
	if !haveFirst {
		first = seqnum.SequenceNumber(nextSeq + 1)
	}
	if !haveLast {
		last = seqnum.SequenceNumber(nextSeq)
	}

	order, littleEndian := w.byteOrder()
	for _, rp := range readers {
		final := len(rp.UnacknowledgedChanges()) == 0
		body, flags := cdr.EncodeHeartbeat(cdr.Heartbeat{
			ReaderID: rp.ReaderGUID.Entity,
			WriterID: w.GUID.Entity,
			FirstSN:  first,
			LastSN:   last,
			Count:    count,
			Final:    final,
		}, order, littleEndian)

		msg := w.frame(rp.ReaderGUID.Prefix, littleEndian, cdr.RawSubmessage{
			Header: cdr.SubmessageHeader{ID: cdr.SubmsgHEARTBEAT, Flags: flags},
			Body:   body,
		})
		w.send(rp, msg)
	}
}

// OnAckNack processes an ACKNACK received from a matched reader: advances
// its acknowledged watermark, marks NACKed sequences REQUESTED, and
// retransmits (or GAPs) them. An ACKNACK carrying the same count as the
// previous one from this reader is ignored, however much time has passed
// (see ReaderProxy.ShouldDebounceAckNack).
func (w *StatefulWriter) OnAckNack(reader guid.GUID, ack cdr.AckNack) {
	w.mu.Lock()
	rp, ok := w.readers[reader]
	w.mu.Unlock()
	if !ok {
		return
	}
	if rp.ShouldDebounceAckNack(uint32(ack.Count)) {
		return
	}

	rp.AcknowledgeUpTo(ack.ReaderSNState.Base)
	w.History.AckedChangesSet(reader, ack.ReaderSNState.Base-1)
	for _, sn := range ack.ReaderSNState.Members() {
		rp.MarkRequested(sn)
	}
	w.drainReader(rp)
}

// Close stops heartbeat scheduling and drains the writer's HistoryCache.
func (w *StatefulWriter) Close() {
	w.mu.Lock()
	w.closed = true
	if w.Scheduler != nil {
		w.Scheduler.Cancel(w.hbHandle)
	}
	w.mu.Unlock()
	for _, c := range w.History.Changes() {
		w.History.RemoveChange(c.SequenceNumber)
	}
}
