// Package reader implements the two reader endpoint kinds: the reliable
// StatefulReader, which tracks one WriterProxy per matched remote writer
// and exchanges HEARTBEAT/ACKNACK/GAP to recover lost samples, and the
// StatelessReader, which accepts DATA from any matched writer with no
// WriterProxy, tracking only the highest sequence number seen per writer.
package reader

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/proxy"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/scheduler"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// Sender is the subset of a transport a reader needs to send ACKNACK.
type Sender interface {
	Send(dst locator.Locator, data []byte) error
}

// Config holds a StatefulReader's reliability timing.
type Config struct {
	HeartbeatResponseDelay time.Duration
	// HeartbeatResponseJitter is the maximum extra random delay added on
	// top of HeartbeatResponseDelay, spreading concurrent ACKNACK replies
	// from many readers across time.
	HeartbeatResponseJitter time.Duration
}

// DefaultConfig returns the conventional reliable-reader timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatResponseDelay:  500 * time.Millisecond,
		HeartbeatResponseJitter: 200 * time.Millisecond,
	}
}

// StatefulReader is the reliable reader endpoint.
type StatefulReader struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicName string
	TypeName  string
	Qos       qos.Policy

	History   *cache.HistoryCache
	Pool      *pool.Pool
	Transport Sender
	Scheduler *scheduler.Scheduler
	Config    Config

	// OnAvailable is called, in per-writer FIFO order, once a change
	// becomes available to the application (received or resolved
	// irrelevant, with every lower sequence number from the same writer
	// already resolved). A nil change means the resolved sequence number
	// was a gap, not a sample.
	OnAvailable func(writer guid.GUID, change *cache.CacheChange)

	writers   map[guid.GUID]*proxy.WriterProxy
	delivered map[guid.GUID]seqnum.SequenceNumber
	closed    bool
}

// New constructs a StatefulReader.
func New(id guid.GUID, topic, typ string, policy qos.Policy, history *cache.HistoryCache, pl *pool.Pool, tr Sender, sched *scheduler.Scheduler, cfg Config) *StatefulReader {
	return &StatefulReader{
		GUID:      id,
		TopicName: topic,
		TypeName:  typ,
		Qos:       policy,
		History:   history,
		Pool:      pl,
		Transport: tr,
		Scheduler: sched,
		Config:    cfg,
		writers:   make(map[guid.GUID]*proxy.WriterProxy),
		delivered: make(map[guid.GUID]seqnum.SequenceNumber),
	}
}

// MatchWriter installs a WriterProxy for a newly matched remote writer.
func (r *StatefulReader) MatchWriter(writer guid.GUID, locators []locator.Locator) *proxy.WriterProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp := proxy.NewWriterProxy(writer, locators)
	r.writers[writer] = wp
	r.delivered[writer] = 0
	return wp
}

// UnmatchWriter forgets a writer on unmatch.
func (r *StatefulReader) UnmatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, writer)
	delete(r.delivered, writer)
}

func (r *StatefulReader) proxyFor(writer guid.GUID) (*proxy.WriterProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.writers[writer]
	return wp, ok
}

// OnData handles a received DATA submessage from writer. Duplicates (at or
// below the writer's resolved watermark) are dropped. New data is stored in
// the HistoryCache and, once contiguous, delivered to the application.
func (r *StatefulReader) OnData(writer guid.GUID, sn seqnum.SequenceNumber, payload []byte) {
	wp, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	if !wp.MarkReceived(sn) {
		return // duplicate
	}

	var pl *pool.Payload
	if len(payload) > 0 {
		var err error
		pl, err = r.Pool.Get(len(payload))
		if err != nil {
			return
		}
		copy(pl.Bytes, payload)
	}
	change := &cache.CacheChange{
		Kind:            cache.Alive,
		WriterGUID:      writer,
		SequenceNumber:  sn,
		SourceTimestamp: time.Now(),
		Payload:         pl,
	}
	_ = r.History.AddChange(change) // best-effort: a full KEEP_LAST cache just evicts the oldest

	r.deliverResolved(writer, wp)
}

// OnHeartbeat handles a received HEARTBEAT, scheduling an ACKNACK after the
// (jittered) heartbeat_response_delay when required.
func (r *StatefulReader) OnHeartbeat(writer guid.GUID, hb cdr.Heartbeat) {
	wp, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	if !wp.UpdateHeartbeat(hb.FirstSN, hb.LastSN, hb.Final) {
		return
	}
	r.deliverResolved(writer, wp)

	delay := r.Config.HeartbeatResponseDelay
	if r.Config.HeartbeatResponseJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(r.Config.HeartbeatResponseJitter)))
	}
	if r.Scheduler == nil {
		r.sendAckNack(writer, wp)
		return
	}
	r.Scheduler.Schedule(delay, func() { r.sendAckNack(writer, wp) })
}

// OnGap handles a received GAP: every sequence in [GapStart, GapList.Base)
// is unconditionally IRRELEVANT, and every sequence the bitmap names as a
// member is IRRELEVANT too.
func (r *StatefulReader) OnGap(writer guid.GUID, g cdr.Gap) {
	wp, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	for sn := g.GapStart; sn < g.GapList.Base; sn++ {
		wp.MarkIrrelevant(sn)
	}
	for _, sn := range g.GapList.Members() {
		wp.MarkIrrelevant(sn)
	}
	r.deliverResolved(writer, wp)
}

// sendAckNack sends the current MISSING/REQUESTED bitmap to the matched
// writer and transitions those sequences to REQUESTED.
func (r *StatefulReader) sendAckNack(writer guid.GUID, wp *proxy.WriterProxy) {
	missing := wp.MissingOrRequested()
	base := wp.AckNackBase()
	set := seqnum.NewSet(base)
	for _, sn := range missing {
		_ = set.Add(sn)
	}
	wp.MarkAllMissingRequested()

	r.mu.Lock()
	self := r.GUID
	r.mu.Unlock()

	body, flags := cdr.EncodeAckNack(cdr.AckNack{
		ReaderID:      self.Entity,
		WriterID:      writer.Entity,
		ReaderSNState: set,
		Count:         1,
	}, binary.LittleEndian, true)

	infoDstBody, infoDstFlags := cdr.EncodeInfoDst(cdr.InfoDst{GuidPrefix: writer.Prefix}, true)
	msg := cdr.Message{
		Header: cdr.MessageHeader{
			VersionMajor: cdr.ProtocolVersion.Major,
			VersionMinor: cdr.ProtocolVersion.Minor,
			Vendor:       cdr.OurVendorID,
			GuidPrefix:   self.Prefix,
		},
		Submessages: []cdr.RawSubmessage{
			{Header: cdr.SubmessageHeader{ID: cdr.SubmsgINFO_DST, Flags: infoDstFlags}, Body: infoDstBody},
			{Header: cdr.SubmessageHeader{ID: cdr.SubmsgACKNACK, Flags: flags}, Body: body},
		},
	}
	if r.Transport == nil {
		return
	}
	data := msg.Encode()
	for _, loc := range wp.Locators {
		_ = r.Transport.Send(loc, data)
	}
}

// deliverResolved calls OnAvailable for every sequence number between the
// writer's last-delivered watermark and its newly resolved watermark, in
// order, giving per-writer FIFO delivery.
func (r *StatefulReader) deliverResolved(writer guid.GUID, wp *proxy.WriterProxy) {
	resolvedUpTo := wp.AckedUpTo() - 1 // AckedUpTo is "resolved below this"

	r.mu.Lock()
	from := r.delivered[writer]
	r.mu.Unlock()
	if resolvedUpTo <= from {
		return
	}

	for sn := from + 1; sn <= resolvedUpTo; sn++ {
		c, ok := r.History.GetChange(sn)
		if r.OnAvailable != nil {
			if ok {
				r.OnAvailable(writer, c)
			} else {
				r.OnAvailable(writer, nil)
			}
		}
	}

	r.mu.Lock()
	r.delivered[writer] = resolvedUpTo
	r.mu.Unlock()
}

// Close marks the reader deleted.
func (r *StatefulReader) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

