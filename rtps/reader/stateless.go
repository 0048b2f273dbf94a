package reader

import (
	"sync"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// StatelessReader is the best-effort reader endpoint: no WriterProxy, no
// HEARTBEAT/ACKNACK/GAP. It accepts any DATA from a matched writer whose
// sequence number is higher than the highest seen from that writer,
// dropping older samples as stale.
type StatelessReader struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicName string
	TypeName  string
	Qos       qos.Policy

	History *cache.HistoryCache
	Pool    *pool.Pool

	// OnAvailable is called immediately for every accepted sample, in
	// receipt order (no FIFO gap-waiting: best-effort delivery).
	OnAvailable func(writer guid.GUID, change *cache.CacheChange)

	matched    map[guid.GUID]bool
	highestSeq map[guid.GUID]seqnum.SequenceNumber
	closed     bool
}

// NewStateless constructs a StatelessReader.
func NewStateless(id guid.GUID, topic, typ string, policy qos.Policy, history *cache.HistoryCache, pl *pool.Pool) *StatelessReader {
	return &StatelessReader{
		GUID:       id,
		TopicName:  topic,
		TypeName:   typ,
		Qos:        policy,
		History:    history,
		Pool:       pl,
		matched:    make(map[guid.GUID]bool),
		highestSeq: make(map[guid.GUID]seqnum.SequenceNumber),
	}
}

// MatchWriter records a writer as matched.
func (r *StatelessReader) MatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched[writer] = true
}

// UnmatchWriter forgets a writer on unmatch.
func (r *StatelessReader) UnmatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matched, writer)
	delete(r.highestSeq, writer)
}

// OnData handles a received DATA submessage. Samples from an unmatched
// writer, or at or below the highest sequence already seen from writer,
// are dropped.
func (r *StatelessReader) OnData(writer guid.GUID, sn seqnum.SequenceNumber, payload []byte) {
	r.mu.Lock()
	if !r.matched[writer] || sn <= r.highestSeq[writer] {
		r.mu.Unlock()
		return
	}
	r.highestSeq[writer] = sn
	r.mu.Unlock()

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
	_ = r.History.AddChange(change)
	if r.OnAvailable != nil {
		r.OnAvailable(writer, change)
	}
}

// Close marks the reader deleted.
func (r *StatelessReader) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
