// Package cache implements the per-endpoint HistoryCache: an ordered store
// of CacheChange indexed by sequence number and instance key, with
// KEEP_LAST/KEEP_ALL eviction and resource-limit enforcement.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// ChangeKind identifies a CacheChange's disposition.
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
	NotAliveDisposedUnregistered
)

// InstanceHandle is the 16-byte opaque key identifying a data instance
// within a WITH_KEY topic.
type InstanceHandle [16]byte

// CacheChange is one publication sample held in a HistoryCache.
type CacheChange struct {
	Kind            ChangeKind
	WriterGUID      guid.GUID
	SequenceNumber  seqnum.SequenceNumber
	InstanceHandle  InstanceHandle
	SourceTimestamp time.Time
	Payload         *pool.Payload // nil for dispose/unregister-only changes
	InlineQos       interface{}   // *cdr.ParameterList; kept opaque to avoid an import cycle with cdr
}

// HistoryCache is the ordered, per-endpoint store of CacheChange. One
// HistoryCache belongs to exactly one local Writer or Reader, below it in
// the lock order (Participant before Endpoint before PayloadPool);
// HistoryCache itself adds an internal mutex so it can also be inspected
// directly (e.g. by the admin introspection surface) without relying on
// the endpoint's lock.
type HistoryCache struct {
	mu sync.Mutex

	history        qos.History
	limits         qos.ResourceLimits
	maxTotalBytes  int64 // 0 means unbounded

	byInstance map[InstanceHandle][]*CacheChange // each slice ascending by seq
	order      []*CacheChange                    // all changes, ascending by seq, across instances
	totalBytes int64

	// writer-side bookkeeping for AckedChangesSet / purge. Only
	// meaningful for a writer's cache.
	reliableReaders map[guid.GUID]bool
	ackWatermark    map[guid.GUID]seqnum.SequenceNumber // highest seq acked (inclusive)
}

// New creates an empty HistoryCache under the given History/ResourceLimits
// policy. maxTotalBytes <= 0 means no byte bound.
func New(history qos.History, limits qos.ResourceLimits, maxTotalBytes int64) *HistoryCache {
	return &HistoryCache{
		history:         history,
		limits:          limits,
		maxTotalBytes:   maxTotalBytes,
		byInstance:      make(map[InstanceHandle][]*CacheChange),
		reliableReaders: make(map[guid.GUID]bool),
		ackWatermark:    make(map[guid.GUID]seqnum.SequenceNumber),
	}
}

func payloadLen(c *CacheChange) int64 {
	if c.Payload == nil {
		return 0
	}
	return int64(len(c.Payload.Bytes))
}

// AddChange appends change, evicting the oldest sample for its instance if
// History is KEEP_LAST and the per-instance depth would be exceeded, or
// rejecting with CacheFull if History is KEEP_ALL and a resource limit
// would be exceeded. Sequence numbers must be strictly increasing per
// writer; callers (the Writer) are responsible for that invariant.
func (h *HistoryCache) AddChange(c *CacheChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	instChanges := h.byInstance[c.InstanceHandle]

	switch h.history.Kind {
	case qos.KeepLast:
		depth := h.history.Depth
		if depth <= 0 {
			depth = 1
		}
		for len(instChanges) >= depth {
			oldest := instChanges[0]
			h.removeLocked(oldest)
			instChanges = h.byInstance[c.InstanceHandle]
		}
	case qos.KeepAll:
		if h.limits.MaxSamples > 0 && len(h.order) >= h.limits.MaxSamples {
			return rtpserrors.New(rtpserrors.CacheFull, "max_samples exceeded under KEEP_ALL")
		}
		if h.limits.MaxSamplesPerInstance > 0 && len(instChanges) >= h.limits.MaxSamplesPerInstance {
			return rtpserrors.New(rtpserrors.CacheFull, "max_samples_per_instance exceeded under KEEP_ALL")
		}
		if h.limits.MaxInstances > 0 {
			if _, exists := h.byInstance[c.InstanceHandle]; !exists && len(h.byInstance) >= h.limits.MaxInstances {
				return rtpserrors.New(rtpserrors.CacheFull, "max_instances exceeded under KEEP_ALL")
			}
		}
	}

	if h.maxTotalBytes > 0 && h.totalBytes+payloadLen(c) > h.maxTotalBytes {
		return rtpserrors.New(rtpserrors.CacheFull, "total byte bound exceeded")
	}

	h.byInstance[c.InstanceHandle] = append(h.byInstance[c.InstanceHandle], c)
	i := len(h.order)
	for i > 0 && h.order[i-1].SequenceNumber > c.SequenceNumber {
		i--
	}
	h.order = append(h.order, nil)
	copy(h.order[i+1:], h.order[i:])
	h.order[i] = c
	h.totalBytes += payloadLen(c)
	return nil
}

// removeLocked removes c from all indexes; caller holds h.mu.
func (h *HistoryCache) removeLocked(c *CacheChange) {
	h.totalBytes -= payloadLen(c)
	if c.Payload != nil {
		c.Payload.Release()
	}

	inst := h.byInstance[c.InstanceHandle]
	for i, ic := range inst {
		if ic == c {
			h.byInstance[c.InstanceHandle] = append(inst[:i], inst[i+1:]...)
			break
		}
	}
	if len(h.byInstance[c.InstanceHandle]) == 0 {
		delete(h.byInstance, c.InstanceHandle)
	}

	for i, oc := range h.order {
		if oc == c {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// RemoveChange removes the change with the given sequence number. Returns
// false if no such change exists (idempotent).
func (h *HistoryCache) RemoveChange(sn seqnum.SequenceNumber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.order {
		if c.SequenceNumber == sn {
			h.removeLocked(c)
			return true
		}
	}
	return false
}

// GetChange returns the change with the given sequence number, if present.
func (h *HistoryCache) GetChange(sn seqnum.SequenceNumber) (*CacheChange, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.order {
		if c.SequenceNumber == sn {
			return c, true
		}
	}
	return nil, false
}

// GetMinSeq returns the lowest sequence number resident in the cache.
func (h *HistoryCache) GetMinSeq() (seqnum.SequenceNumber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[0].SequenceNumber, true
}

// GetMaxSeq returns the highest sequence number resident in the cache.
func (h *HistoryCache) GetMaxSeq() (seqnum.SequenceNumber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[len(h.order)-1].SequenceNumber, true
}

// Changes returns a snapshot of all resident changes in ascending
// sequence-number order.
func (h *HistoryCache) Changes() []*CacheChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*CacheChange, len(h.order))
	copy(out, h.order)
	return out
}

// Len reports the number of resident changes.
func (h *HistoryCache) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// TotalBytes reports the resident payload byte total.
func (h *HistoryCache) TotalBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalBytes
}

// AddMatchedReliableReader registers reader as a reliable reader that must
// acknowledge a change before it is purge-eligible (writer-side only).
func (h *HistoryCache) AddMatchedReliableReader(reader guid.GUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reliableReaders[reader] = true
}

// RemoveMatchedReader unregisters reader (on unmatch) and re-evaluates
// purge eligibility, since its absence may unblock changes it had not
// acknowledged.
func (h *HistoryCache) RemoveMatchedReader(reader guid.GUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.reliableReaders, reader)
	delete(h.ackWatermark, reader)
	h.purgeAckedLocked()
}

// AckedChangesSet marks changes up to (and including) upToSeq acknowledged
// by reader, then purges any writer-side changes now acknowledged by every
// matched reliable reader. The writer's acked-up-to watermark for a reader
// only moves forward: a stale (lower) watermark is ignored.
func (h *HistoryCache) AckedChangesSet(reader guid.GUID, upToSeq seqnum.SequenceNumber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.ackWatermark[reader]; ok && upToSeq <= cur {
		return
	}
	h.ackWatermark[reader] = upToSeq
	h.purgeAckedLocked()
}

// AckedUpTo returns the writer's current view of the reader's acked
// watermark (inclusive: the reader has acked everything up to and
// including this value).
func (h *HistoryCache) AckedUpTo(reader guid.GUID) seqnum.SequenceNumber {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ackWatermark[reader]
}

func (h *HistoryCache) purgeAckedLocked() {
	if len(h.reliableReaders) == 0 {
		return
	}
	var toRemove []*CacheChange
	for _, c := range h.order {
		ackedByAll := true
		for r := range h.reliableReaders {
			if h.ackWatermark[r] < c.SequenceNumber {
				ackedByAll = false
				break
			}
		}
		if ackedByAll {
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		h.removeLocked(c)
	}
}

// InstanceSeqNums returns, for test/introspection use, the sequence
// numbers resident for one instance in ascending order.
func (h *HistoryCache) InstanceSeqNums(inst InstanceHandle) []seqnum.SequenceNumber {
	h.mu.Lock()
	defer h.mu.Unlock()
	changes := h.byInstance[inst]
	out := make([]seqnum.SequenceNumber, len(changes))
	for i, c := range changes {
		out[i] = c.SequenceNumber
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
