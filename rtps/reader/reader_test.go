package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

func testGUID(t *testing.T) guid.GUID {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	return guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter}
}

func newTestStatefulReader(t *testing.T) (*StatefulReader, *[]struct {
	Writer guid.GUID
	Change *cache.CacheChange
}) {
	t.Helper()
	history := cache.New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0)
	p := pool.New(0)
	r := New(testGUID(t), "Topic", "Type", qos.Default(), history, p, nil, nil, DefaultConfig())
	delivered := &[]struct {
		Writer guid.GUID
		Change *cache.CacheChange
	}{}
	r.OnAvailable = func(writer guid.GUID, change *cache.CacheChange) {
		*delivered = append(*delivered, struct {
			Writer guid.GUID
			Change *cache.CacheChange
		}{writer, change})
	}
	return r, delivered
}

func TestStatefulReaderDeliversInOrderOnly(t *testing.T) {
	r, delivered := newTestStatefulReader(t)
	w := testGUID(t)
	r.MatchWriter(w, nil)

	r.OnData(w, 1, []byte("a"))
	require.Len(t, *delivered, 1)

	r.OnData(w, 3, []byte("c")) // out of order: 2 missing, nothing new delivered
	assert.Len(t, *delivered, 1)

	r.OnData(w, 2, []byte("b")) // fills the gap: 2 then 3 deliver
	require.Len(t, *delivered, 3)
	assert.EqualValues(t, 2, (*delivered)[1].Change.SequenceNumber)
	assert.EqualValues(t, 3, (*delivered)[2].Change.SequenceNumber)
}

func TestStatefulReaderDropsDuplicateData(t *testing.T) {
	r, delivered := newTestStatefulReader(t)
	w := testGUID(t)
	r.MatchWriter(w, nil)

	r.OnData(w, 1, []byte("a"))
	r.OnData(w, 1, []byte("a-again"))
	assert.Len(t, *delivered, 1)
}

func TestStatefulReaderGapMarksIrrelevantAndUnblocksDelivery(t *testing.T) {
	r, delivered := newTestStatefulReader(t)
	w := testGUID(t)
	r.MatchWriter(w, nil)

	r.OnData(w, 1, []byte("a"))
	r.OnGap(w, cdr.Gap{GapStart: 2, GapList: seqnum.NewSet(3)}) // 2 is gapped outright
	r.OnData(w, 3, []byte("c"))

	require.Len(t, *delivered, 3)
	assert.Nil(t, (*delivered)[1].Change, "sequence 2 resolved as a gap, not a sample")
	assert.EqualValues(t, 3, (*delivered)[2].Change.SequenceNumber)
}

func TestStatefulReaderHeartbeatSchedulesAckNackWhenMissing(t *testing.T) {
	r, _ := newTestStatefulReader(t)
	w := testGUID(t)
	r.MatchWriter(w, nil)

	r.OnHeartbeat(w, cdr.Heartbeat{FirstSN: 1, LastSN: 3, Final: false})
	wp, ok := r.proxyFor(w)
	require.True(t, ok)
	assert.NotEmpty(t, wp.MissingOrRequested())
}

func TestStatelessReaderAcceptsOnlyIncreasingSequences(t *testing.T) {
	history := cache.New(qos.History{Kind: qos.KeepLast, Depth: 4}, qos.ResourceLimits{}, 0)
	p := pool.New(0)
	r := NewStateless(testGUID(t), "Topic", "Type", qos.Default(), history, p)

	var got []seqnum.SequenceNumber
	r.OnAvailable = func(writer guid.GUID, change *cache.CacheChange) {
		got = append(got, change.SequenceNumber)
	}

	w := testGUID(t)
	r.MatchWriter(w)
	r.OnData(w, 5, []byte("x"))
	r.OnData(w, 3, []byte("stale")) // dropped: below highest seen
	r.OnData(w, 7, []byte("y"))

	require.Equal(t, []seqnum.SequenceNumber{5, 7}, got)
}

func TestStatelessReaderDropsUnmatchedWriter(t *testing.T) {
	history := cache.New(qos.History{Kind: qos.KeepLast, Depth: 4}, qos.ResourceLimits{}, 0)
	p := pool.New(0)
	r := NewStateless(testGUID(t), "Topic", "Type", qos.Default(), history, p)

	var got int
	r.OnAvailable = func(writer guid.GUID, change *cache.CacheChange) { got++ }

	w := testGUID(t)
	r.OnData(w, 1, []byte("x")) // never matched
	assert.Zero(t, got)
}
