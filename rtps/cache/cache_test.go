package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

func change(sn int64, inst InstanceHandle) *CacheChange {
	return &CacheChange{
		Kind:           Alive,
		SequenceNumber: seqnum.SequenceNumber(sn),
		InstanceHandle: inst,
	}
}

func TestKeepLastEvictsOldestPerInstance(t *testing.T) {
	h := New(qos.History{Kind: qos.KeepLast, Depth: 2}, qos.ResourceLimits{}, 0)
	var inst InstanceHandle
	require.NoError(t, h.AddChange(change(1, inst)))
	require.NoError(t, h.AddChange(change(2, inst)))
	require.NoError(t, h.AddChange(change(3, inst)))

	seqs := h.InstanceSeqNums(inst)
	require.Len(t, seqs, 2)
	assert.EqualValues(t, 2, seqs[0])
	assert.EqualValues(t, 3, seqs[1])
}

func TestKeepAllRejectsOverMaxSamples(t *testing.T) {
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{MaxSamples: 2}, 0)
	var inst InstanceHandle
	require.NoError(t, h.AddChange(change(1, inst)))
	require.NoError(t, h.AddChange(change(2, inst)))
	err := h.AddChange(change(3, inst))
	require.Error(t, err)
	assert.True(t, rtpserrors.Is(err, rtpserrors.CacheFull))
}

func TestTotalByteBound(t *testing.T) {
	p := pool.New(0)
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 10)
	var inst InstanceHandle

	pl1, err := p.Get(6)
	require.NoError(t, err)
	c1 := change(1, inst)
	c1.Payload = pl1
	require.NoError(t, h.AddChange(c1))

	pl2, err := p.Get(6)
	require.NoError(t, err)
	c2 := change(2, inst)
	c2.Payload = pl2
	err = h.AddChange(c2)
	require.Error(t, err)
	assert.True(t, rtpserrors.Is(err, rtpserrors.CacheFull))
}

func TestGetMinMaxSeq(t *testing.T) {
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0)
	var instA, instB InstanceHandle
	instB[0] = 1
	require.NoError(t, h.AddChange(change(5, instA)))
	require.NoError(t, h.AddChange(change(1, instB)))
	require.NoError(t, h.AddChange(change(9, instA)))

	min, ok := h.GetMinSeq()
	require.True(t, ok)
	assert.EqualValues(t, 1, min)

	max, ok := h.GetMaxSeq()
	require.True(t, ok)
	assert.EqualValues(t, 9, max)
}

func TestAckedChangesSetPurgesWhenAllReadersAcked(t *testing.T) {
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0)
	var inst InstanceHandle
	require.NoError(t, h.AddChange(change(1, inst)))
	require.NoError(t, h.AddChange(change(2, inst)))

	r1, err := guid.NewPrefix()
	require.NoError(t, err)
	r2, err := guid.NewPrefix()
	require.NoError(t, err)
	reader1 := guid.GUID{Prefix: r1, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
	reader2 := guid.GUID{Prefix: r2, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}

	h.AddMatchedReliableReader(reader1)
	h.AddMatchedReliableReader(reader2)

	h.AckedChangesSet(reader1, seqnum.SequenceNumber(2))
	assert.Equal(t, 2, h.Len(), "not purged until every reader has acked")

	h.AckedChangesSet(reader2, seqnum.SequenceNumber(1))
	assert.Equal(t, 1, h.Len(), "seq 1 acked by both readers, seq 2 still outstanding for reader2")

	h.AckedChangesSet(reader2, seqnum.SequenceNumber(2))
	assert.Equal(t, 0, h.Len())
}

func TestRemoveSoleMatchedReaderDoesNotPurge(t *testing.T) {
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0)
	var inst InstanceHandle
	require.NoError(t, h.AddChange(change(1, inst)))

	p, err := guid.NewPrefix()
	require.NoError(t, err)
	reader := guid.GUID{Prefix: p, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
	h.AddMatchedReliableReader(reader)

	assert.Equal(t, 1, h.Len())
	h.RemoveMatchedReader(reader)
	assert.Equal(t, 1, h.Len(), "removing the sole reader does not retroactively purge without an ack")
}

func TestRemoveChangeReleasesPayload(t *testing.T) {
	p := pool.New(0)
	h := New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0)
	var inst InstanceHandle

	pl, err := p.Get(8)
	require.NoError(t, err)
	c := change(1, inst)
	c.Payload = pl
	require.NoError(t, h.AddChange(c))
	assert.EqualValues(t, 8, p.ResidentBytes())

	assert.True(t, h.RemoveChange(seqnum.SequenceNumber(1)))
	assert.EqualValues(t, 0, p.ResidentBytes())
	assert.False(t, h.RemoveChange(seqnum.SequenceNumber(1)), "removing twice is a no-op")
}
