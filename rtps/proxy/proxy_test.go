package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

func testGUID(t *testing.T) guid.GUID {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	return guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
}

func TestReaderProxyLifecycle(t *testing.T) {
	rp := NewReaderProxy(testGUID(t), nil, false, true)
	rp.AddChange(1)
	rp.AddChange(2)

	assert.ElementsMatch(t, []seqnum.SequenceNumber{1, 2}, rp.UnsentChanges())

	rp.MarkUnderway(1)
	rp.MarkUnacknowledged(1)
	assert.ElementsMatch(t, []seqnum.SequenceNumber{1}, rp.UnacknowledgedChanges())

	rp.MarkRequested(1)
	assert.ElementsMatch(t, []seqnum.SequenceNumber{1}, rp.RequestedChanges())

	rp.AcknowledgeUpTo(2)
	_, stillThere := rp.Changes()[1]
	assert.False(t, stillThere)
	_, stillThere2 := rp.Changes()[2]
	assert.True(t, stillThere2, "seq 2 is not below the watermark, stays tracked")
}

func TestReaderProxyAckNackDebounce(t *testing.T) {
	rp := NewReaderProxy(testGUID(t), nil, false, true)
	assert.False(t, rp.ShouldDebounceAckNack(1))
	assert.True(t, rp.ShouldDebounceAckNack(1), "same count arriving again is a duplicate")
	assert.False(t, rp.ShouldDebounceAckNack(2))
}

func TestWriterProxyDuplicateDetection(t *testing.T) {
	wp := NewWriterProxy(testGUID(t), nil)
	assert.True(t, wp.MarkReceived(1))
	assert.False(t, wp.MarkReceived(1), "duplicate delivery of an already-resolved sequence number")
}

func TestWriterProxyHeartbeatComputesMissing(t *testing.T) {
	wp := NewWriterProxy(testGUID(t), nil)
	needAck := wp.UpdateHeartbeat(1, 5, true)
	assert.True(t, needAck, "missing set non-empty even with final set")
	assert.ElementsMatch(t, []seqnum.SequenceNumber{1, 2, 3, 4}, wp.MissingOrRequested())

	wp.MarkReceived(1)
	wp.MarkReceived(2)
	assert.ElementsMatch(t, []seqnum.SequenceNumber{3, 4}, wp.MissingOrRequested())
	assert.EqualValues(t, 3, wp.AckedUpTo())
}

func TestWriterProxyGapMarksIrrelevant(t *testing.T) {
	wp := NewWriterProxy(testGUID(t), nil)
	wp.UpdateHeartbeat(1, 4, true)
	wp.MarkIrrelevant(1)
	wp.MarkIrrelevant(2)
	assert.EqualValues(t, 3, wp.AckedUpTo())
	assert.ElementsMatch(t, []seqnum.SequenceNumber{3}, wp.MissingOrRequested())
}

func TestWriterProxyMarkAllMissingRequested(t *testing.T) {
	wp := NewWriterProxy(testGUID(t), nil)
	wp.UpdateHeartbeat(1, 3, true)
	wp.MarkAllMissingRequested()
	assert.Equal(t, WaitingHeartbeat, wp.State)
	assert.ElementsMatch(t, []seqnum.SequenceNumber{1, 2}, wp.MissingOrRequested())
}
