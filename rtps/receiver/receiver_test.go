package receiver

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

type fakeReader struct {
	dataCalls      []seqnum.SequenceNumber
	heartbeatCalls int
	gapCalls       int
	lastWriter     guid.GUID
}

func (f *fakeReader) OnData(writer guid.GUID, sn seqnum.SequenceNumber, payload []byte) {
	f.dataCalls = append(f.dataCalls, sn)
	f.lastWriter = writer
}
func (f *fakeReader) OnHeartbeat(writer guid.GUID, hb cdr.Heartbeat) { f.heartbeatCalls++ }
func (f *fakeReader) OnGap(writer guid.GUID, g cdr.Gap)              { f.gapCalls++ }

type fakeWriter struct {
	ackNackCalls int
	lastReader   guid.GUID
}

func (f *fakeWriter) OnAckNack(reader guid.GUID, ack cdr.AckNack) {
	f.ackNackCalls++
	f.lastReader = reader
}

type fakeDispatcher struct {
	readers map[guid.EntityID]LocalReader
	writers map[guid.EntityID]LocalWriter
}

func (d *fakeDispatcher) LocalReaderByEntity(e guid.EntityID) (LocalReader, bool) {
	r, ok := d.readers[e]
	return r, ok
}
func (d *fakeDispatcher) LocalWriterByEntity(e guid.EntityID) (LocalWriter, bool) {
	w, ok := d.writers[e]
	return w, ok
}

func testPrefix(t *testing.T) guid.GuidPrefix {
	t.Helper()
	p, err := guid.NewPrefix()
	require.NoError(t, err)
	return p
}

func buildMessage(t *testing.T, hdrPrefix guid.GuidPrefix, dst *guid.GuidPrefix, sms []cdr.RawSubmessage) []byte {
	t.Helper()
	var subs []cdr.RawSubmessage
	if dst != nil {
		body, flags := cdr.EncodeInfoDst(cdr.InfoDst{GuidPrefix: *dst}, true)
		subs = append(subs, cdr.RawSubmessage{Header: cdr.SubmessageHeader{ID: cdr.SubmsgINFO_DST, Flags: flags}, Body: body})
	}
	subs = append(subs, sms...)
	msg := cdr.Message{
		Header: cdr.MessageHeader{
			VersionMajor: cdr.ProtocolVersion.Major,
			VersionMinor: cdr.ProtocolVersion.Minor,
			Vendor:       cdr.OurVendorID,
			GuidPrefix:   hdrPrefix,
		},
		Submessages: subs,
	}
	return msg.Encode()
}

func TestReceiveDispatchesDataToMatchingReader(t *testing.T) {
	myPrefix := testPrefix(t)
	srcPrefix := testPrefix(t)
	readerEntity := guid.EntityIDSEDPBuiltinSubscriptionsReader
	writerEntity := guid.EntityIDSEDPBuiltinPublicationsWriter

	fr := &fakeReader{}
	d := &fakeDispatcher{readers: map[guid.EntityID]LocalReader{readerEntity: fr}}
	mr := New(myPrefix, d)

	body, flags := cdr.EncodeData(cdr.Data{
		ReaderID:          readerEntity,
		WriterID:          writerEntity,
		WriterSN:          7,
		SerializedPayload: []byte("hi"),
	}, binary.LittleEndian, true)
	raw := []cdr.RawSubmessage{{Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags}, Body: body}}

	buf := buildMessage(t, srcPrefix, &myPrefix, raw)
	require.NoError(t, mr.Receive(buf))

	require.Len(t, fr.dataCalls, 1)
	assert.EqualValues(t, 7, fr.dataCalls[0])
	assert.Equal(t, srcPrefix, fr.lastWriter.Prefix)
	assert.Equal(t, writerEntity, fr.lastWriter.Entity)
}

func TestReceiveDropsDataAddressedToOtherParticipant(t *testing.T) {
	myPrefix := testPrefix(t)
	otherPrefix := testPrefix(t)
	srcPrefix := testPrefix(t)
	readerEntity := guid.EntityIDSEDPBuiltinSubscriptionsReader

	fr := &fakeReader{}
	d := &fakeDispatcher{readers: map[guid.EntityID]LocalReader{readerEntity: fr}}
	mr := New(myPrefix, d)

	body, flags := cdr.EncodeData(cdr.Data{ReaderID: readerEntity, WriterSN: 1}, binary.LittleEndian, true)
	raw := []cdr.RawSubmessage{{Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags}, Body: body}}

	buf := buildMessage(t, srcPrefix, &otherPrefix, raw)
	require.NoError(t, mr.Receive(buf))
	assert.Empty(t, fr.dataCalls)
}

func TestReceiveAcceptsDataWithNoInfoDst(t *testing.T) {
	myPrefix := testPrefix(t)
	srcPrefix := testPrefix(t)
	readerEntity := guid.EntityIDSEDPBuiltinSubscriptionsReader

	fr := &fakeReader{}
	d := &fakeDispatcher{readers: map[guid.EntityID]LocalReader{readerEntity: fr}}
	mr := New(myPrefix, d)

	body, flags := cdr.EncodeData(cdr.Data{ReaderID: readerEntity, WriterSN: 3}, binary.LittleEndian, true)
	raw := []cdr.RawSubmessage{{Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags}, Body: body}}

	buf := buildMessage(t, srcPrefix, nil, raw)
	require.NoError(t, mr.Receive(buf))
	require.Len(t, fr.dataCalls, 1)
}

func TestReceiveDispatchesAckNackToMatchingWriter(t *testing.T) {
	myPrefix := testPrefix(t)
	srcPrefix := testPrefix(t)
	writerEntity := guid.EntityIDSEDPBuiltinPublicationsWriter

	fw := &fakeWriter{}
	d := &fakeDispatcher{writers: map[guid.EntityID]LocalWriter{writerEntity: fw}}
	mr := New(myPrefix, d)

	body, flags := cdr.EncodeAckNack(cdr.AckNack{
		WriterID:      writerEntity,
		ReaderSNState: seqnum.NewSet(1),
		Count:         1,
	}, binary.LittleEndian, true)
	raw := []cdr.RawSubmessage{{Header: cdr.SubmessageHeader{ID: cdr.SubmsgACKNACK, Flags: flags}, Body: body}}

	buf := buildMessage(t, srcPrefix, &myPrefix, raw)
	require.NoError(t, mr.Receive(buf))
	assert.Equal(t, 1, fw.ackNackCalls)
	assert.Equal(t, srcPrefix, fw.lastReader.Prefix)
}

func TestReceiveMalformedHeaderReturnsError(t *testing.T) {
	mr := New(testPrefix(t), &fakeDispatcher{})
	err := mr.Receive([]byte("not an rtps message"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), mr.Stats.MalformedPackets)
}

func TestReceiveCountsUnknownNonVendorSubmessageAsError(t *testing.T) {
	myPrefix := testPrefix(t)
	mr := New(myPrefix, &fakeDispatcher{})
	raw := []cdr.RawSubmessage{{Header: cdr.SubmessageHeader{ID: 0x7e, Flags: cdr.FlagEndianness}, Body: []byte{1, 2, 3, 4}}}
	buf := buildMessage(t, myPrefix, nil, raw)
	err := mr.Receive(buf)
	assert.Error(t, err)
	assert.Equal(t, int64(1), mr.Stats.MalformedPackets)
}
