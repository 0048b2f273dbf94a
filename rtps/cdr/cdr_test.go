package cdr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	h := MessageHeader{
		VersionMajor: ProtocolVersion.Major,
		VersionMinor: ProtocolVersion.Minor,
		Vendor:       OurVendorID,
		GuidPrefix:   prefix,
	}
	buf := make([]byte, HeaderLen)
	h.Encode(buf)
	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParameterListRoundTrip(t *testing.T) {
	pl := &ParameterList{}
	pl.Add(0x0005, PadTo4([]byte("topic-name")))
	pl.Add(0x0007, PadTo4([]byte("type-name")))
	wire := pl.Encode(binary.BigEndian)
	got, n, err := DecodeParameterList(wire, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, pl.Params, got.Params)
}

func TestDataRoundTrip(t *testing.T) {
	d := Data{
		ReaderID:          guid.EntityIDUnknown,
		WriterID:          guid.EntityID{0, 0, 1, 0xc2},
		WriterSN:          seqnum.SequenceNumber(42),
		SerializedPayload: []byte{1, 2, 3, 4},
	}
	body, flags := EncodeData(d, binary.BigEndian, false)
	got, err := DecodeData(body, flags, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, d.ReaderID, got.ReaderID)
	assert.Equal(t, d.WriterID, got.WriterID)
	assert.Equal(t, d.WriterSN, got.WriterSN)
	assert.Equal(t, d.SerializedPayload, got.SerializedPayload)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	h := Heartbeat{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityID{0, 0, 1, 0xc2},
		FirstSN:  1,
		LastSN:   10,
		Count:    3,
		Final:    true,
	}
	body, flags := EncodeHeartbeat(h, binary.BigEndian, false)
	got, err := DecodeHeartbeat(body, flags, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestAckNackRoundTrip(t *testing.T) {
	set := seqnum.NewSet(3)
	require.NoError(t, set.Add(3))
	require.NoError(t, set.Add(5))
	a := AckNack{
		ReaderID:      guid.EntityID{0, 0, 1, 0xc4},
		WriterID:      guid.EntityID{0, 0, 1, 0xc2},
		ReaderSNState: set,
		Count:         7,
	}
	body, flags := EncodeAckNack(a, binary.BigEndian, false)
	got, err := DecodeAckNack(body, flags, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, a.ReaderID, got.ReaderID)
	assert.Equal(t, a.WriterID, got.WriterID)
	assert.Equal(t, a.Count, got.Count)
	assert.ElementsMatch(t, set.Members(), got.ReaderSNState.Members())
}

func TestGapRoundTrip(t *testing.T) {
	set := seqnum.NewSet(10)
	require.NoError(t, set.Add(10))
	g := Gap{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityID{0, 0, 1, 0xc2},
		GapStart: 9,
		GapList:  set,
	}
	body, flags := EncodeGap(g, binary.BigEndian, false)
	got, err := DecodeGap(body, flags, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, g.GapStart, got.GapStart)
	assert.ElementsMatch(t, set.Members(), got.GapList.Members())
}

func TestMessageDecodeUnknownSubmessage(t *testing.T) {
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	msg := Message{Header: MessageHeader{VersionMajor: 2, VersionMinor: 3, Vendor: OurVendorID, GuidPrefix: prefix}}
	msg.Submessages = append(msg.Submessages, RawSubmessage{Header: SubmessageHeader{ID: SubmsgPAD, Flags: 0}})
	wire := msg.Encode()

	// Append an unknown, non-vendor-specific submessage: decode must stop there.
	wire = append(wire, 0xEE, 0x00, 0x00, 0x04, 0xDE, 0xAD, 0xBE, 0xEF)
	_, err = DecodeMessage(wire, KnownSubmessageID)
	assert.Error(t, err)

	// Same but VENDORSPECIFIC flagged: must be skipped, not fatal.
	wire2 := msg.Encode()
	wire2 = append(wire2, 0xEE, FlagVendorSpec, 0x00, 0x04, 0xDE, 0xAD, 0xBE, 0xEF)
	got, err := DecodeMessage(wire2, KnownSubmessageID)
	require.NoError(t, err)
	assert.Len(t, got.Submessages, 1)
}
