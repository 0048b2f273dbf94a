package cdr

import (
	"encoding/binary"
	"fmt"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// Flags specific to DATA (beyond Endianness).
const (
	DataFlagInlineQos byte = 0x02
	DataFlagData      byte = 0x04
	DataFlagKey       byte = 0x08
)

// Data is the decoded body of a DATA submessage.
type Data struct {
	ReaderID          guid.EntityID
	WriterID          guid.EntityID
	WriterSN          seqnum.SequenceNumber
	InlineQos         *ParameterList
	SerializedPayload []byte // present iff Key flag clear and Data flag set
	KeyHash           []byte // present iff Key flag set instead of a full payload
}

// EncodeData serializes a Data body (without the submessage header) and
// returns the flags that must accompany it.
func EncodeData(d Data, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	flags = 0
	if littleEndian {
		flags |= FlagEndianness
	}
	// layout: extraFlags(2) + octetsToInlineQos(2) + readerId(4) + writerId(4) + sn(8) = 20 bytes
	head := make([]byte, 20)
	order.PutUint16(head[0:2], 0)
	order.PutUint16(head[2:4], 16) // octets to inline qos: readerId+writerId+sn = 16
	order.PutUint32(head[4:8], entityBytes(d.ReaderID))
	order.PutUint32(head[8:12], entityBytes(d.WriterID))
	putSeqNumOrdered(head[12:20], d.WriterSN, order)

	body = append(body, head...)
	if d.InlineQos != nil {
		flags |= DataFlagInlineQos
		body = append(body, d.InlineQos.Encode(order)...)
	}
	if len(d.KeyHash) > 0 {
		flags |= DataFlagKey
		body = append(body, d.KeyHash...)
	} else if d.SerializedPayload != nil {
		flags |= DataFlagData
		body = append(body, d.SerializedPayload...)
	}
	return body, flags
}

// DecodeData parses a Data body given the submessage's flags.
func DecodeData(buf []byte, flags byte, order binary.ByteOrder) (Data, error) {
	var d Data
	if len(buf) < 20 {
		return d, fmt.Errorf("cdr: short buffer for DATA body: %d bytes", len(buf))
	}
	octetsToInlineQos := int(order.Uint16(buf[2:4]))
	d.ReaderID = entityFromBytes(order.Uint32(buf[4:8]))
	d.WriterID = entityFromBytes(order.Uint32(buf[8:12]))
	d.WriterSN = getSeqNumOrdered(buf[12:20], order)

	off := 4 + octetsToInlineQos
	if off > len(buf) {
		return d, fmt.Errorf("cdr: octetsToInlineQos %d exceeds buffer", octetsToInlineQos)
	}
	if flags&DataFlagInlineQos != 0 {
		pl, n, err := DecodeParameterList(buf[off:], order)
		if err != nil {
			return d, fmt.Errorf("cdr: DATA inline qos: %w", err)
		}
		d.InlineQos = pl
		off += n
	}
	switch {
	case flags&DataFlagKey != 0:
		d.KeyHash = append([]byte(nil), buf[off:]...)
	case flags&DataFlagData != 0:
		d.SerializedPayload = append([]byte(nil), buf[off:]...)
	}
	return d, nil
}

// Heartbeat flags.
const (
	HeartbeatFlagFinal      byte = 0x02
	HeartbeatFlagLiveliness byte = 0x04
)

// Heartbeat is the decoded body of a HEARTBEAT submessage.
type Heartbeat struct {
	ReaderID  guid.EntityID
	WriterID  guid.EntityID
	FirstSN   seqnum.SequenceNumber
	LastSN    seqnum.SequenceNumber
	Count     int32
	Final     bool
	Liveliness bool
}

func EncodeHeartbeat(h Heartbeat, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	if h.Final {
		flags |= HeartbeatFlagFinal
	}
	if h.Liveliness {
		flags |= HeartbeatFlagLiveliness
	}
	body = make([]byte, 28)
	order.PutUint32(body[0:4], entityBytes(h.ReaderID))
	order.PutUint32(body[4:8], entityBytes(h.WriterID))
	putSeqNumOrdered(body[8:16], h.FirstSN, order)
	putSeqNumOrdered(body[16:24], h.LastSN, order)
	order.PutUint32(body[24:28], uint32(h.Count))
	return body, flags
}

func DecodeHeartbeat(buf []byte, flags byte, order binary.ByteOrder) (Heartbeat, error) {
	var h Heartbeat
	if len(buf) < 28 {
		return h, fmt.Errorf("cdr: short buffer for HEARTBEAT body: %d bytes", len(buf))
	}
	h.ReaderID = entityFromBytes(order.Uint32(buf[0:4]))
	h.WriterID = entityFromBytes(order.Uint32(buf[4:8]))
	h.FirstSN = getSeqNumOrdered(buf[8:16], order)
	h.LastSN = getSeqNumOrdered(buf[16:24], order)
	h.Count = int32(order.Uint32(buf[24:28]))
	h.Final = flags&HeartbeatFlagFinal != 0
	h.Liveliness = flags&HeartbeatFlagLiveliness != 0
	return h, nil
}

// AckNack flags.
const AckNackFlagFinal byte = 0x02

// AckNack is the decoded body of an ACKNACK submessage.
type AckNack struct {
	ReaderID      guid.EntityID
	WriterID      guid.EntityID
	ReaderSNState *seqnum.Set
	Count         int32
	Final         bool
}

func EncodeAckNack(a AckNack, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	if a.Final {
		flags |= AckNackFlagFinal
	}
	head := make([]byte, 8)
	order.PutUint32(head[0:4], entityBytes(a.ReaderID))
	order.PutUint32(head[4:8], entityBytes(a.WriterID))
	body = append(body, head...)
	body = append(body, a.ReaderSNState.Encode()...)
	countBuf := make([]byte, 4)
	order.PutUint32(countBuf, uint32(a.Count))
	body = append(body, countBuf...)
	return body, flags
}

func DecodeAckNack(buf []byte, flags byte, order binary.ByteOrder) (AckNack, error) {
	var a AckNack
	if len(buf) < 8 {
		return a, fmt.Errorf("cdr: short buffer for ACKNACK body: %d bytes", len(buf))
	}
	a.ReaderID = entityFromBytes(order.Uint32(buf[0:4]))
	a.WriterID = entityFromBytes(order.Uint32(buf[4:8]))
	set, n, err := seqnum.Decode(buf[8:])
	if err != nil {
		return a, fmt.Errorf("cdr: ACKNACK reader sn state: %w", err)
	}
	a.ReaderSNState = set
	off := 8 + n
	if off+4 > len(buf) {
		return a, fmt.Errorf("cdr: short buffer for ACKNACK count")
	}
	a.Count = int32(order.Uint32(buf[off : off+4]))
	a.Final = flags&AckNackFlagFinal != 0
	return a, nil
}

// Gap is the decoded body of a GAP submessage.
type Gap struct {
	ReaderID  guid.EntityID
	WriterID  guid.EntityID
	GapStart  seqnum.SequenceNumber
	GapList   *seqnum.Set
}

func EncodeGap(g Gap, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	head := make([]byte, 16)
	order.PutUint32(head[0:4], entityBytes(g.ReaderID))
	order.PutUint32(head[4:8], entityBytes(g.WriterID))
	putSeqNumOrdered(head[8:16], g.GapStart, order)
	body = append(body, head...)
	body = append(body, g.GapList.Encode()...)
	return body, flags
}

func DecodeGap(buf []byte, flags byte, order binary.ByteOrder) (Gap, error) {
	var g Gap
	if len(buf) < 16 {
		return g, fmt.Errorf("cdr: short buffer for GAP body: %d bytes", len(buf))
	}
	g.ReaderID = entityFromBytes(order.Uint32(buf[0:4]))
	g.WriterID = entityFromBytes(order.Uint32(buf[4:8]))
	g.GapStart = getSeqNumOrdered(buf[8:16], order)
	set, _, err := seqnum.Decode(buf[16:])
	if err != nil {
		return g, fmt.Errorf("cdr: GAP gap list: %w", err)
	}
	g.GapList = set
	return g, nil
}

// InfoTS flags.
const InfoTSFlagInvalidate byte = 0x02

// InfoTS carries the source timestamp applying to subsequent submessages,
// unless Invalidate is set (meaning "no timestamp until further notice").
type InfoTS struct {
	Seconds    int32
	Fraction   uint32
	Invalidate bool
}

func EncodeInfoTS(t InfoTS, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	if t.Invalidate {
		flags |= InfoTSFlagInvalidate
		return nil, flags
	}
	body = make([]byte, 8)
	order.PutUint32(body[0:4], uint32(t.Seconds))
	order.PutUint32(body[4:8], t.Fraction)
	return body, flags
}

func DecodeInfoTS(buf []byte, flags byte, order binary.ByteOrder) (InfoTS, error) {
	var t InfoTS
	if flags&InfoTSFlagInvalidate != 0 {
		t.Invalidate = true
		return t, nil
	}
	if len(buf) < 8 {
		return t, fmt.Errorf("cdr: short buffer for INFO_TS body: %d bytes", len(buf))
	}
	t.Seconds = int32(order.Uint32(buf[0:4]))
	t.Fraction = order.Uint32(buf[4:8])
	return t, nil
}

// InfoDst carries the guid prefix of the destination participant that the
// following submessages are addressed to.
type InfoDst struct {
	GuidPrefix guid.GuidPrefix
}

func EncodeInfoDst(d InfoDst, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	body = append([]byte(nil), d.GuidPrefix[:]...)
	return body, flags
}

func DecodeInfoDst(buf []byte) (InfoDst, error) {
	var d InfoDst
	if len(buf) < guid.PrefixLen {
		return d, fmt.Errorf("cdr: short buffer for INFO_DST body: %d bytes", len(buf))
	}
	copy(d.GuidPrefix[:], buf[:guid.PrefixLen])
	return d, nil
}

// InfoSrc carries the protocol version, vendor id, and guid prefix of the
// participant that sent the following submessages (used when it differs
// from the message header's guid prefix, e.g. relayed traffic).
type InfoSrc struct {
	VersionMajor, VersionMinor byte
	Vendor                     VendorID
	GuidPrefix                 guid.GuidPrefix
}

func EncodeInfoSrc(s InfoSrc, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	body = make([]byte, 4+4+guid.PrefixLen)
	order.PutUint32(body[0:4], 0)
	body[4] = s.VersionMajor
	body[5] = s.VersionMinor
	body[6] = s.Vendor[0]
	body[7] = s.Vendor[1]
	copy(body[8:], s.GuidPrefix[:])
	return body, flags
}

func DecodeInfoSrc(buf []byte) (InfoSrc, error) {
	var s InfoSrc
	need := 4 + 4 + guid.PrefixLen
	if len(buf) < need {
		return s, fmt.Errorf("cdr: short buffer for INFO_SRC body: %d bytes", len(buf))
	}
	s.VersionMajor = buf[4]
	s.VersionMinor = buf[5]
	s.Vendor = VendorID{buf[6], buf[7]}
	copy(s.GuidPrefix[:], buf[8:8+guid.PrefixLen])
	return s, nil
}

// InfoReply carries alternate locators peers should use to reach the
// sender's reliable readers.
type InfoReply struct {
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
}

func EncodeInfoReply(r InfoReply, order binary.ByteOrder, littleEndian bool) (body []byte, flags byte) {
	if littleEndian {
		flags |= FlagEndianness
	}
	body = append(body, encodeLocatorList(r.UnicastLocators, order)...)
	body = append(body, encodeLocatorList(r.MulticastLocators, order)...)
	return body, flags
}

func DecodeInfoReply(buf []byte, order binary.ByteOrder) (InfoReply, error) {
	var r InfoReply
	uni, n, err := decodeLocatorList(buf, order)
	if err != nil {
		return r, fmt.Errorf("cdr: INFO_REPLY unicast locators: %w", err)
	}
	r.UnicastLocators = uni
	multi, _, err := decodeLocatorList(buf[n:], order)
	if err != nil {
		return r, fmt.Errorf("cdr: INFO_REPLY multicast locators: %w", err)
	}
	r.MulticastLocators = multi
	return r, nil
}

func encodeLocatorList(locs []locator.Locator, order binary.ByteOrder) []byte {
	countBuf := make([]byte, 4)
	order.PutUint32(countBuf, uint32(len(locs)))
	out := append([]byte(nil), countBuf...)
	for _, l := range locs {
		b, _ := l.MarshalBinary()
		out = append(out, b...)
	}
	return out
}

func decodeLocatorList(buf []byte, order binary.ByteOrder) ([]locator.Locator, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("cdr: short buffer for locator list count")
	}
	count := int(order.Uint32(buf[0:4]))
	off := 4
	out := make([]locator.Locator, 0, count)
	for i := 0; i < count; i++ {
		if off+24 > len(buf) {
			return nil, 0, fmt.Errorf("cdr: short buffer for locator %d", i)
		}
		var l locator.Locator
		if err := l.UnmarshalBinary(buf[off : off+24]); err != nil {
			return nil, 0, err
		}
		out = append(out, l)
		off += 24
	}
	return out, off, nil
}

func entityBytes(e guid.EntityID) uint32 {
	return uint32(e[0])<<24 | uint32(e[1])<<16 | uint32(e[2])<<8 | uint32(e[3])
}

func entityFromBytes(v uint32) guid.EntityID {
	return guid.EntityID{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func putSeqNumOrdered(b []byte, sn seqnum.SequenceNumber, order binary.ByteOrder) {
	high := int32(int64(sn) >> 32)
	low := uint32(int64(sn) & 0xffffffff)
	order.PutUint32(b[0:4], uint32(high))
	order.PutUint32(b[4:8], low)
}

func getSeqNumOrdered(b []byte, order binary.ByteOrder) seqnum.SequenceNumber {
	high := int32(order.Uint32(b[0:4]))
	low := order.Uint32(b[4:8])
	return seqnum.SequenceNumber(int64(high)<<32 | int64(low))
}
