package cdr

import (
	"encoding/binary"
	"fmt"
)

// RawSubmessage is a still-framed submessage: header plus its body bytes,
// as handed to/from the wire. Interpreting the body requires the header's
// ID and Flags.
type RawSubmessage struct {
	Header SubmessageHeader
	Body   []byte
}

// Message is a fully framed RTPS datagram: the message header followed by
// zero or more submessages.
type Message struct {
	Header      MessageHeader
	Submessages []RawSubmessage
}

// Encode serializes the full message.
func (m Message) Encode() []byte {
	buf := make([]byte, HeaderLen)
	m.Header.Encode(buf)
	for _, sm := range m.Submessages {
		sm.Header.Length = uint16(len(sm.Body))
		sh := make([]byte, 4)
		EncodeSubmessageHeader(sh, sm.Header)
		buf = append(buf, sh...)
		buf = append(buf, sm.Body...)
	}
	return buf
}

// DecodeMessage parses a full datagram into a header and its raw,
// still-framed submessages. Unknown submessage ids with
// the VENDORSPECIFIC flag clear are a parse error that discards the rest
// of the message (MalformedPacket, caller's choice how to count it);
// unknown-with-VENDORSPECIFIC ids are skipped using the submessage length.
func DecodeMessage(buf []byte, known func(id byte) bool) (Message, error) {
	var m Message
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return m, err
	}
	m.Header = hdr
	off := HeaderLen
	for off < len(buf) {
		if off+4 > len(buf) {
			return m, fmt.Errorf("cdr: trailing %d bytes too short for a submessage header", len(buf)-off)
		}
		sh, err := DecodeSubmessageHeader(buf[off:])
		if err != nil {
			return m, err
		}
		off += 4
		if off+int(sh.Length) > len(buf) {
			return m, fmt.Errorf("cdr: submessage 0x%02x claims length %d beyond buffer", sh.ID, sh.Length)
		}
		body := buf[off : off+int(sh.Length)]
		off += int(sh.Length)
		if known != nil && !known(sh.ID) {
			if sh.Flags&FlagVendorSpec != 0 {
				// Skip: unknown but vendor-specific, length already consumed.
				continue
			}
			return m, fmt.Errorf("cdr: unknown non-vendor-specific submessage id 0x%02x, discarding rest of message", sh.ID)
		}
		m.Submessages = append(m.Submessages, RawSubmessage{Header: sh, Body: append([]byte(nil), body...)})
	}
	return m, nil
}

// KnownSubmessageID reports whether id is one of the core submessage ids
// this implementation understands.
func KnownSubmessageID(id byte) bool {
	switch id {
	case SubmsgPAD, SubmsgACKNACK, SubmsgHEARTBEAT, SubmsgGAP, SubmsgINFO_TS,
		SubmsgINFO_SRC, SubmsgINFO_REPLY, SubmsgINFO_DST, SubmsgNACK_FRAG,
		SubmsgHEARTBEAT_F, SubmsgDATA, SubmsgDATA_FRAG:
		return true
	default:
		return false
	}
}

// byteOrderFor returns the order implied by a littleEndian bool, as used
// by encode-side callers before a SubmessageHeader exists yet.
func byteOrderFor(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
