// Package cdr implements the RTPS message/submessage CDR framing: the
// 20-byte message header, the 4-byte submessage header, and parameter-list
// (PID_SENTINEL-terminated) parsing.
package cdr

import (
	"encoding/binary"
	"fmt"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
)

// ProtocolMagic is the 4-byte magic every RTPS datagram begins with.
var ProtocolMagic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is (major, minor); this implementation speaks 2.3.
var ProtocolVersion = struct{ Major, Minor byte }{2, 3}

// VendorID identifies the implementation that produced a message. Vendor
// ids are assigned by the OMG; unrecognized ids are still interoperable
// (RTPS is vendor-neutral on the wire) so this is informational only.
type VendorID [2]byte

// OurVendorID is this implementation's (unregistered, exercise-only)
// vendor id.
var OurVendorID = VendorID{0x01, 0xff}

// MessageHeader is the fixed 20-byte header at the start of every RTPS
// datagram.
type MessageHeader struct {
	VersionMajor, VersionMinor byte
	Vendor                     VendorID
	GuidPrefix                 guid.GuidPrefix
}

// HeaderLen is the wire length of a MessageHeader.
const HeaderLen = 20

// Encode writes the header to buf[:20]. buf must be at least 20 bytes.
func (h MessageHeader) Encode(buf []byte) {
	copy(buf[0:4], ProtocolMagic[:])
	buf[4] = h.VersionMajor
	buf[5] = h.VersionMinor
	buf[6] = h.Vendor[0]
	buf[7] = h.Vendor[1]
	copy(buf[8:20], h.GuidPrefix[:])
}

// DecodeHeader parses the 20-byte message header from the front of buf.
func DecodeHeader(buf []byte) (MessageHeader, error) {
	var h MessageHeader
	if len(buf) < HeaderLen {
		return h, fmt.Errorf("cdr: short buffer for message header: %d bytes", len(buf))
	}
	if buf[0] != ProtocolMagic[0] || buf[1] != ProtocolMagic[1] || buf[2] != ProtocolMagic[2] || buf[3] != ProtocolMagic[3] {
		return h, fmt.Errorf("cdr: bad magic %q", buf[0:4])
	}
	h.VersionMajor = buf[4]
	h.VersionMinor = buf[5]
	h.Vendor = VendorID{buf[6], buf[7]}
	copy(h.GuidPrefix[:], buf[8:20])
	return h, nil
}

// Submessage ids.
const (
	SubmsgPAD          byte = 0x01
	SubmsgACKNACK      byte = 0x06
	SubmsgHEARTBEAT    byte = 0x07
	SubmsgGAP          byte = 0x08
	SubmsgINFO_TS      byte = 0x09
	SubmsgINFO_SRC     byte = 0x0c
	SubmsgINFO_REPLY   byte = 0x0f
	SubmsgINFO_DST     byte = 0x0e
	SubmsgNACK_FRAG    byte = 0x12
	SubmsgHEARTBEAT_F  byte = 0x13
	SubmsgDATA         byte = 0x15
	SubmsgDATA_FRAG    byte = 0x16
)

// Flag bits common to every submessage header. Bit 0 is endianness.
const (
	FlagEndianness byte = 0x01
	FlagVendorSpec byte = 0x80
)

// SubmessageHeader is the 4-byte header preceding every submessage.
type SubmessageHeader struct {
	ID     byte
	Flags  byte
	Length uint16 // length of the submessage body that follows, in bytes
}

// LittleEndian reports whether the Endianness flag selects little-endian
// encoding for this submessage's body.
func (h SubmessageHeader) LittleEndian() bool { return h.Flags&FlagEndianness != 0 }

// ByteOrder returns the binary.ByteOrder matching the submessage's
// endianness flag.
func (h SubmessageHeader) ByteOrder() binary.ByteOrder {
	if h.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// EncodeSubmessageHeader writes a 4-byte submessage header into buf[:4].
func EncodeSubmessageHeader(buf []byte, h SubmessageHeader) {
	buf[0] = h.ID
	buf[1] = h.Flags
	h.ByteOrder().PutUint16(buf[2:4], h.Length)
}

// DecodeSubmessageHeader parses a 4-byte submessage header from the front
// of buf.
func DecodeSubmessageHeader(buf []byte) (SubmessageHeader, error) {
	var h SubmessageHeader
	if len(buf) < 4 {
		return h, fmt.Errorf("cdr: short buffer for submessage header: %d bytes", len(buf))
	}
	h.ID = buf[0]
	h.Flags = buf[1]
	h.Length = h.ByteOrder().Uint16(buf[2:4])
	return h, nil
}
