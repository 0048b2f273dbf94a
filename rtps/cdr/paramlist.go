package cdr

import (
	"encoding/binary"
	"fmt"
)

// PIDSentinel terminates every parameter list.
const PIDSentinel uint16 = 0x0001

// Parameter is one (pid, value) entry of a ParameterList. Value is the raw
// parameter payload, already padded to a 4-byte boundary per CDR alignment
// rules.
type Parameter struct {
	PID   uint16
	Value []byte
}

// ParameterList is an ordered, PID_SENTINEL-terminated sequence of
// parameters, used for inline QoS and discovery data encoding.
type ParameterList struct {
	Params []Parameter
}

// Get returns the first parameter with the given pid, if present.
func (pl *ParameterList) Get(pid uint16) ([]byte, bool) {
	for _, p := range pl.Params {
		if p.PID == pid {
			return p.Value, true
		}
	}
	return nil, false
}

// Add appends a parameter. value's length must already be a multiple of 4;
// callers pad short values themselves (see PadTo4).
func (pl *ParameterList) Add(pid uint16, value []byte) {
	pl.Params = append(pl.Params, Parameter{PID: pid, Value: value})
}

// PadTo4 right-pads b with zero bytes until its length is a multiple of 4,
// as CDR parameter encoding requires.
func PadTo4(b []byte) []byte {
	if r := len(b) % 4; r != 0 {
		b = append(b, make([]byte, 4-r)...)
	}
	return b
}

// Encode serializes the list using the given byte order, appending the
// sentinel.
func (pl *ParameterList) Encode(order binary.ByteOrder) []byte {
	var out []byte
	hdr := make([]byte, 4)
	for _, p := range pl.Params {
		order.PutUint16(hdr[0:2], p.PID)
		order.PutUint16(hdr[2:4], uint16(len(p.Value)))
		out = append(out, hdr...)
		out = append(out, p.Value...)
	}
	order.PutUint16(hdr[0:2], PIDSentinel)
	order.PutUint16(hdr[2:4], 0)
	out = append(out, hdr...)
	return out
}

// DecodeParameterList parses a parameter list from buf, stopping at
// PID_SENTINEL, and returns the list plus the number of bytes consumed
// (including the sentinel).
func DecodeParameterList(buf []byte, order binary.ByteOrder) (*ParameterList, int, error) {
	pl := &ParameterList{}
	off := 0
	for {
		if off+4 > len(buf) {
			return nil, 0, fmt.Errorf("cdr: short buffer for parameter header at offset %d", off)
		}
		pid := order.Uint16(buf[off : off+2])
		length := int(order.Uint16(buf[off+2 : off+4]))
		off += 4
		if pid == PIDSentinel {
			return pl, off, nil
		}
		if off+length > len(buf) {
			return nil, 0, fmt.Errorf("cdr: parameter 0x%04x length %d exceeds buffer", pid, length)
		}
		val := make([]byte, length)
		copy(val, buf[off:off+length])
		pl.Params = append(pl.Params, Parameter{PID: pid, Value: val})
		off += length
	}
}
