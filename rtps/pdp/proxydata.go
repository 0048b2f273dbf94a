// Package pdp implements the Participant Discovery Protocol (SPDP):
// periodic multicast of this participant's ParticipantProxyData, tracking
// of discovered peers with lease-duration expiry, and the "declare dead"
// cleanup that follows a lease lapsing.
package pdp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
)

// Parameter ids used to encode ParticipantProxyData, chosen to match the
// RTPS-assigned PIDs for the built-in participant parameters this
// implementation carries.
const (
	PidProtocolVersion             uint16 = 0x0015
	PidVendorID                    uint16 = 0x0016
	PidParticipantGUID             uint16 = 0x0050
	PidMetatrafficUnicastLocator   uint16 = 0x0032
	PidMetatrafficMulticastLocator uint16 = 0x0033
	PidDefaultUnicastLocator       uint16 = 0x0031
	PidParticipantLeaseDuration    uint16 = 0x0002
	PidUserData                    uint16 = 0x002c
)

// ParticipantProxyData is a remote (or this) participant's discovery
// record: enough to reach its built-in discovery endpoints and to know
// when to consider it dead.
type ParticipantProxyData struct {
	GuidPrefix                   guid.GuidPrefix
	ProtocolVersionMajor         byte
	ProtocolVersionMinor         byte
	VendorID                     cdr.VendorID
	MetatrafficUnicastLocators   []locator.Locator
	MetatrafficMulticastLocators []locator.Locator
	DefaultUnicastLocators       []locator.Locator
	UserData                     []byte
	LeaseDuration                time.Duration
}

func encodeLocator(pl *cdr.ParameterList, pid uint16, l locator.Locator) {
	b, _ := l.MarshalBinary()
	pl.Add(pid, b)
}

func encodeDuration(d time.Duration) []byte {
	b := make([]byte, 8)
	sec := int32(d / time.Second)
	nsec := uint32(d % time.Second)
	// RTPS Duration_t: seconds (int32) + fraction (uint32, 2^-32 s units).
	frac := uint32((uint64(nsec) << 32) / uint64(time.Second))
	binary.BigEndian.PutUint32(b[0:4], uint32(sec))
	binary.BigEndian.PutUint32(b[4:8], frac)
	return b
}

func decodeDuration(b []byte) (time.Duration, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("pdp: short buffer for duration: %d bytes", len(b))
	}
	sec := int32(binary.BigEndian.Uint32(b[0:4]))
	frac := binary.BigEndian.Uint32(b[4:8])
	nsec := (uint64(frac) * uint64(time.Second)) >> 32
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

// Encode serializes p as a ParameterList; SPDP.Announce carries it as the
// DATA submessage's inline QoS.
func Encode(p ParticipantProxyData) *cdr.ParameterList {
	pl := &cdr.ParameterList{}
	pl.Add(PidProtocolVersion, cdr.PadTo4([]byte{p.ProtocolVersionMajor, p.ProtocolVersionMinor}))
	pl.Add(PidVendorID, cdr.PadTo4([]byte{p.VendorID[0], p.VendorID[1]}))
	pl.Add(PidParticipantGUID, p.GuidPrefix[:])
	for _, l := range p.MetatrafficUnicastLocators {
		encodeLocator(pl, PidMetatrafficUnicastLocator, l)
	}
	for _, l := range p.MetatrafficMulticastLocators {
		encodeLocator(pl, PidMetatrafficMulticastLocator, l)
	}
	for _, l := range p.DefaultUnicastLocators {
		encodeLocator(pl, PidDefaultUnicastLocator, l)
	}
	pl.Add(PidParticipantLeaseDuration, encodeDuration(p.LeaseDuration))
	if len(p.UserData) > 0 {
		pl.Add(PidUserData, cdr.PadTo4(append([]byte(nil), p.UserData...)))
	}
	return pl
}

// Decode parses a ParameterList produced by Encode back into a
// ParticipantProxyData.
func Decode(pl *cdr.ParameterList) (ParticipantProxyData, error) {
	var p ParticipantProxyData
	for _, param := range pl.Params {
		switch param.PID {
		case PidProtocolVersion:
			if len(param.Value) < 2 {
				return p, fmt.Errorf("pdp: short PID_PROTOCOL_VERSION")
			}
			p.ProtocolVersionMajor = param.Value[0]
			p.ProtocolVersionMinor = param.Value[1]
		case PidVendorID:
			if len(param.Value) < 2 {
				return p, fmt.Errorf("pdp: short PID_VENDORID")
			}
			p.VendorID = cdr.VendorID{param.Value[0], param.Value[1]}
		case PidParticipantGUID:
			if len(param.Value) < guid.PrefixLen {
				return p, fmt.Errorf("pdp: short PID_PARTICIPANT_GUID")
			}
			copy(p.GuidPrefix[:], param.Value)
		case PidMetatrafficUnicastLocator:
			var l locator.Locator
			if err := l.UnmarshalBinary(param.Value); err != nil {
				return p, err
			}
			p.MetatrafficUnicastLocators = append(p.MetatrafficUnicastLocators, l)
		case PidMetatrafficMulticastLocator:
			var l locator.Locator
			if err := l.UnmarshalBinary(param.Value); err != nil {
				return p, err
			}
			p.MetatrafficMulticastLocators = append(p.MetatrafficMulticastLocators, l)
		case PidDefaultUnicastLocator:
			var l locator.Locator
			if err := l.UnmarshalBinary(param.Value); err != nil {
				return p, err
			}
			p.DefaultUnicastLocators = append(p.DefaultUnicastLocators, l)
		case PidParticipantLeaseDuration:
			d, err := decodeDuration(param.Value)
			if err != nil {
				return p, err
			}
			p.LeaseDuration = d
		case PidUserData:
			p.UserData = append([]byte(nil), param.Value...)
		}
	}
	return p, nil
}
