// Package locator implements the RTPS Locator addressing primitive and the
// well-known port/address derivation formulas used by SPDP/SEDP and
// default user-traffic locators.
package locator

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Kind identifies the transport family a Locator routes over.
type Kind int32

const (
	KindInvalid Kind = 0
	KindUDPv4   Kind = 1
	KindUDPv6   Kind = 2
	KindTCPv4   Kind = 4
	KindTCPv6   Kind = 8
	KindSHM     Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "UDPv4"
	case KindUDPv6:
		return "UDPv6"
	case KindTCPv4:
		return "TCPv4"
	case KindTCPv6:
		return "TCPv6"
	case KindSHM:
		return "SHM"
	default:
		return "INVALID"
	}
}

// Locator is a routable endpoint: a transport kind, a port, and a 16-byte
// address (IPv4 addresses occupy the low 4 bytes; IPv6 addresses occupy
// all 16). Mirrors the teacher's Proxy/Public TCPAddress shape, which is
// the same (kind-implicit, address, port) triple encoded for the wire.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// String renders the locator as "kind://host:port".
func (l Locator) String() string {
	return fmt.Sprintf("%s://%s:%d", l.Kind, l.IP(), l.Port)
}

// IP returns the locator's address as a net.IP, unwrapping the IPv4-in-
// IPv6 mapped form for UDPv4/TCPv4 locators.
func (l Locator) IP() net.IP {
	if l.Kind == KindUDPv4 || l.Kind == KindTCPv4 {
		return net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
	}
	return net.IP(l.Address[:])
}

// UDPv4 builds a UDPv4 locator from a dotted-quad/hostname-resolved IP and
// a port.
func UDPv4(ip net.IP, port uint32) (Locator, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Locator{}, fmt.Errorf("locator: %s is not an IPv4 address", ip)
	}
	var l Locator
	l.Kind = KindUDPv4
	l.Port = port
	copy(l.Address[12:], v4)
	return l, nil
}

// UDPv6 builds a UDPv6 locator.
func UDPv6(ip net.IP, port uint32) (Locator, error) {
	v6 := ip.To16()
	if v6 == nil {
		return Locator{}, fmt.Errorf("locator: %s is not an IPv6 address", ip)
	}
	var l Locator
	l.Kind = KindUDPv6
	l.Port = port
	copy(l.Address[:], v6)
	return l, nil
}

// MarshalBinary encodes the locator in RTPS wire form: kind (4B, signed,
// big-endian regardless of message endianness per RTPS §9.4.5.11), port
// (4B), address (16B).
func (l Locator) MarshalBinary() ([]byte, error) {
	b := make([]byte, 24)
	binary.BigEndian.PutUint32(b[0:4], uint32(l.Kind))
	binary.BigEndian.PutUint32(b[4:8], l.Port)
	copy(b[8:24], l.Address[:])
	return b, nil
}

// UnmarshalBinary decodes a 24-byte wire-form locator.
func (l *Locator) UnmarshalBinary(b []byte) error {
	if len(b) < 24 {
		return fmt.Errorf("locator: short buffer: %d bytes", len(b))
	}
	l.Kind = Kind(binary.BigEndian.Uint32(b[0:4]))
	l.Port = binary.BigEndian.Uint32(b[4:8])
	copy(l.Address[:], b[8:24])
	return nil
}

// Well-known port-derivation constants.
const (
	PB = 7400 // port base
	DG = 250  // domain gain
	PG = 2    // participant gain
	d0 = 0    // SPDP multicast offset
	d1 = 10   // metatraffic unicast offset
	d2 = 11   // default user-data offset
	d3 = 1    // SEDP-carried metatraffic multicast offset (unused by default profile)
)

// SPDPMulticastPort returns the well-known SPDP multicast port for a
// domain id: PB + DG*domainID + d0.
func SPDPMulticastPort(domainID int) uint32 {
	return uint32(PB + DG*domainID + d0)
}

// MetatrafficUnicastPort returns PB + DG*domainID + d1 + PG*participantID.
func MetatrafficUnicastPort(domainID, participantID int) uint32 {
	return uint32(PB + DG*domainID + d1 + PG*participantID)
}

// DefaultUnicastPort returns PB + DG*domainID + d2 + PG*participantID, the
// default user-data unicast port.
func DefaultUnicastPort(domainID, participantID int) uint32 {
	return uint32(PB + DG*domainID + d2 + PG*participantID)
}

// SPDPMulticastAddress is the fixed SPDP multicast group address,
// 239.255.0.1, for all domains.
var SPDPMulticastAddress = net.IPv4(239, 255, 0, 1)

// SPDPMulticastLocator returns the well-known SPDP multicast locator for a
// domain: 239.255.0.1 : PB+DG*d.
func SPDPMulticastLocator(domainID int) Locator {
	l, _ := UDPv4(SPDPMulticastAddress, SPDPMulticastPort(domainID))
	return l
}
