// Package rtpsversion reports this build's version and judges wire
// compatibility against a remote participant's advertised protocol
// version and vendor id, the way the teacher's pkg/version judges a
// running release against the latest published channel version.
package rtpsversion

import (
	"fmt"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
)

// Version is stamped at build time via -ldflags "-X
// github.com/rtpsmesh/rtpsd/pkg/rtpsversion.Version=...". A source
// checkout that skips that build step reports "dev".
var Version = "dev"

// knownVendors maps a handful of publicly documented RTPS vendor ids to
// a human name, purely for operator-facing logging; an unrecognized id
// is not an error; RTPS is an open wire protocol.
var knownVendors = map[cdr.VendorID]string{
	{0x01, 0x01}: "RTI Connext",
	{0x01, 0x02}: "PrismTech OpenSplice",
	{0x01, 0x0f}: "eProsima Fast DDS",
	{0x01, 0x10}: "GurumNetworks GurumDDS",
	{0x01, 0x14}: "eProsima Fast RTPS",
	cdr.OurVendorID: "rtpsmesh",
}

// VendorName renders a VendorID as a human name when recognized, and as
// its raw hex pair otherwise.
func VendorName(v cdr.VendorID) string {
	if name, ok := knownVendors[v]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x 0x%02x", v[0], v[1])
}

// IncompatibleVersionError reports a remote participant whose major
// protocol version this implementation cannot safely speak to.
type IncompatibleVersionError struct {
	RemoteMajor, RemoteMinor byte
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("remote protocol version %d.%d is incompatible with %d.%d",
		e.RemoteMajor, e.RemoteMinor, cdr.ProtocolVersion.Major, cdr.ProtocolVersion.Minor)
}

// CheckCompatible reports whether a remote participant's advertised
// protocol version can interoperate with this implementation. RTPS
// requires only major-version equality; a lower minor is an older peer
// this implementation can still speak to, and a higher minor is a newer
// peer that is expected to remain wire-compatible with this major line.
func CheckCompatible(remoteMajor, remoteMinor byte) error {
	if remoteMajor != cdr.ProtocolVersion.Major {
		return &IncompatibleVersionError{RemoteMajor: remoteMajor, RemoteMinor: remoteMinor}
	}
	return nil
}
