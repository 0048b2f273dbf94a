// Package edp implements the Endpoint Discovery Protocol: dynamic SEDP
// publication/subscription of DiscoveredWriterData/DiscoveredReaderData
// over the built-in DCPSPublication/DCPSSubscription topics, the QoS/
// topic matching rule, and a StaticEDP fallback that matches from a
// fixed configuration instead of discovered samples.
package edp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
)

// Parameter ids used to encode EndpointData. They are separate from
// rtps/pdp's participant-level PIDs (the GUID and locator ids differ, and
// there is no lease PID at endpoint level).
const (
	PidEndpointGUID  uint16 = 0x005a
	PidTopicName     uint16 = 0x0005
	PidTypeName      uint16 = 0x0007
	PidUnicastLoc    uint16 = 0x002f
	PidMulticastLoc  uint16 = 0x0030
	PidReliability   uint16 = 0x001a
	PidDurability    uint16 = 0x001d
	PidDeadline      uint16 = 0x0023
	PidLivelinessK   uint16 = 0x001b
	PidLivelinessLD  uint16 = 0x001c
	PidOwnership     uint16 = 0x001f
	PidPartition     uint16 = 0x0029
	PidTopicKind     uint16 = 0x8001 // vendor-specific range, not an OMG-assigned PID
)

// Kind distinguishes a published (writer) from a subscribed (reader)
// endpoint record.
type Kind int

const (
	KindWriter Kind = iota
	KindReader
)

// TopicKind is the §3 data-model distinction between a topic whose samples
// carry a key (multiple addressable instances) and one that doesn't (a
// single anonymous instance). It is a matching-rule conjunct in its own
// right, independent of every QoS dimension qos.Compatible evaluates.
type TopicKind int

const (
	NoKey TopicKind = iota
	WithKey
)

// EndpointData is the wire record for a single discovered (or locally
// published) writer or reader: enough to reach it and to run the QoS
// matching rule against it.
type EndpointData struct {
	GUID      guid.GUID
	Kind      Kind
	Topic     string
	Type      string
	TopicKind TopicKind
	Policy    qos.Policy
	Locators  []locator.Locator
}

func encodeLocator(pl *cdr.ParameterList, pid uint16, l locator.Locator) {
	b, _ := l.MarshalBinary()
	pl.Add(pid, b)
}

func encodeString(s string) []byte {
	b := make([]byte, 4+len(s)+1) // CDR string: length (incl NUL) + bytes + NUL
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(s)+1))
	copy(b[4:], s)
	return cdr.PadTo4(b)
}

func decodeString(b []byte) (string, error) {
	if len(b) < 4 {
		return "", fmt.Errorf("edp: short buffer for string parameter")
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	if n < 1 || 4+n > len(b) {
		return "", fmt.Errorf("edp: string length %d exceeds buffer", n)
	}
	return string(b[4 : 4+n-1]), nil
}

// Encode serializes e into a ParameterList suitable for a DATA
// submessage's serialized payload on the built-in SEDP topics. Only the
// QoS dimensions qos.Compatible evaluates ride the wire; ResourceLimits,
// Lifespan, TopicData and UserData are local-only and never leave the
// participant that owns the endpoint.
func Encode(e EndpointData) *cdr.ParameterList {
	pl := &cdr.ParameterList{}
	guidBytes := e.GUID.Bytes()
	pl.Add(PidEndpointGUID, guidBytes[:])
	pl.Add(PidTopicName, encodeString(e.Topic))
	pl.Add(PidTypeName, encodeString(e.Type))
	pl.Add(PidTopicKind, cdr.PadTo4([]byte{byte(e.TopicKind)}))
	for _, l := range e.Locators {
		encodeLocator(pl, PidUnicastLoc, l)
	}
	pl.Add(PidReliability, cdr.PadTo4([]byte{byte(e.Policy.Reliability)}))
	pl.Add(PidDurability, cdr.PadTo4([]byte{byte(e.Policy.Durability)}))
	pl.Add(PidDeadline, encodeDuration(e.Policy.Deadline.Period))
	pl.Add(PidLivelinessK, cdr.PadTo4([]byte{byte(e.Policy.Liveliness.Kind)}))
	pl.Add(PidLivelinessLD, encodeDuration(e.Policy.Liveliness.LeaseDuration))
	pl.Add(PidOwnership, cdr.PadTo4([]byte{byte(e.Policy.Ownership.Kind)}))
	for _, name := range e.Policy.Partition.Names {
		pl.Add(PidPartition, encodeString(name))
	}
	return pl
}

// Decode parses a ParameterList produced by Encode. kind must be supplied
// by the caller (the built-in topic — DCPSPublication vs
// DCPSSubscription — already tells it apart; the wire record itself
// carries no kind tag).
func Decode(pl *cdr.ParameterList, kind Kind) (EndpointData, error) {
	e := EndpointData{Kind: kind}
	for _, param := range pl.Params {
		switch param.PID {
		case PidEndpointGUID:
			if len(param.Value) < 16 {
				return e, fmt.Errorf("edp: short PID_ENDPOINT_GUID")
			}
			var b [16]byte
			copy(b[:], param.Value)
			e.GUID = guid.FromBytes(b)
		case PidTopicName:
			s, err := decodeString(param.Value)
			if err != nil {
				return e, err
			}
			e.Topic = s
		case PidTypeName:
			s, err := decodeString(param.Value)
			if err != nil {
				return e, err
			}
			e.Type = s
		case PidTopicKind:
			if len(param.Value) < 1 {
				return e, fmt.Errorf("edp: short PID_TOPIC_KIND")
			}
			e.TopicKind = TopicKind(param.Value[0])
		case PidUnicastLoc, PidMulticastLoc:
			var l locator.Locator
			if err := l.UnmarshalBinary(param.Value); err != nil {
				return e, err
			}
			e.Locators = append(e.Locators, l)
		case PidReliability:
			if len(param.Value) < 1 {
				return e, fmt.Errorf("edp: short PID_RELIABILITY")
			}
			e.Policy.Reliability = qos.Reliability(param.Value[0])
		case PidDurability:
			if len(param.Value) < 1 {
				return e, fmt.Errorf("edp: short PID_DURABILITY")
			}
			e.Policy.Durability = qos.Durability(param.Value[0])
		case PidDeadline:
			d, err := decodeDuration(param.Value)
			if err != nil {
				return e, err
			}
			e.Policy.Deadline.Period = d
		case PidLivelinessK:
			if len(param.Value) < 1 {
				return e, fmt.Errorf("edp: short PID_LIVELINESS")
			}
			e.Policy.Liveliness.Kind = qos.LivelinessKind(param.Value[0])
		case PidLivelinessLD:
			d, err := decodeDuration(param.Value)
			if err != nil {
				return e, err
			}
			e.Policy.Liveliness.LeaseDuration = d
		case PidOwnership:
			if len(param.Value) < 1 {
				return e, fmt.Errorf("edp: short PID_OWNERSHIP")
			}
			e.Policy.Ownership.Kind = qos.OwnershipKind(param.Value[0])
		case PidPartition:
			s, err := decodeString(param.Value)
			if err != nil {
				return e, err
			}
			e.Policy.Partition.Names = append(e.Policy.Partition.Names, s)
		}
	}
	return e, nil
}

func encodeDuration(d time.Duration) []byte {
	b := make([]byte, 8)
	sec := int32(d / time.Second)
	nsec := uint32(d % time.Second)
	frac := uint32((uint64(nsec) << 32) / uint64(time.Second))
	binary.BigEndian.PutUint32(b[0:4], uint32(sec))
	binary.BigEndian.PutUint32(b[4:8], frac)
	return b
}

func decodeDuration(b []byte) (time.Duration, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("edp: short buffer for duration")
	}
	sec := int32(binary.BigEndian.Uint32(b[0:4]))
	frac := binary.BigEndian.Uint32(b[4:8])
	nsec := (uint64(frac) * uint64(time.Second)) >> 32
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}
