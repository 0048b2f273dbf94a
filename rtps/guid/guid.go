// Package guid implements the RTPS identity primitives: the 16-byte GUID
// (12-byte participant prefix + 4-byte entity id), well-known entity ids
// for the built-in discovery endpoints, and generation of a network-wide
// unique participant prefix.
package guid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// PrefixLen is the byte length of a GuidPrefix.
const PrefixLen = 12

// EntityIDLen is the byte length of an EntityID.
const EntityIDLen = 4

// GuidPrefix identifies a participant; it is the first 12 bytes of every
// GUID belonging to that participant or one of its endpoints.
type GuidPrefix [PrefixLen]byte

// String renders the prefix as hex, e.g. "01a2b3c4d5e6f7a8b9c0d1e2".
func (p GuidPrefix) String() string { return hex.EncodeToString(p[:]) }

// EntityID is the 4-byte entity id completing a GUID.
type EntityID [EntityIDLen]byte

func (e EntityID) String() string { return hex.EncodeToString(e[:]) }

// GUID is the full 16-byte RTPS identifier of a participant, writer, or
// reader.
type GUID struct {
	Prefix GuidPrefix
	Entity EntityID
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix, g.Entity)
}

// Unknown is the GUID with all-zero prefix and entity, used as a sentinel
// meaning "no such peer".
var Unknown GUID

// Bytes returns the 16-byte wire form, prefix followed by entity id.
func (g GUID) Bytes() [16]byte {
	var b [16]byte
	copy(b[:PrefixLen], g.Prefix[:])
	copy(b[PrefixLen:], g.Entity[:])
	return b
}

// FromBytes reconstructs a GUID from its 16-byte wire form.
func FromBytes(b [16]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:PrefixLen])
	copy(g.Entity[:], b[PrefixLen:])
	return g
}

// entity-kind octet values (RTPS spec §9.3.1.2), used as the low byte of
// well-known EntityIDs.
const (
	kindParticipant       = 0xc1
	kindWriterWithKey     = 0xc2
	kindWriterNoKey       = 0xc3
	kindReaderNoKey       = 0xc4
	kindReaderWithKey     = 0xc7
	kindWriterGroup       = 0xc9
	kindReaderGroup       = 0xca
)

func wellKnown(entityKey [3]byte, kind byte) EntityID {
	return EntityID{entityKey[0], entityKey[1], entityKey[2], kind}
}

// Well-known entity ids for the participant itself and the built-in
// SPDP/SEDP discovery endpoints.
var (
	EntityIDParticipant = wellKnown([3]byte{0x00, 0x00, 0x01}, kindParticipant)

	EntityIDSPDPBuiltinParticipantWriter = wellKnown([3]byte{0x00, 0x01, 0x00}, kindWriterWithKey)
	EntityIDSPDPBuiltinParticipantReader = wellKnown([3]byte{0x00, 0x01, 0x00}, kindReaderWithKey)

	EntityIDSEDPBuiltinPublicationsWriter  = wellKnown([3]byte{0x00, 0x00, 0x03}, kindWriterWithKey)
	EntityIDSEDPBuiltinPublicationsReader  = wellKnown([3]byte{0x00, 0x00, 0x03}, kindReaderWithKey)
	EntityIDSEDPBuiltinSubscriptionsWriter = wellKnown([3]byte{0x00, 0x00, 0x04}, kindWriterWithKey)
	EntityIDSEDPBuiltinSubscriptionsReader = wellKnown([3]byte{0x00, 0x00, 0x04}, kindReaderWithKey)

	EntityIDUnknown EntityID
)

// NewEntityID builds a user entity id from a 3-byte entity key and a kind
// octet (NO_KEY vs WITH_KEY, writer vs reader, distinguished by the caller
// per RTPS §9.3.1.2's kind table).
func NewEntityID(entityKey [3]byte, withKey bool, isWriter bool) EntityID {
	var kind byte
	switch {
	case isWriter && withKey:
		kind = kindWriterWithKey
	case isWriter && !withKey:
		kind = kindWriterNoKey
	case !isWriter && withKey:
		kind = kindReaderWithKey
	default:
		kind = kindReaderNoKey
	}
	return wellKnown(entityKey, kind)
}

// NewPrefix generates a random GuidPrefix. The first 4 bytes are seeded
// from a UUID (so a host can derive a stable vendor-recognizable prefix if
// it chooses to), the remaining 8 bytes are process-random, which keeps
// collision probability negligible across a domain without requiring a
// centralized prefix allocator.
func NewPrefix() (GuidPrefix, error) {
	var p GuidPrefix
	id, err := uuid.NewRandom()
	if err != nil {
		return p, fmt.Errorf("guid: generating random uuid: %w", err)
	}
	idBytes := id[:]
	copy(p[:4], idBytes[:4])
	if _, err := rand.Read(p[4:]); err != nil {
		return p, fmt.Errorf("guid: reading random bytes: %w", err)
	}
	return p, nil
}

// EntityCounter allocates sequential, distinct 3-byte entity keys for user
// endpoints created by one participant, avoiding collisions between
// writers/readers created in the same process.
type EntityCounter struct {
	next uint32
}

// Next returns the next 3-byte entity key (the low 3 bytes of an internal
// monotonic counter).
func (c *EntityCounter) Next() [3]byte {
	c.next++
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], c.next)
	return [3]byte{b[1], b[2], b[3]}
}
