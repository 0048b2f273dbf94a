// Package receiver implements the MessageReceiver: the per-participant
// state machine that walks one incoming RTPS datagram's submessages,
// tracks the running destination/source/timestamp context those
// submessages establish, and dispatches endpoint-bound submessages to the
// matching local reader or writer.
package receiver

import (
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// LocalWriter is the subset of a writer endpoint the receiver needs to
// deliver an ACKNACK to. *rtps/writer.StatefulWriter satisfies this.
type LocalWriter interface {
	OnAckNack(reader guid.GUID, ack cdr.AckNack)
}

// LocalReader is the subset of a reader endpoint the receiver needs to
// deliver DATA, HEARTBEAT, and GAP to. *rtps/reader.StatefulReader
// satisfies this.
type LocalReader interface {
	OnData(writer guid.GUID, sn seqnum.SequenceNumber, payload []byte)
	OnHeartbeat(writer guid.GUID, hb cdr.Heartbeat)
	OnGap(writer guid.GUID, g cdr.Gap)
}

// Dispatcher resolves a local endpoint by its entity id within the
// receiver's participant. Implementations typically back this with a
// Participant's endpoint registry.
type Dispatcher interface {
	LocalWriterByEntity(entity guid.EntityID) (LocalWriter, bool)
	LocalReaderByEntity(entity guid.EntityID) (LocalReader, bool)
}

// Stats counts malformed-packet and unknown-submessage discards, for the
// participant's introspection surface.
type Stats struct {
	MalformedPackets   int64
	UnknownSubmessages int64
}

// MessageReceiver parses and dispatches datagrams addressed to one
// participant, identified by ParticipantPrefix.
type MessageReceiver struct {
	ParticipantPrefix guid.GuidPrefix
	Dispatch          Dispatcher
	Stats             Stats
}

// New constructs a MessageReceiver bound to a participant's dispatcher.
func New(participantPrefix guid.GuidPrefix, dispatch Dispatcher) *MessageReceiver {
	return &MessageReceiver{ParticipantPrefix: participantPrefix, Dispatch: dispatch}
}

// context carries the running per-message state a submessage sequence
// accumulates, per RTPS 8.3.4: the source and destination guid prefixes
// (initially the message header's prefix and unset, respectively) and the
// most recently seen timestamp.
type context struct {
	srcPrefix     guid.GuidPrefix
	dstPrefix     guid.GuidPrefix
	haveDst       bool
	timestamp     time.Time
	haveTimestamp bool
}

// Receive parses one datagram and dispatches its submessages. An unknown
// non-vendor-specific submessage discards the rest of the message per RTPS
// framing rules, but every submessage parsed before it (including when the
// message header itself is fine but a later submessage is not) is still
// dispatched; the malformed condition is counted and returned afterward, so
// a single bad datagram never takes down the receive loop.
func (r *MessageReceiver) Receive(buf []byte) error {
	// DecodeMessage stops at the first unknown non-vendor-specific
	// submessage and returns an error, but msg still carries every
	// submessage parsed before that point (empty if the message header
	// itself was malformed); dispatch those before surfacing the error,
	// rather than discarding a datagram's already-valid prefix.
	msg, decodeErr := cdr.DecodeMessage(buf, cdr.KnownSubmessageID)

	ctx := context{srcPrefix: msg.Header.GuidPrefix}
	for _, sm := range msg.Submessages {
		order := sm.Header.ByteOrder()
		switch sm.Header.ID {
		case cdr.SubmsgINFO_DST:
			d, err := cdr.DecodeInfoDst(sm.Body)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			ctx.dstPrefix = d.GuidPrefix
			ctx.haveDst = true

		case cdr.SubmsgINFO_SRC:
			s, err := cdr.DecodeInfoSrc(sm.Body)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			ctx.srcPrefix = s.GuidPrefix

		case cdr.SubmsgINFO_TS:
			ts, err := cdr.DecodeInfoTS(sm.Body, sm.Header.Flags, order)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			if ts.Invalidate {
				ctx.haveTimestamp = false
			} else {
				ctx.timestamp = time.Unix(int64(ts.Seconds), int64(ts.Fraction))
				ctx.haveTimestamp = true
			}

		case cdr.SubmsgDATA:
			if !r.addressedToUs(ctx) {
				continue
			}
			d, err := cdr.DecodeData(sm.Body, sm.Header.Flags, order)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			r.dispatchData(ctx, d)

		case cdr.SubmsgHEARTBEAT:
			if !r.addressedToUs(ctx) {
				continue
			}
			hb, err := cdr.DecodeHeartbeat(sm.Body, sm.Header.Flags, order)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			r.dispatchHeartbeat(ctx, hb)

		case cdr.SubmsgACKNACK:
			if !r.addressedToUs(ctx) {
				continue
			}
			a, err := cdr.DecodeAckNack(sm.Body, sm.Header.Flags, order)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			r.dispatchAckNack(ctx, a)

		case cdr.SubmsgGAP:
			if !r.addressedToUs(ctx) {
				continue
			}
			g, err := cdr.DecodeGap(sm.Body, sm.Header.Flags, order)
			if err != nil {
				r.Stats.MalformedPackets++
				return rtpserrors.New(rtpserrors.MalformedPacket, err.Error())
			}
			r.dispatchGap(ctx, g)

		case cdr.SubmsgPAD, cdr.SubmsgINFO_REPLY, cdr.SubmsgNACK_FRAG, cdr.SubmsgHEARTBEAT_F, cdr.SubmsgDATA_FRAG:
			// Recognized but not acted on by this implementation.

		default:
			r.Stats.UnknownSubmessages++
		}
	}

	if decodeErr != nil {
		r.Stats.MalformedPackets++
		return rtpserrors.New(rtpserrors.MalformedPacket, decodeErr.Error())
	}
	return nil
}

// addressedToUs reports whether the running destination context names
// this participant or is still unset (pre-INFO_DST submessages, e.g.
// multicast discovery traffic, are addressed to every participant).
func (r *MessageReceiver) addressedToUs(ctx context) bool {
	return !ctx.haveDst || ctx.dstPrefix == r.ParticipantPrefix
}

func (r *MessageReceiver) dispatchData(ctx context, d cdr.Data) {
	reader, ok := r.Dispatch.LocalReaderByEntity(d.ReaderID)
	if !ok {
		return
	}
	writer := guid.GUID{Prefix: ctx.srcPrefix, Entity: d.WriterID}
	reader.OnData(writer, d.WriterSN, d.SerializedPayload)
}

func (r *MessageReceiver) dispatchHeartbeat(ctx context, hb cdr.Heartbeat) {
	reader, ok := r.Dispatch.LocalReaderByEntity(hb.ReaderID)
	if !ok {
		return
	}
	writer := guid.GUID{Prefix: ctx.srcPrefix, Entity: hb.WriterID}
	reader.OnHeartbeat(writer, hb)
}

func (r *MessageReceiver) dispatchGap(ctx context, g cdr.Gap) {
	reader, ok := r.Dispatch.LocalReaderByEntity(g.ReaderID)
	if !ok {
		return
	}
	writer := guid.GUID{Prefix: ctx.srcPrefix, Entity: g.WriterID}
	reader.OnGap(writer, g)
}

func (r *MessageReceiver) dispatchAckNack(ctx context, a cdr.AckNack) {
	writer, ok := r.Dispatch.LocalWriterByEntity(a.WriterID)
	if !ok {
		return
	}
	reader := guid.GUID{Prefix: ctx.srcPrefix, Entity: a.ReaderID}
	writer.OnAckNack(reader, a)
}
