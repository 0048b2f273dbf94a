package pdp

import (
	"encoding/binary"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/scheduler"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// Sender is the subset of a transport SPDP needs to multicast its
// announcement.
type Sender interface {
	Send(dst locator.Locator, data []byte) error
}

// Listener receives participant discovery and loss notifications.
type Listener interface {
	OnParticipantDiscovered(ParticipantProxyData)
	OnParticipantLost(prefix guid.GuidPrefix)
}

// DefaultAnnouncePeriod is the conventional SPDP resend interval.
const DefaultAnnouncePeriod = 5 * time.Second

// SPDP owns this participant's announcement loop and the table of
// discovered remote participants, evicting entries whose lease has
// lapsed.
type SPDP struct {
	mu sync.Mutex

	Self             ParticipantProxyData
	MulticastLocator locator.Locator
	Transport        Sender
	Scheduler        *scheduler.Scheduler
	Listener         Listener
	AnnouncePeriod   time.Duration

	// InitialPeers are additional unicast metatraffic locators to
	// announce directly to on every cycle, for networks where multicast
	// SPDP discovery doesn't reach (configured via a participant's
	// initialPeers list and grown at runtime by AddInitialPeer).
	InitialPeers []locator.Locator

	peers        *gocache.Cache
	announceHdl  scheduler.Handle
	hbCount      int32
	closed       bool
}

// New constructs an SPDP instance. self.LeaseDuration is this
// participant's own advertised lease. A peer whose announcement carries no
// lease is kept for 3 * DefaultAnnouncePeriod (it always will carry one
// in practice; the fallback only matters for malformed peers).
func New(self ParticipantProxyData, multicastLocator locator.Locator, tr Sender, sched *scheduler.Scheduler, period time.Duration) *SPDP {
	if period <= 0 {
		period = DefaultAnnouncePeriod
	}
	s := &SPDP{
		Self:             self,
		MulticastLocator: multicastLocator,
		Transport:        tr,
		Scheduler:        sched,
		AnnouncePeriod:   period,
		peers:            gocache.New(gocache.NoExpiration, time.Second),
	}
	s.peers.OnEvicted(func(key string, value interface{}) {
		p, ok := value.(ParticipantProxyData)
		if !ok {
			return
		}
		s.mu.Lock()
		listener := s.Listener
		s.mu.Unlock()
		if listener != nil {
			listener.OnParticipantLost(p.GuidPrefix)
		}
	})
	return s
}

// Start begins the periodic announce loop.
func (s *SPDP) Start() {
	s.scheduleAnnounce()
}

func (s *SPDP) scheduleAnnounce() {
	if s.Scheduler == nil {
		return
	}
	s.announceHdl = s.Scheduler.Schedule(s.AnnouncePeriod, func() {
		_ = s.Announce()
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.scheduleAnnounce()
		}
	})
}

// Announce sends this participant's ParticipantProxyData as a DATA
// submessage to MulticastLocator.
func (s *SPDP) Announce() error {
	s.mu.Lock()
	self := s.Self
	hbCount := s.hbCount
	s.hbCount++
	s.mu.Unlock()

	pl := Encode(self)
	body, flags := cdr.EncodeData(cdr.Data{
		ReaderID:  guid.EntityIDSPDPBuiltinParticipantReader,
		WriterID:  guid.EntityIDSPDPBuiltinParticipantWriter,
		WriterSN:  seqnum.SequenceNumber(hbCount) + 1,
		InlineQos: pl,
	}, binary.LittleEndian, true)

	msg := cdr.Message{
		Header: cdr.MessageHeader{
			VersionMajor: cdr.ProtocolVersion.Major,
			VersionMinor: cdr.ProtocolVersion.Minor,
			Vendor:       cdr.OurVendorID,
			GuidPrefix:   self.GuidPrefix,
		},
		Submessages: []cdr.RawSubmessage{
			{Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags}, Body: body},
		},
	}
	if s.Transport == nil {
		return nil
	}
	encoded := msg.Encode()
	if err := s.Transport.Send(s.MulticastLocator, encoded); err != nil {
		return err
	}
	s.mu.Lock()
	peers := append([]locator.Locator(nil), s.InitialPeers...)
	s.mu.Unlock()
	for _, p := range peers {
		_ = s.Transport.Send(p, encoded)
	}
	return nil
}

// AddInitialPeer registers an additional unicast locator to announce to,
// without waiting for the next config reload to rebuild the whole SPDP
// instance; config.Watcher.OnPeersAdded calls this directly.
func (s *SPDP) AddInitialPeer(l locator.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.InitialPeers {
		if p == l {
			return
		}
	}
	s.InitialPeers = append(s.InitialPeers, l)
}

// OnParticipantData processes a received ParticipantProxyData: a first
// sighting of prefix notifies Listener.OnParticipantDiscovered and starts
// its lease timer; a refresh just resets the lease.
func (s *SPDP) OnParticipantData(p ParticipantProxyData) {
	if p.GuidPrefix == s.Self.GuidPrefix {
		return // our own announcement, looped back by multicast
	}
	key := p.GuidPrefix.String()
	_, existed := s.peers.Get(key)

	lease := p.LeaseDuration
	if lease <= 0 {
		lease = DefaultAnnouncePeriod * 3
	}
	s.peers.Set(key, p, lease)

	if !existed {
		s.mu.Lock()
		listener := s.Listener
		s.mu.Unlock()
		if listener != nil {
			listener.OnParticipantDiscovered(p)
		}
	}
}

// Peer returns the discovery record for prefix, if still within its
// lease.
func (s *SPDP) Peer(prefix guid.GuidPrefix) (ParticipantProxyData, bool) {
	v, ok := s.peers.Get(prefix.String())
	if !ok {
		return ParticipantProxyData{}, false
	}
	return v.(ParticipantProxyData), true
}

// Peers returns every currently live remote participant.
func (s *SPDP) Peers() []ParticipantProxyData {
	items := s.peers.Items()
	out := make([]ParticipantProxyData, 0, len(items))
	for _, item := range items {
		if p, ok := item.Object.(ParticipantProxyData); ok {
			out = append(out, p)
		}
	}
	return out
}

// ExpirePeer forcibly removes a peer's lease, as if it had lapsed, which
// notifies Listener.OnParticipantLost. rtps/participant does not call it;
// there a peer is only dropped when its lease lapses.
func (s *SPDP) ExpirePeer(prefix guid.GuidPrefix) {
	s.peers.Delete(prefix.String())
}

// Close stops the announce loop.
func (s *SPDP) Close() {
	s.mu.Lock()
	s.closed = true
	if s.Scheduler != nil {
		s.Scheduler.Cancel(s.announceHdl)
	}
	s.mu.Unlock()
}
