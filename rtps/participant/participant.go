// Package participant implements the root owning object: a domain
// participant wires together the transports, the timed event scheduler,
// PDP/EDP discovery, and the user-created writers/readers into one
// addressable RTPS peer. It implements receiver.Dispatcher so a single
// MessageReceiver per transport can route incoming traffic to the right
// local endpoint.
package participant

import (
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/edp"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/pdp"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/reader"
	"github.com/rtpsmesh/rtpsd/rtps/receiver"
	"github.com/rtpsmesh/rtpsd/rtps/scheduler"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
	"github.com/rtpsmesh/rtpsd/rtps/transport"
	"github.com/rtpsmesh/rtpsd/rtps/writer"
)

var loopback = net.IPv4(127, 0, 0, 1)

// builtinPolicy is the QoS every built-in SPDP/SEDP endpoint carries:
// RELIABLE, KEEP_LAST(1) is too lossy for discovery data that never
// repeats, so KEEP_ALL with no resource limit instead.
func builtinPolicy() qos.Policy {
	p := qos.Default()
	p.Reliability = qos.Reliable
	p.Durability = qos.TransientLocal
	p.History = qos.History{Kind: qos.KeepAll}
	return p
}

// Listener groups the participant-level callbacks an embedding
// application can install, generalizing the original's ParticipantListener/
// WriterListener/ReaderListener header hierarchy into one tagged-callback
// record.
type Listener struct {
	OnParticipantDiscovered func(prefix guid.GuidPrefix)
	OnParticipantLost       func(prefix guid.GuidPrefix)
	OnEndpointsMatched      func(writerGUID, readerGUID guid.GUID)
	OnEndpointsUnmatched    func(writerGUID, readerGUID guid.GUID)

	// OnOfferedIncompatibleQoS and OnRequestedIncompatibleQoS fire on every
	// failed match attempt that gets as far as a QoS-dimension check (a
	// topic/type/topic-kind mismatch never reaches them). Both fire for the
	// same failed attempt, one per GUID, mirroring on_offered_incompatible_qos/
	// on_requested_incompatible_qos.
	OnOfferedIncompatibleQoS   func(writerGUID guid.GUID, reason qos.Incompatibility)
	OnRequestedIncompatibleQoS func(readerGUID guid.GUID, reason qos.Incompatibility)

	// OnLivelinessChanged fires for a local endpoint when a matched peer's
	// participant lease expires, with aliveChange always -1 (a peer lease
	// can only go from alive to not-alive here; reappearing is a fresh
	// OnParticipantDiscovered/match, not a liveliness recovery).
	OnLivelinessChanged func(local, remote guid.GUID, aliveChange int)
}

// Config bounds a Participant's domain placement and transport config.
type Config struct {
	DomainID      int
	ParticipantID int
	AnnounceName  string // carried as UserData in the SPDP announcement
	InitialPeers  []locator.Locator
}

// Participant owns every Writer, Reader, the TimedEventScheduler, the
// transports, and the discovery endpoints it creates; none of them
// outlive it. Lock order below an operation touching more than one: a
// Participant's own mutex, then an endpoint's, then the shared
// PayloadPool's — never the reverse.
type Participant struct {
	mu sync.Mutex

	Prefix guid.GuidPrefix
	Config Config
	Pool   *pool.Pool

	scheduler *scheduler.Scheduler

	metaTransport    transport.Transport
	defaultTransport transport.Transport
	metaReceiver     *receiver.MessageReceiver
	defaultReceiver  *receiver.MessageReceiver

	pdp *pdp.SPDP
	sedp *edp.SEDP

	sedpPubWriter *writer.StatefulWriter
	sedpSubWriter *writer.StatefulWriter
	sedpPubReader *reader.StatefulReader
	sedpSubReader *reader.StatefulReader

	entities  guid.EntityCounter
	writers   map[guid.EntityID]interface{} // *writer.StatefulWriter or *writer.StatelessWriter
	readers   map[guid.EntityID]interface{} // *reader.StatefulReader or *reader.StatelessReader
	dispatchW map[guid.EntityID]receiver.LocalWriter
	dispatchR map[guid.EntityID]receiver.LocalReader

	Listener Listener
	closed   bool
}

// New builds and starts a Participant: it opens its metatraffic and
// default transports, starts the scheduler, constructs the four built-in
// SEDP endpoints, starts SPDP announcing, and launches the receive loops.
func New(cfg Config) (*Participant, error) {
	prefix, err := guid.NewPrefix()
	if err != nil {
		return nil, fmt.Errorf("participant: %w", err)
	}

	metaLoc := locator.SPDPMulticastLocator(cfg.DomainID)
	metaTr, err := transport.ListenMulticast(locator.KindUDPv4, metaLoc.IP(), metaLoc.Port)
	if err != nil {
		return nil, err
	}
	defaultTr, err := transport.ListenUnicast(locator.KindUDPv4, locator.DefaultUnicastPort(cfg.DomainID, cfg.ParticipantID))
	if err != nil {
		metaTr.Close()
		return nil, err
	}

	p := &Participant{
		Prefix:           prefix,
		Config:           cfg,
		Pool:             pool.New(0),
		scheduler:        scheduler.New(),
		metaTransport:    metaTr,
		defaultTransport: defaultTr,
		writers:          make(map[guid.EntityID]interface{}),
		readers:          make(map[guid.EntityID]interface{}),
		dispatchW:        make(map[guid.EntityID]receiver.LocalWriter),
		dispatchR:        make(map[guid.EntityID]receiver.LocalReader),
	}
	p.metaReceiver = receiver.New(prefix, p)
	p.defaultReceiver = receiver.New(prefix, p)
	p.scheduler.Start()

	p.buildBuiltinSEDP()
	p.buildPDP()

	go p.recvLoop(p.metaTransport, p.metaReceiver)
	go p.recvLoop(p.defaultTransport, p.defaultReceiver)

	p.pdp.Start()
	return p, nil
}

func (p *Participant) buildBuiltinSEDP() {
	newHistory := func() *cache.HistoryCache { return cache.New(qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, 0) }

	pubWriterGUID := guid.GUID{Prefix: p.Prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter}
	p.sedpPubWriter = writer.New(pubWriterGUID, "DCPSPublication", "DiscoveredWriterData", builtinPolicy(),
		newHistory(), p.Pool, p.metaTransport, p.scheduler, nil, writer.DefaultConfig())

	subWriterGUID := guid.GUID{Prefix: p.Prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsWriter}
	p.sedpSubWriter = writer.New(subWriterGUID, "DCPSSubscription", "DiscoveredReaderData", builtinPolicy(),
		newHistory(), p.Pool, p.metaTransport, p.scheduler, nil, writer.DefaultConfig())

	pubReaderGUID := guid.GUID{Prefix: p.Prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsReader}
	p.sedpPubReader = reader.New(pubReaderGUID, "DCPSPublication", "DiscoveredWriterData", builtinPolicy(),
		newHistory(), p.Pool, p.metaTransport, p.scheduler, reader.DefaultConfig())

	subReaderGUID := guid.GUID{Prefix: p.Prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
	p.sedpSubReader = reader.New(subReaderGUID, "DCPSSubscription", "DiscoveredReaderData", builtinPolicy(),
		newHistory(), p.Pool, p.metaTransport, p.scheduler, reader.DefaultConfig())

	p.dispatchW[pubWriterGUID.Entity] = p.sedpPubWriter
	p.dispatchW[subWriterGUID.Entity] = p.sedpSubWriter
	p.dispatchR[pubReaderGUID.Entity] = p.sedpPubReader
	p.dispatchR[subReaderGUID.Entity] = p.sedpSubReader

	p.sedp = edp.New(p.sedpPubWriter, p.sedpSubWriter, p.sedpPubReader, p.sedpSubReader)
	p.sedp.Listener = (*edpListener)(p)
}

func (p *Participant) buildPDP() {
	self := pdp.ParticipantProxyData{
		GuidPrefix:    p.Prefix,
		VendorID:      cdr.OurVendorID,
		LeaseDuration: pdp.DefaultAnnouncePeriod * 3,
		UserData:      []byte(p.Config.AnnounceName),
	}
	if l, err := locator.UDPv4(loopback, locator.DefaultUnicastPort(p.Config.DomainID, p.Config.ParticipantID)); err == nil {
		self.DefaultUnicastLocators = []locator.Locator{l}
	}
	if l, err := locator.UDPv4(loopback, locator.MetatrafficUnicastPort(p.Config.DomainID, p.Config.ParticipantID)); err == nil {
		self.MetatrafficUnicastLocators = []locator.Locator{l}
	}
	self.ProtocolVersionMajor = cdr.ProtocolVersion.Major
	self.ProtocolVersionMinor = cdr.ProtocolVersion.Minor

	metaLoc := locator.SPDPMulticastLocator(p.Config.DomainID)
	p.pdp = pdp.New(self, metaLoc, p.metaTransport, p.scheduler, pdp.DefaultAnnouncePeriod)
	p.pdp.InitialPeers = append([]locator.Locator(nil), p.Config.InitialPeers...)
	p.pdp.Listener = (*pdpListener)(p)
}

// AddInitialPeer registers an additional unicast SPDP peer at runtime,
// e.g. from a config.Watcher.OnPeersAdded callback.
func (p *Participant) AddInitialPeer(l locator.Locator) {
	p.pdp.AddInitialPeer(l)
}

func (p *Participant) recvLoop(tr transport.Transport, mr *receiver.MessageReceiver) {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := tr.Receive(buf)
		if err != nil {
			return // transport closed
		}
		_ = mr.Receive(buf[:n])
	}
}

// pdpListener adapts PDP's notifications to the Participant's own SEDP
// built-in endpoint cross-matching and the embedding application's
// Listener.
type pdpListener Participant

func (l *pdpListener) OnParticipantDiscovered(peer pdp.ParticipantProxyData) {
	p := (*Participant)(l)
	log.WithFields(log.Fields{"self": p.Prefix, "peer": peer.GuidPrefix}).Info("participant discovered")
	p.matchBuiltinSEDP(peer)
	if p.Listener.OnParticipantDiscovered != nil {
		p.Listener.OnParticipantDiscovered(peer.GuidPrefix)
	}
}

func (l *pdpListener) OnParticipantLost(prefix guid.GuidPrefix) {
	p := (*Participant)(l)
	log.WithFields(log.Fields{"self": p.Prefix, "peer": prefix}).Warn("participant lease expired")
	p.unmatchBuiltinSEDP(prefix)
	if p.sedp != nil {
		for _, m := range p.sedp.RemovePeer(prefix) {
			if p.Listener.OnLivelinessChanged == nil {
				continue
			}
			if m.Writer.Prefix == prefix {
				p.Listener.OnLivelinessChanged(m.Reader, m.Writer, -1)
			} else {
				p.Listener.OnLivelinessChanged(m.Writer, m.Reader, -1)
			}
		}
	}
	if p.Listener.OnParticipantLost != nil {
		p.Listener.OnParticipantLost(prefix)
	}
}

func (p *Participant) matchBuiltinSEDP(peer pdp.ParticipantProxyData) {
	locs := peer.MetatrafficUnicastLocators
	pubReader := guid.GUID{Prefix: peer.GuidPrefix, Entity: guid.EntityIDSEDPBuiltinPublicationsReader}
	subReader := guid.GUID{Prefix: peer.GuidPrefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
	pubWriter := guid.GUID{Prefix: peer.GuidPrefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter}
	subWriter := guid.GUID{Prefix: peer.GuidPrefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsWriter}

	p.sedpPubWriter.MatchReader(pubReader, locs, false, true)
	p.sedpSubWriter.MatchReader(subReader, locs, false, true)
	p.sedpPubReader.MatchWriter(pubWriter, locs)
	p.sedpSubReader.MatchWriter(subWriter, locs)
}

func (p *Participant) unmatchBuiltinSEDP(prefix guid.GuidPrefix) {
	pubReader := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsReader}
	subReader := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}
	pubWriter := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter}
	subWriter := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsWriter}

	p.sedpPubWriter.UnmatchReader(pubReader)
	p.sedpSubWriter.UnmatchReader(subReader)
	p.sedpPubReader.UnmatchWriter(pubWriter)
	p.sedpSubReader.UnmatchWriter(subWriter)
}

// edpListener adapts SEDP's user-endpoint match/unmatch notifications:
// whichever side of the pair is local to this Participant gets the
// remote side's proxy installed on its concrete writer/reader. EDP itself
// only deals in generic EndpointData since StatefulWriter.MatchReader and
// StatelessWriter.MatchReader (and the reader-side equivalents) take
// different arguments and return different things; this is the one place
// that knows which concrete type backs a given GUID and can call the
// right one.
type edpListener Participant

func (l *edpListener) OnEndpointsMatched(w, r edp.EndpointData) {
	p := (*Participant)(l)
	p.mu.Lock()
	localWriter := p.writers[w.GUID.Entity]
	localReader := p.readers[r.GUID.Entity]
	p.mu.Unlock()

	isReliable := r.Policy.Reliability == qos.Reliable
	switch lw := localWriter.(type) {
	case *writer.StatefulWriter:
		lw.MatchReader(r.GUID, r.Locators, false, isReliable)
	case *writer.StatelessWriter:
		lw.MatchReader(r.GUID, r.Locators)
	}
	switch lr := localReader.(type) {
	case *reader.StatefulReader:
		lr.MatchWriter(w.GUID, w.Locators)
	case *reader.StatelessReader:
		lr.MatchWriter(w.GUID)
	}

	log.WithFields(log.Fields{"writer": w.GUID, "reader": r.GUID, "topic": w.Topic}).Info("endpoints matched")
	if p.Listener.OnEndpointsMatched != nil {
		p.Listener.OnEndpointsMatched(w.GUID, r.GUID)
	}
}

// OnIncompatibleQoS fans a failed QoS match out to both sides: the writer's
// GUID via OnOfferedIncompatibleQoS, the reader's via
// OnRequestedIncompatibleQoS. Either side may belong to a remote
// participant; the embedding application filters by GUID if it only cares
// about its own endpoints.
func (l *edpListener) OnIncompatibleQoS(w, r edp.EndpointData, reason qos.Incompatibility) {
	p := (*Participant)(l)
	log.WithFields(log.Fields{"writer": w.GUID, "reader": r.GUID, "topic": w.Topic, "reason": reason}).Warn("incompatible qos")
	if p.Listener.OnOfferedIncompatibleQoS != nil {
		p.Listener.OnOfferedIncompatibleQoS(w.GUID, reason)
	}
	if p.Listener.OnRequestedIncompatibleQoS != nil {
		p.Listener.OnRequestedIncompatibleQoS(r.GUID, reason)
	}
}

func (l *edpListener) OnEndpointsUnmatched(w, r guid.GUID) {
	p := (*Participant)(l)
	p.mu.Lock()
	localWriter := p.writers[w.Entity]
	localReader := p.readers[r.Entity]
	p.mu.Unlock()

	switch lw := localWriter.(type) {
	case *writer.StatefulWriter:
		lw.UnmatchReader(r)
	case *writer.StatelessWriter:
		lw.UnmatchReader(r)
	}
	switch lr := localReader.(type) {
	case *reader.StatefulReader:
		lr.UnmatchWriter(w)
	case *reader.StatelessReader:
		lr.UnmatchWriter(w)
	}

	if p.Listener.OnEndpointsUnmatched != nil {
		p.Listener.OnEndpointsUnmatched(w, r)
	}
}

// LocalWriterByEntity implements receiver.Dispatcher.
func (p *Participant) LocalWriterByEntity(entity guid.EntityID) (receiver.LocalWriter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.dispatchW[entity]
	return w, ok
}

// LocalReaderByEntity implements receiver.Dispatcher.
func (p *Participant) LocalReaderByEntity(entity guid.EntityID) (receiver.LocalReader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.dispatchR[entity]
	return r, ok
}

// statelessReaderAdapter satisfies receiver.LocalReader for a
// StatelessReader, which only ever needs OnData: best-effort readers
// never send ACKNACK so no HEARTBEAT or GAP should reach them, but the
// dispatcher interface requires all three.
type statelessReaderAdapter struct {
	*reader.StatelessReader
}

func (statelessReaderAdapter) OnHeartbeat(guid.GUID, cdr.Heartbeat) {}
func (statelessReaderAdapter) OnGap(guid.GUID, cdr.Gap)              {}

// Writer is a handle to a user-created writer endpoint, hiding whether
// it is backed by a StatefulWriter or a StatelessWriter.
type Writer struct {
	GUID guid.GUID
	sw   *writer.StatefulWriter
	bw   *writer.StatelessWriter
}

// Write publishes data on the writer's topic.
func (w *Writer) Write(data []byte) (seqnum.SequenceNumber, error) {
	if w.sw != nil {
		return w.sw.Write(data)
	}
	return w.bw.Write(data)
}

// Reader is a handle to a user-created reader endpoint.
type Reader struct {
	GUID guid.GUID
	sr   *reader.StatefulReader
	br   *reader.StatelessReader
}

// SetOnAvailable installs the callback invoked as new samples arrive.
func (r *Reader) SetOnAvailable(fn func(writer guid.GUID, change *cache.CacheChange)) {
	if r.sr != nil {
		r.sr.OnAvailable = fn
		return
	}
	r.br.OnAvailable = fn
}

// CreateWriter builds a writer on topic/typ under policy, publishes it
// over SEDP (a Participant never uses a StaticEDP), and registers it for
// ACKNACK dispatch if reliable. withKey selects the §3 topic kind: true
// for a topic whose samples carry a key (multiple addressable instances),
// false for a single anonymous instance. It must agree with every other
// writer/reader created on the same topic, or they will never match.
func (p *Participant) CreateWriter(topic, typ string, withKey bool, policy qos.Policy) (*Writer, error) {
	p.mu.Lock()
	entityID := guid.NewEntityID(p.entities.Next(), withKey, true)
	g := guid.GUID{Prefix: p.Prefix, Entity: entityID}
	history := cache.New(policy.History, policy.ResourceLimits, 0)
	var handle *Writer
	if policy.Reliability == qos.Reliable {
		sw := writer.New(g, topic, typ, policy, history, p.Pool, p.defaultTransport, p.scheduler, nil, writer.DefaultConfig())
		p.writers[entityID] = sw
		p.dispatchW[entityID] = sw
		handle = &Writer{GUID: g, sw: sw}
	} else {
		bw := writer.NewStateless(g, topic, typ, policy, history, p.Pool, p.defaultTransport)
		p.writers[entityID] = bw
		handle = &Writer{GUID: g, bw: bw}
	}
	p.mu.Unlock()

	loc, err := locator.UDPv4(loopback, locator.DefaultUnicastPort(p.Config.DomainID, p.Config.ParticipantID))
	if err != nil {
		return nil, err
	}
	if p.sedp != nil {
		data := edp.EndpointData{GUID: g, Topic: topic, Type: typ, TopicKind: topicKind(withKey), Policy: policy, Locators: []locator.Locator{loc}}
		if err := p.sedp.PublishWriter(data); err != nil {
			return nil, err
		}
	}
	return handle, nil
}

// CreateReader builds a reader on topic/typ under policy and publishes it
// over discovery, symmetric to CreateWriter.
func (p *Participant) CreateReader(topic, typ string, withKey bool, policy qos.Policy) (*Reader, error) {
	p.mu.Lock()
	entityID := guid.NewEntityID(p.entities.Next(), withKey, false)
	g := guid.GUID{Prefix: p.Prefix, Entity: entityID}
	history := cache.New(policy.History, policy.ResourceLimits, 0)
	var handle *Reader
	if policy.Reliability == qos.Reliable {
		sr := reader.New(g, topic, typ, policy, history, p.Pool, p.defaultTransport, p.scheduler, reader.DefaultConfig())
		p.readers[entityID] = sr
		p.dispatchR[entityID] = sr
		handle = &Reader{GUID: g, sr: sr}
	} else {
		br := reader.NewStateless(g, topic, typ, policy, history, p.Pool)
		p.readers[entityID] = br
		p.dispatchR[entityID] = statelessReaderAdapter{br}
		handle = &Reader{GUID: g, br: br}
	}
	p.mu.Unlock()

	loc, err := locator.UDPv4(loopback, locator.DefaultUnicastPort(p.Config.DomainID, p.Config.ParticipantID))
	if err != nil {
		return nil, err
	}
	if p.sedp != nil {
		data := edp.EndpointData{GUID: g, Topic: topic, Type: typ, TopicKind: topicKind(withKey), Policy: policy, Locators: []locator.Locator{loc}}
		if err := p.sedp.PublishReader(data); err != nil {
			return nil, err
		}
	}
	return handle, nil
}

func topicKind(withKey bool) edp.TopicKind {
	if withKey {
		return edp.WithKey
	}
	return edp.NoKey
}

// Close tears down the participant: the scheduler stops (cancelling every
// pending heartbeat/ACKNACK/announce event), both receive loops exit as
// soon as their transport closes, and every created endpoint is closed so
// in-flight Write/Read calls return AlreadyDeleted.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	writers := make([]interface{ Close() }, 0, len(p.writers))
	for _, w := range p.writers {
		if c, ok := w.(interface{ Close() }); ok {
			writers = append(writers, c)
		}
	}
	readers := make([]interface{ Close() }, 0, len(p.readers))
	for _, r := range p.readers {
		if c, ok := r.(interface{ Close() }); ok {
			readers = append(readers, c)
		}
	}
	p.mu.Unlock()

	p.pdp.Close()
	p.sedpPubWriter.Close()
	p.sedpSubWriter.Close()
	p.sedpPubReader.Close()
	p.sedpSubReader.Close()
	for _, w := range writers {
		w.Close()
	}
	for _, r := range readers {
		r.Close()
	}
	p.scheduler.Stop()
	p.metaTransport.Close()
	p.defaultTransport.Close()
	return nil
}
