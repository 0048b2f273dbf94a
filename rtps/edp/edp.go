package edp

import (
	"encoding/binary"
	"sync"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/reader"
	"github.com/rtpsmesh/rtpsd/rtps/writer"
)

// Listener receives endpoint match/unmatch notifications. A Participant
// installs matched pairs' proxies from OnEndpointsMatched and removes
// them (and discards the peer's history) from OnEndpointsUnmatched.
// OnIncompatibleQoS fires once per attempted match that fails on a QoS
// dimension (not on topic/type/topic-kind mismatch, which is not a QoS
// incompatibility at all); a Participant fans it out to both
// on_offered_incompatible_qos and on_requested_incompatible_qos.
type Listener interface {
	OnEndpointsMatched(w, r EndpointData)
	OnEndpointsUnmatched(writer, reader guid.GUID)
	OnIncompatibleQoS(w, r EndpointData, reason qos.Incompatibility)
}

// matches applies the matching rule of 4.9: topic name, type name, and
// topic kind equal, and every QoS dimension compatible. It reports the
// reason for any QoS-level failure so callers can notify listeners; a
// topic/type/kind mismatch is not itself a QoS incompatibility and is
// reported as IncompatibilityNone alongside ok == false.
func matches(w, r EndpointData) (reason qos.Incompatibility, ok bool) {
	if w.Topic != r.Topic || w.Type != r.Type || w.TopicKind != r.TopicKind {
		return qos.IncompatibilityNone, false
	}
	if inc := qos.Compatible(w.Policy, r.Policy); inc != qos.IncompatibilityNone {
		return inc, false
	}
	return qos.IncompatibilityNone, true
}

type pairKey struct {
	writer guid.GUID
	reader guid.GUID
}

// Match is one currently-matched writer/reader pair, for introspection.
type Match struct {
	Writer guid.GUID
	Reader guid.GUID
}

// SEDP is the dynamic Simple Endpoint Discovery Protocol: it publishes
// this participant's local writers/readers as DiscoveredWriterData/
// DiscoveredReaderData over a pair of reliable built-in topics and
// matches them against whatever the same built-in topics receive from
// remote participants.
type SEDP struct {
	mu sync.Mutex

	pubWriter *writer.StatefulWriter // announces local writers: DCPSPublication
	subWriter *writer.StatefulWriter // announces local readers: DCPSSubscription
	pubReader *reader.StatefulReader // receives remote writers
	subReader *reader.StatefulReader // receives remote readers

	Listener Listener

	localWriters  map[guid.GUID]EndpointData
	localReaders  map[guid.GUID]EndpointData
	remoteWriters map[guid.GUID]EndpointData
	remoteReaders map[guid.GUID]EndpointData
	matched       map[pairKey]bool
}

// New wires an SEDP instance onto the four already-constructed built-in
// endpoints; the caller (the Participant) owns their transport,
// scheduler, and QoS configuration, since those are no different from
// any other reliable endpoint's.
func New(pubWriter, subWriter *writer.StatefulWriter, pubReader, subReader *reader.StatefulReader) *SEDP {
	s := &SEDP{
		pubWriter:     pubWriter,
		subWriter:     subWriter,
		pubReader:     pubReader,
		subReader:     subReader,
		localWriters:  make(map[guid.GUID]EndpointData),
		localReaders:  make(map[guid.GUID]EndpointData),
		remoteWriters: make(map[guid.GUID]EndpointData),
		remoteReaders: make(map[guid.GUID]EndpointData),
		matched:       make(map[pairKey]bool),
	}
	if pubReader != nil {
		pubReader.OnAvailable = s.onRemoteWriterSample
	}
	if subReader != nil {
		subReader.OnAvailable = s.onRemoteReaderSample
	}
	return s
}

// PublishWriter announces a local writer's DiscoveredWriterData and
// matches it against every remote reader already known.
func (s *SEDP) PublishWriter(e EndpointData) error {
	e.Kind = KindWriter
	s.mu.Lock()
	s.localWriters[e.GUID] = e
	remotes := make([]EndpointData, 0, len(s.remoteReaders))
	for _, r := range s.remoteReaders {
		remotes = append(remotes, r)
	}
	s.mu.Unlock()

	if err := s.send(s.pubWriter, e); err != nil {
		return err
	}
	for _, r := range remotes {
		s.tryMatch(e, r)
	}
	return nil
}

// PublishReader announces a local reader's DiscoveredReaderData and
// matches it against every remote writer already known.
func (s *SEDP) PublishReader(e EndpointData) error {
	e.Kind = KindReader
	s.mu.Lock()
	s.localReaders[e.GUID] = e
	remotes := make([]EndpointData, 0, len(s.remoteWriters))
	for _, w := range s.remoteWriters {
		remotes = append(remotes, w)
	}
	s.mu.Unlock()

	if err := s.send(s.subWriter, e); err != nil {
		return err
	}
	for _, w := range remotes {
		s.tryMatch(w, e)
	}
	return nil
}

// RemoveWriter unmatches and forgets a local writer, e.g. on deletion or
// an incompatible QoS change.
func (s *SEDP) RemoveWriter(g guid.GUID) {
	s.mu.Lock()
	delete(s.localWriters, g)
	var readers []guid.GUID
	for k := range s.matched {
		if k.writer == g {
			readers = append(readers, k.reader)
			delete(s.matched, k)
		}
	}
	listener := s.Listener
	s.mu.Unlock()
	if listener != nil {
		for _, r := range readers {
			listener.OnEndpointsUnmatched(g, r)
		}
	}
}

// RemoveReader unmatches and forgets a local reader.
func (s *SEDP) RemoveReader(g guid.GUID) {
	s.mu.Lock()
	delete(s.localReaders, g)
	var writers []guid.GUID
	for k := range s.matched {
		if k.reader == g {
			writers = append(writers, k.writer)
			delete(s.matched, k)
		}
	}
	listener := s.Listener
	s.mu.Unlock()
	if listener != nil {
		for _, w := range writers {
			listener.OnEndpointsUnmatched(w, g)
		}
	}
}

func (s *SEDP) send(w *writer.StatefulWriter, e EndpointData) error {
	if w == nil {
		return nil
	}
	payload := Encode(e).Encode(binary.LittleEndian)
	_, err := w.Write(payload)
	return err
}

func (s *SEDP) onRemoteWriterSample(src guid.GUID, change *cache.CacheChange) {
	data, ok := s.decodeSample(change, KindWriter)
	if !ok {
		return
	}
	s.mu.Lock()
	s.remoteWriters[data.GUID] = data
	readers := make([]EndpointData, 0, len(s.localReaders))
	for _, r := range s.localReaders {
		readers = append(readers, r)
	}
	s.mu.Unlock()
	for _, r := range readers {
		s.tryMatch(data, r)
	}
}

func (s *SEDP) onRemoteReaderSample(src guid.GUID, change *cache.CacheChange) {
	data, ok := s.decodeSample(change, KindReader)
	if !ok {
		return
	}
	s.mu.Lock()
	s.remoteReaders[data.GUID] = data
	writers := make([]EndpointData, 0, len(s.localWriters))
	for _, w := range s.localWriters {
		writers = append(writers, w)
	}
	s.mu.Unlock()
	for _, w := range writers {
		s.tryMatch(w, data)
	}
}

// decodeSample reports false for a gapped sequence (change is nil, or
// carries no payload): nothing to match on, and nothing irrelevant to
// withdraw either, since dispose/unregister tracking for built-in
// discovery samples is out of scope here.
func (s *SEDP) decodeSample(change *cache.CacheChange, kind Kind) (EndpointData, bool) {
	if change == nil || change.Payload == nil {
		return EndpointData{}, false
	}
	pl, _, err := cdr.DecodeParameterList(change.Payload.Bytes, binary.LittleEndian)
	if err != nil {
		return EndpointData{}, false
	}
	data, err := Decode(pl, kind)
	if err != nil {
		return EndpointData{}, false
	}
	return data, true
}

// Matches returns every currently-matched writer/reader pair.
func (s *SEDP) Matches() []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Match, 0, len(s.matched))
	for k := range s.matched {
		out = append(out, Match{Writer: k.writer, Reader: k.reader})
	}
	return out
}

// RemovePeer forgets every remote writer/reader owned by prefix (a
// participant whose lease just expired) and unmatches any local pair it
// was part of, firing OnEndpointsUnmatched for each. It returns the
// removed pairs so the caller can raise a liveliness-changed notification
// for whichever side remains local.
func (s *SEDP) RemovePeer(prefix guid.GuidPrefix) []Match {
	s.mu.Lock()
	var removed []Match
	for k := range s.matched {
		if k.writer.Prefix == prefix || k.reader.Prefix == prefix {
			removed = append(removed, Match{Writer: k.writer, Reader: k.reader})
			delete(s.matched, k)
		}
	}
	for g := range s.remoteWriters {
		if g.Prefix == prefix {
			delete(s.remoteWriters, g)
		}
	}
	for g := range s.remoteReaders {
		if g.Prefix == prefix {
			delete(s.remoteReaders, g)
		}
	}
	listener := s.Listener
	s.mu.Unlock()

	if listener != nil {
		for _, m := range removed {
			listener.OnEndpointsUnmatched(m.Writer, m.Reader)
		}
	}
	return removed
}

// tryMatch applies the matching rule of 4.9. Matching is idempotent; a pair
// already matched is not renotified. A QoS-level failure fires
// OnIncompatibleQoS every attempt (not just the first), since a reader or
// writer that keeps offering/requesting incompatible QoS keeps the
// callback firing in a real implementation too.
func (s *SEDP) tryMatch(w, r EndpointData) {
	reason, ok := matches(w, r)
	if !ok {
		if reason != qos.IncompatibilityNone {
			if listener := s.Listener; listener != nil {
				listener.OnIncompatibleQoS(w, r, reason)
			}
		}
		return
	}
	key := pairKey{writer: w.GUID, reader: r.GUID}
	s.mu.Lock()
	if s.matched[key] {
		s.mu.Unlock()
		return
	}
	s.matched[key] = true
	listener := s.Listener
	s.mu.Unlock()
	if listener != nil {
		listener.OnEndpointsMatched(w, r)
	}
}
