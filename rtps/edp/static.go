package edp

import (
	"sync"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
)

// StaticEDP matches local endpoints against a fixed, configuration-supplied
// peer list instead of discovering them dynamically over SEDP, for
// networks where multicast discovery traffic is undesirable.
type StaticEDP struct {
	mu sync.Mutex

	Listener Listener

	peers        []EndpointData
	localWriters map[guid.GUID]EndpointData
	localReaders map[guid.GUID]EndpointData
	matched      map[pairKey]bool
}

// NewStatic builds a StaticEDP from a fixed peer list supplied by the
// caller. The config package has no section that produces such a list.
func NewStatic(peers []EndpointData) *StaticEDP {
	return &StaticEDP{
		peers:        peers,
		localWriters: make(map[guid.GUID]EndpointData),
		localReaders: make(map[guid.GUID]EndpointData),
		matched:      make(map[pairKey]bool),
	}
}

// PublishWriter registers a local writer and matches it immediately
// against every configured peer reader; no wire announcement happens.
func (s *StaticEDP) PublishWriter(e EndpointData) {
	e.Kind = KindWriter
	s.mu.Lock()
	s.localWriters[e.GUID] = e
	s.mu.Unlock()
	for _, p := range s.peers {
		if p.Kind == KindReader {
			s.tryMatch(e, p)
		}
	}
}

// PublishReader registers a local reader and matches it immediately
// against every configured peer writer.
func (s *StaticEDP) PublishReader(e EndpointData) {
	e.Kind = KindReader
	s.mu.Lock()
	s.localReaders[e.GUID] = e
	s.mu.Unlock()
	for _, p := range s.peers {
		if p.Kind == KindWriter {
			s.tryMatch(p, e)
		}
	}
}

// RemoveWriter unmatches and forgets a local writer.
func (s *StaticEDP) RemoveWriter(g guid.GUID) {
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
func (s *StaticEDP) RemoveReader(g guid.GUID) {
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

// Matches returns every currently-matched writer/reader pair.
func (s *StaticEDP) Matches() []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Match, 0, len(s.matched))
	for k := range s.matched {
		out = append(out, Match{Writer: k.writer, Reader: k.reader})
	}
	return out
}

func (s *StaticEDP) tryMatch(w, r EndpointData) {
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
