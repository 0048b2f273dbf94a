package participant

import (
	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/edp"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/pdp"
	"github.com/rtpsmesh/rtpsd/rtps/writer"
)

// EndpointStat is one local writer or reader's introspection summary, for
// the admin HTTP surface's /cache listing.
type EndpointStat struct {
	GUID        guid.GUID
	Topic       string
	Type        string
	Reliable    bool
	CachedCount int
	CachedBytes int64
}

// Participants returns every peer discovered over SPDP, including ones
// whose lease has not yet expired but is close to it.
func (p *Participant) Participants() []pdp.ParticipantProxyData {
	return p.pdp.Peers()
}

// Matches returns every writer/reader pair currently matched over the
// built-in SEDP endpoints.
func (p *Participant) Matches() []edp.Match {
	if p.sedp == nil {
		return nil
	}
	return p.sedp.Matches()
}

// PoolResidentBytes reports how many bytes the participant's shared
// payload pool currently holds, for a liveness dashboard's memory panel.
func (p *Participant) PoolResidentBytes() int64 {
	return p.Pool.ResidentBytes()
}

// WriterStats summarizes every local writer's history cache.
func (p *Participant) WriterStats() []EndpointStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EndpointStat, 0, len(p.writers))
	for entity, w := range p.writers {
		g := guid.GUID{Prefix: p.Prefix, Entity: entity}
		switch sw := w.(type) {
		case *writer.StatefulWriter:
			out = append(out, statFromHistory(g, sw.TopicName, sw.TypeName, true, sw.History))
		case *writer.StatelessWriter:
			out = append(out, statFromHistory(g, sw.TopicName, sw.TypeName, false, sw.History))
		}
	}
	return out
}

func statFromHistory(g guid.GUID, topic, typ string, reliable bool, h *cache.HistoryCache) EndpointStat {
	stat := EndpointStat{GUID: g, Topic: topic, Type: typ, Reliable: reliable}
	if h != nil {
		stat.CachedCount = h.Len()
		stat.CachedBytes = h.TotalBytes()
	}
	return stat
}
