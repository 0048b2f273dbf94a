// Package admin serves a domain participant's introspection and
// operational HTTP surface: Prometheus metrics, liveness/readiness
// probes, pprof, and a small set of httprouter-routed JSON endpoints for
// the running cache, discovered participants, and matched endpoints,
// plus a websocket feed of match/unmatch events.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/rtpsmesh/rtpsd/rtps/edp"
	"github.com/rtpsmesh/rtpsd/rtps/participant"
	"github.com/rtpsmesh/rtpsd/rtps/pdp"
)

// Registry is whatever a domain participant exposes for introspection.
// rtps/participant.Participant satisfies this already; it's spelled out
// as an interface so a future static-discovery-only registry could too.
type Registry interface {
	Participants() []pdp.ParticipantProxyData
	Matches() []edp.Match
	WriterStats() []participant.EndpointStat
	PoolResidentBytes() int64
}

type handler struct {
	router      *httprouter.Router
	promHandler http.Handler
	enablePprof bool
	registry    Registry
	hub         *eventHub
}

// Server is a running admin surface: an *http.Server plus the Publish
// hook a Participant's Listener callbacks feed match/unmatch events into.
type Server struct {
	*http.Server
	h *handler
}

// Publish pushes a match/unmatch notification to every connected /events
// websocket client.
func (s *Server) Publish(event Event) {
	s.h.hub.broadcast(event)
}

// NewServer returns an initialized admin Server configured to listen on
// addr. A nil registry still serves metrics/health/pprof; the
// introspection routes then report empty results.
func NewServer(addr string, enablePprof bool, registry Registry) *Server {
	h := &handler{
		promHandler: promhttp.Handler(),
		enablePprof: enablePprof,
		registry:    registry,
		hub:         newEventHub(),
	}
	h.router = h.buildRouter()

	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 15 * time.Second,
		},
		h: h,
	}
}

func (h *handler) buildRouter() *httprouter.Router {
	r := httprouter.New()
	r.GET("/ping", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		h.servePing(w)
	})
	r.GET("/ready", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		h.serveReady(w)
	})
	r.GET("/participants", h.serveParticipants)
	r.GET("/matches", h.serveMatches)
	r.GET("/cache", h.serveCache)
	r.GET("/events", h.serveEvents)
	return r
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	debugPathPrefix := "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case fmt.Sprintf("%scmdline", debugPathPrefix):
			pprof.Cmdline(w, req)
		case fmt.Sprintf("%sprofile", debugPathPrefix):
			pprof.Profile(w, req)
		case fmt.Sprintf("%strace", debugPathPrefix):
			pprof.Trace(w, req)
		case fmt.Sprintf("%ssymbol", debugPathPrefix):
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}
	if req.URL.Path == "/metrics" {
		h.promHandler.ServeHTTP(w, req)
		return
	}
	h.router.ServeHTTP(w, req)
}

func (h *handler) servePing(w http.ResponseWriter) {
	w.Write([]byte("pong\n"))
}

func (h *handler) serveReady(w http.ResponseWriter) {
	w.Write([]byte("ok\n"))
}

func (h *handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("admin: encoding response: %s", err)
	}
}

func (h *handler) serveParticipants(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if h.registry == nil {
		h.writeJSON(w, []pdp.ParticipantProxyData{})
		return
	}
	h.writeJSON(w, h.registry.Participants())
}

func (h *handler) serveMatches(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if h.registry == nil {
		h.writeJSON(w, []edp.Match{})
		return
	}
	h.writeJSON(w, h.registry.Matches())
}

type cacheReport struct {
	PoolResidentBytes int64                      `json:"poolResidentBytes"`
	Writers           []participant.EndpointStat `json:"writers"`
}

func (h *handler) serveCache(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if h.registry == nil {
		h.writeJSON(w, cacheReport{})
		return
	}
	h.writeJSON(w, cacheReport{
		PoolResidentBytes: h.registry.PoolResidentBytes(),
		Writers:           h.registry.WriterStats(),
	})
}
