package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/edp"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/participant"
	"github.com/rtpsmesh/rtpsd/rtps/pdp"
)

type fakeRegistry struct {
	participants []pdp.ParticipantProxyData
	matches      []edp.Match
	writers      []participant.EndpointStat
	poolBytes    int64
}

func (f *fakeRegistry) Participants() []pdp.ParticipantProxyData  { return f.participants }
func (f *fakeRegistry) Matches() []edp.Match                      { return f.matches }
func (f *fakeRegistry) WriterStats() []participant.EndpointStat   { return f.writers }
func (f *fakeRegistry) PoolResidentBytes() int64                  { return f.poolBytes }

func TestPingAndReady(t *testing.T) {
	srv := NewServer("127.0.0.1:0", false, nil)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong\n", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestMetricsServedByPromHandler(t *testing.T) {
	srv := NewServer("127.0.0.1:0", false, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNilRegistryReturnsEmptyIntrospection(t *testing.T) {
	srv := NewServer("127.0.0.1:0", false, nil)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/participants", nil))
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matches", nil))
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRegistryBackedIntrospection(t *testing.T) {
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	writerGUID := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter}
	readerGUID := guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinSubscriptionsReader}

	reg := &fakeRegistry{
		participants: []pdp.ParticipantProxyData{{GuidPrefix: prefix}},
		matches:      []edp.Match{{Writer: writerGUID, Reader: readerGUID}},
		writers: []participant.EndpointStat{
			{GUID: writerGUID, Topic: "WeatherStation", Type: "com.example.Temperature", Reliable: true, CachedCount: 3},
		},
		poolBytes: 4096,
	}
	srv := NewServer("127.0.0.1:0", false, reg)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/participants", nil))
	assert.Contains(t, rec.Body.String(), prefix.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))
	assert.Contains(t, rec.Body.String(), "WeatherStation")
	assert.Contains(t, rec.Body.String(), "4096")
}

func TestPublishDoesNotBlockWithNoClients(t *testing.T) {
	srv := NewServer("127.0.0.1:0", false, nil)
	srv.Publish(Event{Kind: "matched", Writer: "w", Reader: "r"})
}
