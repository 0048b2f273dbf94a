package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
)

func newTestParticipant(t *testing.T, domainID, participantID int) *Participant {
	t.Helper()
	p, err := New(Config{DomainID: domainID, ParticipantID: participantID})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewAssignsDistinctPrefixes(t *testing.T) {
	a := newTestParticipant(t, 0, 10)
	b := newTestParticipant(t, 0, 11)
	require.NotEqual(t, a.Prefix, b.Prefix)
}

func TestCreateWriterRegistersDispatch(t *testing.T) {
	p := newTestParticipant(t, 1, 20)
	policy := qos.Default()
	policy.Reliability = qos.Reliable
	w, err := p.CreateWriter("WeatherStation", "com.example.Temperature", true, policy)
	require.NoError(t, err)

	lw, ok := p.LocalWriterByEntity(w.GUID.Entity)
	require.True(t, ok)
	require.NotNil(t, lw)
}

func TestCreateReliableReaderRegistersDispatch(t *testing.T) {
	p := newTestParticipant(t, 1, 21)
	policy := qos.Default()
	policy.Reliability = qos.Reliable
	r, err := p.CreateReader("WeatherStation", "com.example.Temperature", true, policy)
	require.NoError(t, err)

	lr, ok := p.LocalReaderByEntity(r.GUID.Entity)
	require.True(t, ok)
	require.NotNil(t, lr)
}

func TestCreateBestEffortReaderUsesStatelessAdapter(t *testing.T) {
	p := newTestParticipant(t, 1, 22)
	r, err := p.CreateReader("WeatherStation", "com.example.Temperature", true, qos.Default())
	require.NoError(t, err)

	lr, ok := p.LocalReaderByEntity(r.GUID.Entity)
	require.True(t, ok)
	_, isAdapter := lr.(statelessReaderAdapter)
	require.True(t, isAdapter)
}

func TestCloseIsIdempotent(t *testing.T) {
	p := newTestParticipant(t, 2, 30)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

// TestTwoParticipantsDiscoverAndMatch exercises the full loopback path:
// SPDP announce/discover, SEDP publish/match, and finally a sample
// delivered end to end over reliable writer/reader.
func TestTwoParticipantsDiscoverAndMatch(t *testing.T) {
	pub := newTestParticipant(t, 3, 40)
	sub := newTestParticipant(t, 3, 41)

	policy := qos.Default()
	policy.Reliability = qos.Reliable

	// Cross the SPDP exchange before any SEDP traffic exists, so the
	// built-in publication/subscription endpoints are already matched by
	// the time CreateWriter/CreateReader publish over them.
	sub.pdp.OnParticipantData(pub.pdp.Self)
	pub.pdp.OnParticipantData(sub.pdp.Self)

	w, err := pub.CreateWriter("WeatherStation", "com.example.Temperature", true, policy)
	require.NoError(t, err)

	r, err := sub.CreateReader("WeatherStation", "com.example.Temperature", true, policy)
	require.NoError(t, err)

	delivered := make(chan []byte, 1)
	r.SetOnAvailable(func(writerGUID guid.GUID, change *cache.CacheChange) {
		if change == nil {
			return
		}
		delivered <- append([]byte(nil), change.Payload.Bytes...)
	})

	_, err = w.Write([]byte("23.5C"))
	require.NoError(t, err)

	select {
	case payload := <-delivered:
		require.Equal(t, []byte("23.5C"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("sample was not delivered across matched writer/reader")
	}
}
