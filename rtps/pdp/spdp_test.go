package pdp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
)

type recordingSender struct {
	dst  locator.Locator
	sent [][]byte
}

func newRecordingSender() *recordingSender {
	return &recordingSender{}
}

func (s *recordingSender) Send(dst locator.Locator, data []byte) error {
	s.dst = dst
	s.sent = append(s.sent, data)
	return nil
}

type recordingListener struct {
	discovered []ParticipantProxyData
	lost       []guid.GuidPrefix
}

func (l *recordingListener) OnParticipantDiscovered(p ParticipantProxyData) {
	l.discovered = append(l.discovered, p)
}

func (l *recordingListener) OnParticipantLost(prefix guid.GuidPrefix) {
	l.lost = append(l.lost, prefix)
}

func testSelf(t *testing.T) ParticipantProxyData {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	return ParticipantProxyData{GuidPrefix: prefix, LeaseDuration: 10 * time.Second}
}

func testMulticastLocator(t *testing.T) locator.Locator {
	t.Helper()
	l, err := locator.UDPv4(net.IPv4(239, 255, 0, 1), 7400)
	require.NoError(t, err)
	return l
}

func TestAnnounceSendsDataToMulticastLocator(t *testing.T) {
	self := testSelf(t)
	mcast := testMulticastLocator(t)
	sender := newRecordingSender()
	s := New(self, mcast, sender, nil, 0)

	require.NoError(t, s.Announce())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, mcast, sender.dst)

	msg, err := cdr.DecodeMessage(sender.sent[0], cdr.KnownSubmessageID)
	require.NoError(t, err)
	require.Len(t, msg.Submessages, 1)
	assert.Equal(t, cdr.SubmsgDATA, msg.Submessages[0].Header.ID)

	order := msg.Submessages[0].Header.ByteOrder()
	d, err := cdr.DecodeData(msg.Submessages[0].Body, msg.Submessages[0].Header.Flags, order)
	require.NoError(t, err)
	require.NotNil(t, d.InlineQos)

	got, err := Decode(d.InlineQos)
	require.NoError(t, err)
	assert.Equal(t, self.GuidPrefix, got.GuidPrefix)
}

func TestAnnounceIncrementsSequenceNumber(t *testing.T) {
	self := testSelf(t)
	sender := newRecordingSender()
	s := New(self, testMulticastLocator(t), sender, nil, 0)

	require.NoError(t, s.Announce())
	require.NoError(t, s.Announce())

	var seqs []int64
	for _, raw := range sender.sent {
		msg, err := cdr.DecodeMessage(raw, cdr.KnownSubmessageID)
		require.NoError(t, err)
		order := msg.Submessages[0].Header.ByteOrder()
		d, err := cdr.DecodeData(msg.Submessages[0].Body, msg.Submessages[0].Header.Flags, order)
		require.NoError(t, err)
		seqs = append(seqs, int64(d.WriterSN))
	}
	require.Len(t, seqs, 2)
	assert.Less(t, seqs[0], seqs[1])
}

func TestOnParticipantDataNotifiesOnlyOnFirstSighting(t *testing.T) {
	self := testSelf(t)
	s := New(self, testMulticastLocator(t), nil, nil, 0)
	listener := &recordingListener{}
	s.Listener = listener

	peer := testSelf(t)
	s.OnParticipantData(peer)
	s.OnParticipantData(peer) // refresh, not a new sighting

	require.Len(t, listener.discovered, 1)
	assert.Equal(t, peer.GuidPrefix, listener.discovered[0].GuidPrefix)

	got, ok := s.Peer(peer.GuidPrefix)
	require.True(t, ok)
	assert.Equal(t, peer.GuidPrefix, got.GuidPrefix)
}

func TestOnParticipantDataIgnoresOwnAnnouncement(t *testing.T) {
	self := testSelf(t)
	s := New(self, testMulticastLocator(t), nil, nil, 0)
	listener := &recordingListener{}
	s.Listener = listener

	s.OnParticipantData(self)
	assert.Empty(t, listener.discovered)
	_, ok := s.Peer(self.GuidPrefix)
	assert.False(t, ok)
}

func TestExpirePeerTriggersOnParticipantLost(t *testing.T) {
	self := testSelf(t)
	s := New(self, testMulticastLocator(t), nil, nil, 0)
	listener := &recordingListener{}
	s.Listener = listener

	peer := testSelf(t)
	s.OnParticipantData(peer)
	s.ExpirePeer(peer.GuidPrefix)

	require.Len(t, listener.lost, 1)
	assert.Equal(t, peer.GuidPrefix, listener.lost[0])

	_, ok := s.Peer(peer.GuidPrefix)
	assert.False(t, ok)
}

func TestPeersListsAllLive(t *testing.T) {
	self := testSelf(t)
	s := New(self, testMulticastLocator(t), nil, nil, 0)

	a := testSelf(t)
	b := testSelf(t)
	s.OnParticipantData(a)
	s.OnParticipantData(b)

	peers := s.Peers()
	assert.Len(t, peers, 2)
}
