package pdp

import (
	"net"
	"testing"
	"time"

	deep "github.com/go-test/deep"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
)

func testProxyData(t *testing.T) ParticipantProxyData {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	uni, err := locator.UDPv4(net.IPv4(127, 0, 0, 1), 7410)
	require.NoError(t, err)
	multi, err := locator.UDPv4(net.IPv4(239, 255, 0, 1), 7400)
	require.NoError(t, err)
	return ParticipantProxyData{
		GuidPrefix:                   prefix,
		ProtocolVersionMajor:         2,
		ProtocolVersionMinor:         3,
		VendorID:                     [2]byte{0x01, 0x0f},
		MetatrafficUnicastLocators:   []locator.Locator{uni},
		MetatrafficMulticastLocators: []locator.Locator{multi},
		DefaultUnicastLocators:       []locator.Locator{uni},
		UserData:                     []byte("rtpsd"),
		LeaseDuration:                11 * time.Second,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := testProxyData(t)
	pl := Encode(p)

	got, err := Decode(pl)
	require.NoError(t, err)

	if diff := deep.Equal(p, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestEncodeDecodeRepeatsLocatorsUnderSamePID(t *testing.T) {
	p := testProxyData(t)
	extra, err := locator.UDPv4(net.IPv4(10, 0, 0, 2), 7411)
	require.NoError(t, err)
	p.MetatrafficUnicastLocators = append(p.MetatrafficUnicastLocators, extra)

	got, err := Decode(Encode(p))
	require.NoError(t, err)
	require.Len(t, got.MetatrafficUnicastLocators, 2)
	require.Equal(t, p.MetatrafficUnicastLocators[0], got.MetatrafficUnicastLocators[0])
	require.Equal(t, p.MetatrafficUnicastLocators[1], got.MetatrafficUnicastLocators[1])
}

func TestDurationEncodeDecodeRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, 1500 * time.Millisecond, 100 * time.Nanosecond} {
		got, err := decodeDuration(encodeDuration(d))
		require.NoError(t, err)
		assertClose(t, d, got)
	}
}

func assertClose(t *testing.T, want, got time.Duration) {
	t.Helper()
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Microsecond {
		t.Fatalf("duration round trip: want %v, got %v", want, got)
	}
}

func TestDecodeRejectsShortDuration(t *testing.T) {
	_, err := decodeDuration([]byte{1, 2, 3})
	require.Error(t, err)
}
