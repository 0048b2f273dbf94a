package edp

import (
	"net"
	"testing"
	"time"

	deep "github.com/go-test/deep"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
)

func testEndpointData(t *testing.T) EndpointData {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	loc, err := locator.UDPv4(net.IPv4(10, 0, 0, 5), 7412)
	require.NoError(t, err)
	return EndpointData{
		GUID:      guid.GUID{Prefix: prefix, Entity: guid.EntityIDSEDPBuiltinPublicationsWriter},
		Kind:      KindWriter,
		Topic:     "WeatherStation",
		Type:      "com.example.Temperature",
		TopicKind: WithKey,
		Locators:  []locator.Locator{loc},
		Policy: qos.Policy{
			Reliability: qos.Reliable,
			Durability:  qos.TransientLocal,
			Deadline:    qos.Deadline{Period: 2 * time.Second},
			Liveliness:  qos.Liveliness{Kind: qos.ManualByTopic, LeaseDuration: 5 * time.Second},
			Ownership:   qos.Ownership{Kind: qos.Exclusive},
			Partition:   qos.Partition{Names: []string{"north", "south"}},
		},
	}
}

func TestEndpointDataRoundTrip(t *testing.T) {
	e := testEndpointData(t)
	got, err := Decode(Encode(e), KindWriter)
	require.NoError(t, err)

	if diff := deep.Equal(e, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestEndpointDataRoundTripEmptyPartition(t *testing.T) {
	e := testEndpointData(t)
	e.Policy.Partition.Names = nil

	got, err := Decode(Encode(e), KindWriter)
	require.NoError(t, err)
	require.Empty(t, got.Policy.Partition.Names)
}
