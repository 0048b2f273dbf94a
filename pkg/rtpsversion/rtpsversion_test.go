package rtpsversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/cdr"
)

func TestVendorNameRecognizesKnownVendor(t *testing.T) {
	assert.Equal(t, "eProsima Fast DDS", VendorName(cdr.VendorID{0x01, 0x0f}))
	assert.Equal(t, "rtpsmesh", VendorName(cdr.OurVendorID))
}

func TestVendorNameFallsBackToHex(t *testing.T) {
	assert.Equal(t, "0x09 0x09", VendorName(cdr.VendorID{0x09, 0x09}))
}

func TestCheckCompatibleSameMajor(t *testing.T) {
	require.NoError(t, CheckCompatible(cdr.ProtocolVersion.Major, cdr.ProtocolVersion.Minor+1))
	require.NoError(t, CheckCompatible(cdr.ProtocolVersion.Major, 0))
}

func TestCheckCompatibleRejectsDifferentMajor(t *testing.T) {
	err := CheckCompatible(cdr.ProtocolVersion.Major+1, 0)
	require.Error(t, err)
	var verErr *IncompatibleVersionError
	require.ErrorAs(t, err, &verErr)
}
