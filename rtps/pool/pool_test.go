package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
)

func TestGetReleaseReuses(t *testing.T) {
	p := New(0)
	pl, err := p.Get(64)
	require.NoError(t, err)
	assert.EqualValues(t, 64, p.ResidentBytes())
	pl.Release()
	assert.EqualValues(t, 0, p.ResidentBytes())

	pl2, err := p.Get(64)
	require.NoError(t, err)
	assert.Same(t, pl, pl2)
}

func TestRetainDefersRelease(t *testing.T) {
	p := New(0)
	pl, err := p.Get(32)
	require.NoError(t, err)
	pl.Retain()
	pl.Release()
	assert.EqualValues(t, 32, p.ResidentBytes(), "still resident: one reference remains")
	pl.Release()
	assert.EqualValues(t, 0, p.ResidentBytes())
}

func TestBoundedPoolExhaustion(t *testing.T) {
	p := New(64)
	_, err := p.Get(64)
	require.NoError(t, err)
	_, err = p.Get(1)
	require.Error(t, err)
	assert.True(t, rtpserrors.Is(err, rtpserrors.PoolExhausted))
}
