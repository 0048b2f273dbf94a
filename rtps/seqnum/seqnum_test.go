package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		base    SequenceNumber
		members []SequenceNumber
	}{
		{"empty", 1, nil},
		{"single", 5, []SequenceNumber{5}},
		{"sparse", 100, []SequenceNumber{100, 150, 200, 255}},
		{"full-256", 1, fullRun(1, 256)},
		{"large-base", (1 << 40), []SequenceNumber{1 << 40, (1 << 40) + 1}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := NewSet(tc.base)
			for _, m := range tc.members {
				require.NoError(t, s.Add(m))
			}
			wire := s.Encode()
			got, n, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, len(wire), n)
			assert.Equal(t, tc.base, got.Base)
			assert.ElementsMatch(t, tc.members, got.Members())
		})
	}
}

func fullRun(base SequenceNumber, n int) []SequenceNumber {
	out := make([]SequenceNumber, n)
	for i := 0; i < n; i++ {
		out[i] = base + SequenceNumber(i)
	}
	return out
}

func TestAddRejectsOutOfRange(t *testing.T) {
	s := NewSet(10)
	assert.Error(t, s.Add(5))
	assert.Error(t, s.Add(10+300))
}

func TestEmpty(t *testing.T) {
	s := NewSet(1)
	assert.True(t, s.Empty())
	require.NoError(t, s.Add(3))
	assert.False(t, s.Empty())
}
