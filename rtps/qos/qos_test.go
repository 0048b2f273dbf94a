package qos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompatibleReliability(t *testing.T) {
	w := Default()
	w.Reliability = BestEffort
	r := Default()
	r.Reliability = Reliable
	assert.Equal(t, IncompatibilityReliability, Compatible(w, r))

	w.Reliability = Reliable
	assert.Equal(t, IncompatibilityNone, Compatible(w, r))
}

func TestCompatibleDurability(t *testing.T) {
	w := Default()
	w.Durability = Volatile
	r := Default()
	r.Durability = TransientLocal
	assert.Equal(t, IncompatibilityDurability, Compatible(w, r))

	w.Durability = Persistent
	assert.Equal(t, IncompatibilityNone, Compatible(w, r))
}

func TestCompatibleDeadline(t *testing.T) {
	w := Default()
	w.Deadline = Deadline{Period: 2 * time.Second}
	r := Default()
	r.Deadline = Deadline{Period: 1 * time.Second}
	assert.Equal(t, IncompatibilityDeadline, Compatible(w, r))

	w.Deadline.Period = 500 * time.Millisecond
	assert.Equal(t, IncompatibilityNone, Compatible(w, r))
}

func TestCompatiblePartition(t *testing.T) {
	w := Default()
	w.Partition = Partition{Names: []string{"a"}}
	r := Default()
	r.Partition = Partition{Names: []string{"b"}}
	assert.Equal(t, IncompatibilityPartition, Compatible(w, r))

	r.Partition.Names = []string{"a", "b"}
	assert.Equal(t, IncompatibilityNone, Compatible(w, r))
}

func TestCompatibleOwnership(t *testing.T) {
	w := Default()
	w.Ownership.Kind = Exclusive
	r := Default()
	r.Ownership.Kind = Shared
	assert.Equal(t, IncompatibilityOwnership, Compatible(w, r))
}

func TestCompatibleLiveliness(t *testing.T) {
	w := Default()
	w.Liveliness = Liveliness{Kind: Automatic, LeaseDuration: 5 * time.Second}
	r := Default()
	r.Liveliness = Liveliness{Kind: ManualByTopic, LeaseDuration: 5 * time.Second}
	assert.Equal(t, IncompatibilityLiveliness, Compatible(w, r))
}

func TestDefaultPolicyIsBestEffortVolatile(t *testing.T) {
	d := Default()
	assert.Equal(t, BestEffort, d.Reliability)
	assert.Equal(t, Volatile, d.Durability)
	assert.Equal(t, KeepLast, d.History.Kind)
	assert.Equal(t, 1, d.History.Depth)
}
