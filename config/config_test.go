package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rtpsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "domainId: 2\nparticipantId: 7\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.DomainID)
	assert.Equal(t, 7, c.ParticipantID)
	assert.Equal(t, 5*time.Second, c.AnnouncePeriod)
	assert.Equal(t, 15*time.Second, c.LeaseDuration)
}

func TestLoadHonorsExplicitDurations(t *testing.T) {
	path := writeConfig(t, "domainId: 0\nannouncePeriod: 1s\nleaseDuration: 10s\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.AnnouncePeriod)
	assert.Equal(t, 10*time.Second, c.LeaseDuration)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestPeerLocatorsParsesHostPort(t *testing.T) {
	c := &DomainParticipantConfig{InitialPeers: []string{"127.0.0.1:7412", "10.0.0.5:7413"}}
	locs, errs := c.PeerLocators()
	require.Empty(t, errs)
	require.Len(t, locs, 2)
	assert.Equal(t, uint32(7412), locs[0].Port)
	assert.Equal(t, uint32(7413), locs[1].Port)
}

func TestPeerLocatorsReportsBadEntries(t *testing.T) {
	c := &DomainParticipantConfig{InitialPeers: []string{"not-a-locator", "127.0.0.1:7412"}}
	locs, errs := c.PeerLocators()
	require.Len(t, errs, 1)
	require.Len(t, locs, 1)
}

func TestDiffAddedFindsOnlyNewEntries(t *testing.T) {
	prev := []string{"127.0.0.1:7412"}
	next := []string{"127.0.0.1:7412", "127.0.0.1:7413"}
	added := diffAdded(prev, next)
	require.Equal(t, []string{"127.0.0.1:7413"}, added)
}

func TestDiffAddedEmptyWhenUnchanged(t *testing.T) {
	peers := []string{"127.0.0.1:7412"}
	require.Empty(t, diffAdded(peers, peers))
}
