// Package config loads a domain participant's static configuration from
// YAML and watches it for changes to the initial-peers list, the way
// pkg/credswatcher watches a mounted secret for rotation.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rtpsmesh/rtpsd/rtps/locator"
)

// DomainParticipantConfig is the on-disk shape of a participant's static
// configuration.
type DomainParticipantConfig struct {
	DomainID       int           `yaml:"domainId"`
	ParticipantID  int           `yaml:"participantId"`
	AnnounceName   string        `yaml:"announceName"`
	LeaseDuration  time.Duration `yaml:"leaseDuration"`
	AnnouncePeriod time.Duration `yaml:"announcePeriod"`
	// InitialPeers are "host:port" unicast metatraffic locators seeded
	// for SPDP without relying on multicast reachability.
	InitialPeers []string `yaml:"initialPeers"`
}

// ApplyDefaults mirrors rtps/pdp.DefaultAnnouncePeriod's 5s and a 3x lease,
// applied when the file omits a duration.
func (c *DomainParticipantConfig) ApplyDefaults() {
	if c.AnnouncePeriod <= 0 {
		c.AnnouncePeriod = 5 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 3 * c.AnnouncePeriod
	}
}

// Load reads and parses a DomainParticipantConfig from path.
func Load(path string) (*DomainParticipantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c DomainParticipantConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.ApplyDefaults()
	return &c, nil
}

// PeerLocators parses InitialPeers' "host:port" entries into UDPv4
// locators, skipping (and reporting) any that don't parse rather than
// failing the whole config.
func (c *DomainParticipantConfig) PeerLocators() ([]locator.Locator, []error) {
	locs := make([]locator.Locator, 0, len(c.InitialPeers))
	var errs []error
	for _, peer := range c.InitialPeers {
		l, err := ParsePeer(peer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locs = append(locs, l)
	}
	return locs, errs
}

// ParsePeer parses a single "host:port" initial-peer entry into a UDPv4
// locator, the same way PeerLocators does for the whole list; a
// config.Watcher's OnPeersAdded callback uses this one entry at a time.
func ParsePeer(s string) (locator.Locator, error) {
	return parseHostPort(s)
}

func parseHostPort(s string) (locator.Locator, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return locator.Locator{}, fmt.Errorf("config: %q is not host:port: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return locator.Locator{}, fmt.Errorf("config: %q has a non-numeric port: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return locator.Locator{}, fmt.Errorf("config: cannot resolve host %q", host)
		}
		ip = ips[0]
	}
	return locator.UDPv4(ip, uint32(port))
}

// diffAdded returns the peers present in next but absent from prev.
func diffAdded(prev, next []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, p := range prev {
		seen[strings.TrimSpace(p)] = true
	}
	var added []string
	for _, p := range next {
		if !seen[strings.TrimSpace(p)] {
			added = append(added, p)
		}
	}
	return added
}
