package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidConfig is returned for configurations a node must refuse to run with.
var ErrInvalidConfig = errors.New("invalid configuration")

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string
	Addr string
}

// Config holds the configuration of a single clock node.
type Config struct {
	NodeID     string
	ListenAddr string
	// ClockRate is the number of ticks per second.
	ClockRate float64
	Peers     []Peer
}

// NormalizeID canonicalises a node identifier so that ids typed differently
// on different hosts compare equal.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := NormalizeID(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// Validate reports configuration errors that are fatal at construction time.
func (c *Config) Validate() error {
	if NormalizeID(c.NodeID) == "" {
		return fmt.Errorf("%w: node id cannot be empty", ErrInvalidConfig)
	}
	if !(c.ClockRate > 0) {
		return fmt.Errorf("%w: clock rate must be positive, got %v", ErrInvalidConfig, c.ClockRate)
	}
	if c.TickInterval() <= 0 {
		return fmt.Errorf("%w: clock rate %v too high", ErrInvalidConfig, c.ClockRate)
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		id := NormalizeID(p.ID)
		if id == "" {
			return fmt.Errorf("%w: peer id cannot be empty", ErrInvalidConfig)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate peer %s", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	return nil
}

// TickInterval returns the scheduler period, 1000/ClockRate milliseconds.
func (c *Config) TickInterval() time.Duration {
	if c.ClockRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.ClockRate)
}

// PeerIDs returns the normalized peer identifiers in configuration order,
// skipping self.
func (c *Config) PeerIDs() []string {
	self := NormalizeID(c.NodeID)
	ids := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		if id := NormalizeID(p.ID); id != self {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddressBook maps every peer id (and self) to its network address.
func (c *Config) AddressBook() map[string]string {
	book := make(map[string]string, len(c.Peers)+1)
	book[NormalizeID(c.NodeID)] = c.ListenAddr
	for _, p := range c.Peers {
		book[NormalizeID(p.ID)] = p.Addr
	}
	return book
}
