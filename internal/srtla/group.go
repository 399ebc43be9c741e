package srtla

import (
	"crypto/rand"
	"net"
)

// Registry-wide limits and timing constants, all from the protocol
// contract rather than tunable configuration.
const (
	MaxConnsPerGroup = 16
	MaxGroups        = 200

	GroupTimeoutMS   int64 = 4000
	ConnTimeoutMS    int64 = 4000
	RecoveryChanceMS int64 = 5000
	CleanupPeriodMS  int64 = 3000
	KeepalivePeriodMS int64 = 1000

	ConnectionGracePeriodMS       int64 = 10000
	ConnQualityEvalPeriodMS       int64 = 5000
	KeepaliveStalenessThresholdMS int64 = 2000

	Reg2WaitMS int64 = 200

	AckThrottleIntervalMS int64 = 10
)

// GroupID is a 32-byte SRTLA group identifier: the first half chosen
// by the client, the second half generated by the receiver.
type GroupID [SRTLAIDLen]byte

// Equal does a constant-time comparison to avoid a timing side
// channel on group-id guessing.
func (g GroupID) Equal(other GroupID) bool {
	var diff byte
	for i := range g {
		diff |= g[i] ^ other[i]
	}
	return diff == 0
}

// GenerateReceiverHalf fills the second half of a group id with
// cryptographically random bytes.
func GenerateReceiverHalf(id *GroupID) error {
	_, err := rand.Read(id[SRTLAIDLen/2:])
	return err
}

// Group is one logical SRTLA client, mapping 1:1 to a downstream SRT
// session.
type Group struct {
	ID GroupID

	Connections []*Connection

	LastAddress *net.UDPAddr

	SRTConn *net.UDPConn // nil until the first successful egress

	Naks *NakCache

	CreatedMS       int64
	LastQualityEval int64
	LastLBEval      int64

	LoadBalancingEnabled bool
}

// NewGroup creates a group with the given id, generating the
// receiver-chosen half in place.
func NewGroup(id GroupID, nowMS int64) (*Group, error) {
	if err := GenerateReceiverHalf(&id); err != nil {
		return nil, err
	}
	return &Group{
		ID:                   id,
		Naks:                 NewNakCache(),
		CreatedMS:            nowMS,
		LoadBalancingEnabled: true,
	}, nil
}

// ConnectionByAddr returns the member connection with the given
// address, or nil.
func (g *Group) ConnectionByAddr(addr *net.UDPAddr) *Connection {
	for _, c := range g.Connections {
		if udpAddrEqual(c.Addr, addr) {
			return c
		}
	}
	return nil
}

// AddConnection appends a new connection, failing if the group is
// already full.
func (g *Group) AddConnection(c *Connection) bool {
	if len(g.Connections) >= MaxConnsPerGroup {
		return false
	}
	g.Connections = append(g.Connections, c)
	return true
}

// RemoveConnectionAt removes the connection at index i, preserving
// order.
func (g *Group) RemoveConnectionAt(i int) {
	g.Connections = append(g.Connections[:i], g.Connections[i+1:]...)
}

// Empty reports whether the group has no member connections.
func (g *Group) Empty() bool {
	return len(g.Connections) == 0
}

// ExpiredEmpty reports whether an empty group has outlived
// GroupTimeout since creation.
func (g *Group) ExpiredEmpty(nowMS int64) bool {
	return g.Empty() && nowMS-g.CreatedMS > GroupTimeoutMS
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
}
