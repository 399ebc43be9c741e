package srtla

import (
	"fmt"
	"net"
	"os"
)

// Registry is the process-wide collection of groups. It is owned
// exclusively by the reactor goroutine; no internal locking is
// performed because nothing outside that goroutine ever touches it.
type Registry struct {
	groups map[GroupID]*Group

	// Generation increments every time a group is added or removed.
	// The reactor does not read it: it dispatches one event at a time
	// and resolves every egress event by group id, so a removed group
	// simply fails the lookup.
	Generation uint64

	// SidecarPrefix is the path prefix for the per-group client-list
	// sidecar file, e.g. "/tmp/srtla-group-". Empty disables it.
	SidecarPrefix string
}

// NewRegistry returns an empty registry.
func NewRegistry(sidecarPrefix string) *Registry {
	return &Registry{
		groups:        make(map[GroupID]*Group),
		SidecarPrefix: sidecarPrefix,
	}
}

// Count returns the number of live groups.
func (r *Registry) Count() int {
	return len(r.groups)
}

// snapshotGroups returns the current groups as a slice, so callers
// that may mutate the registry while iterating (e.g. evaluating scores
// while a fatal error removes a group) don't do so over a live map.
func (r *Registry) snapshotGroups() []*Group {
	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}

// AddGroup inserts a new group, failing if MaxGroups is already
// reached.
func (r *Registry) AddGroup(g *Group) bool {
	if len(r.groups) >= MaxGroups {
		return false
	}
	r.groups[g.ID] = g
	r.Generation++
	return true
}

// RemoveGroup destroys a group: closes its SRT socket, removes its
// sidecar file, and drops it from the registry.
func (r *Registry) RemoveGroup(g *Group) {
	if g.SRTConn != nil {
		g.SRTConn.Close()
	}
	r.removeSidecar(g)
	delete(r.groups, g.ID)
	r.Generation++
}

// FindGroupByID performs a constant-time-compared lookup. The map
// lookup itself is by exact key (Go map equality on a fixed-size
// array), so the constant-time comparison in GroupID.Equal only
// matters when a caller is comparing a candidate id field-by-field
// before trusting it came from this registry; FindGroupByID is kept
// using Equal for every candidate for that discipline.
func (r *Registry) FindGroupByID(id GroupID) *Group {
	for gid, g := range r.groups {
		if gid.Equal(id) {
			return g
		}
	}
	return nil
}

// FindByAddress scans every group's connections for one whose address
// matches addr, or returns (group, nil) if addr only matches a
// group's last_address (used to route SRT egress for a group that
// has no connection answering directly to that address, e.g. a NAT
// rebind mid-session).
func (r *Registry) FindByAddress(addr *net.UDPAddr) (*Group, *Connection) {
	var lastAddrGroup *Group
	for _, g := range r.groups {
		if c := g.ConnectionByAddr(addr); c != nil {
			return g, c
		}
		if udpAddrEqual(g.LastAddress, addr) {
			lastAddrGroup = g
		}
	}
	if lastAddrGroup != nil {
		return lastAddrGroup, nil
	}
	return nil, nil
}

// AddressOwnedByOtherGroup reports whether addr already belongs to a
// connection in a group other than except.
func (r *Registry) AddressOwnedByOtherGroup(addr *net.UDPAddr, except *Group) bool {
	for _, g := range r.groups {
		if g == except {
			continue
		}
		if g.ConnectionByAddr(addr) != nil {
			return true
		}
	}
	return false
}

// CleanupInactive runs at most once per CleanupPeriodMS (callers gate
// the call themselves; the reactor skips ticks until that period has
// passed since its previous run).
// For every connection it advances the recovery state machine and
// times it out if stale; for every now-empty, expired group it
// removes the group. keepaliveCB is invoked for connections that are
// due a receiver-initiated keepalive probe.
func (r *Registry) CleanupInactive(nowMS int64, keepaliveCB func(g *Group, c *Connection, nowMS int64), destroyCB func(g *Group, reason string), recoveredCB func(g *Group, c *Connection)) {
	for _, g := range r.groups {
		membershipChanged := false
		for i := 0; i < len(g.Connections); {
			c := g.Connections[i]
			// Advance the recovery state machine: a trial period only
			// succeeds if the connection kept receiving throughout it
			// (LastRcvdMS advanced past RecoveryStartMS). If it went
			// silent again, the trial expires with no success
			// callback; TimedOut below will then reap it as usual.
			if c.RecoveryStartMS != 0 && nowMS-c.RecoveryStartMS > RecoveryChanceMS {
				succeeded := c.LastRcvdMS > c.RecoveryStartMS
				c.RecoveryStartMS = 0
				if succeeded && recoveredCB != nil {
					recoveredCB(g, c)
				}
			}
			if c.TimedOut(nowMS) {
				g.RemoveConnectionAt(i)
				membershipChanged = true
				continue
			}
			if nowMS-c.LastRcvdMS > KeepalivePeriodMS {
				keepaliveCB(g, c, nowMS)
			}
			i++
		}
		if membershipChanged {
			r.writeSidecar(g)
		}
	}

	for id, g := range r.groups {
		if g.ExpiredEmpty(nowMS) {
			if destroyCB != nil {
				destroyCB(g, "expired_empty")
			}
			r.RemoveGroup(r.groups[id])
		}
	}
}

// writeSidecar (re)writes the group's client-list file atomically via
// rename, tolerating concurrent readers.
func (r *Registry) writeSidecar(g *Group) {
	if r.SidecarPrefix == "" || g.SRTConn == nil {
		return
	}
	port := g.SRTConn.LocalAddr().(*net.UDPAddr).Port
	path := fmt.Sprintf("%s%d", r.SidecarPrefix, port)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	for _, c := range g.Connections {
		fmt.Fprintln(f, c.Addr.IP.String())
	}
	f.Close()
	os.Rename(tmp, path)
}

func (r *Registry) removeSidecar(g *Group) {
	if r.SidecarPrefix == "" || g.SRTConn == nil {
		return
	}
	port := g.SRTConn.LocalAddr().(*net.UDPAddr).Port
	os.Remove(fmt.Sprintf("%s%d", r.SidecarPrefix, port))
}
