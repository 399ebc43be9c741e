package srtla

import "testing"

func TestGroupIDEqual(t *testing.T) {
	var a, b GroupID
	a[0] = 1
	b[0] = 1
	if !a.Equal(b) {
		t.Fatalf("identical ids must compare equal")
	}
	b[0] = 2
	if a.Equal(b) {
		t.Fatalf("differing ids must not compare equal")
	}
}

func TestNewGroupGeneratesUniqueReceiverHalf(t *testing.T) {
	var clientID GroupID
	clientID[0] = 0xaa

	g1, err := NewGroup(clientID, 0)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	g2, err := NewGroup(clientID, 0)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if g1.ID.Equal(g2.ID) {
		t.Fatalf("two groups sharing a client-chosen half must still get distinct ids")
	}
	if g1.ID[0] != 0xaa || g2.ID[0] != 0xaa {
		t.Fatalf("client-chosen half must be preserved")
	}
}

func TestGroupAddConnectionRespectsLimit(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	for i := 0; i < MaxConnsPerGroup; i++ {
		if !g.AddConnection(NewConnection(udpAddr(1000+i), 0)) {
			t.Fatalf("adding connection %d should not fail before the limit", i)
		}
	}
	if g.AddConnection(NewConnection(udpAddr(9999), 0)) {
		t.Fatalf("adding a connection past MaxConnsPerGroup must fail")
	}
}

func TestGroupConnectionByAddr(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c := NewConnection(udpAddr(1000), 0)
	g.AddConnection(c)
	if g.ConnectionByAddr(udpAddr(1000)) != c {
		t.Fatalf("expected to find connection by matching address")
	}
	if g.ConnectionByAddr(udpAddr(2000)) != nil {
		t.Fatalf("expected nil for an address with no connection")
	}
}

func TestGroupRemoveConnectionAtPreservesOrder(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c0 := NewConnection(udpAddr(1000), 0)
	c1 := NewConnection(udpAddr(1001), 0)
	c2 := NewConnection(udpAddr(1002), 0)
	g.AddConnection(c0)
	g.AddConnection(c1)
	g.AddConnection(c2)

	g.RemoveConnectionAt(1)
	if len(g.Connections) != 2 || g.Connections[0] != c0 || g.Connections[1] != c2 {
		t.Fatalf("RemoveConnectionAt must preserve the order of remaining connections")
	}
}

func TestGroupExpiredEmpty(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	if g.ExpiredEmpty(GroupTimeoutMS) {
		t.Fatalf("group must not expire at exactly GroupTimeoutMS")
	}
	if !g.ExpiredEmpty(GroupTimeoutMS + 1) {
		t.Fatalf("empty group must expire past GroupTimeoutMS")
	}
	g.AddConnection(NewConnection(udpAddr(1000), 0))
	if g.ExpiredEmpty(GroupTimeoutMS + 1) {
		t.Fatalf("a non-empty group must never report ExpiredEmpty")
	}
}
