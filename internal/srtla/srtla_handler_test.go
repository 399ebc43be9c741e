package srtla

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// newLoopbackPair returns a server-side socket (to hand to NewHandler)
// and a client-side socket standing in for a remote encoder.
func newLoopbackPair(t *testing.T) (server, client *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	client, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	return server, client
}

func readReply(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	return buf[:n]
}

func reg1Packet(clientHalf byte) []byte {
	buf := make([]byte, 2+SRTLAIDLen/2)
	binary.BigEndian.PutUint16(buf[0:2], TypeSRTLAReg1)
	buf[2] = clientHalf
	return buf
}

func reg2Packet(id GroupID) []byte {
	buf := make([]byte, 2+SRTLAIDLen)
	binary.BigEndian.PutUint16(buf[0:2], TypeSRTLAReg2)
	copy(buf[2:], id[:])
	return buf
}

func TestHandlerReg1CreatesGroupAndRepliesReg2(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	h.ProcessPacket(reg1Packet(0xaa), from, 0)

	resp := readReply(t, client)
	if len(resp) != 2+SRTLAIDLen {
		t.Fatalf("expected a REG2 reply of length %d, got %d", 2+SRTLAIDLen, len(resp))
	}
	if binary.BigEndian.Uint16(resp[0:2]) != TypeSRTLAReg2 {
		t.Fatalf("expected REG2 type in reply")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected exactly one group to be registered")
	}
}

func TestHandlerReg1AtMaxGroupsRepliesRegErr(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	for i := 0; i < MaxGroups; i++ {
		id := GroupID{}
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		g, _ := NewGroup(id, 0)
		reg.AddGroup(g)
	}

	from := client.LocalAddr().(*net.UDPAddr)
	h.ProcessPacket(reg1Packet(0xaa), from, 0)

	resp := readReply(t, client)
	if binary.BigEndian.Uint16(resp[0:2]) != TypeSRTLARegErr {
		t.Fatalf("expected REG_ERR once the registry is at MaxGroups")
	}
}

func TestHandlerReg2CompletesRegistrationAfterReg1(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	h.ProcessPacket(reg1Packet(0xaa), from, 0)
	readReply(t, client) // drain REG2

	var g *Group
	for _, gr := range reg.snapshotGroups() {
		g = gr
	}
	h.ProcessPacket(reg2Packet(g.ID), from, 10)

	resp := readReply(t, client)
	if binary.BigEndian.Uint16(resp[0:2]) != TypeSRTLAReg3 {
		t.Fatalf("expected REG3 after a valid REG2")
	}
	if len(g.Connections) != 1 {
		t.Fatalf("expected the connection to be added to the group")
	}
}

func TestHandlerReg2BeforeReg1ResolvesOnLaterGroupCreation(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	// A REG2 for an id that doesn't exist yet must be queued rather
	// than rejected outright.
	var unresolvedID GroupID
	unresolvedID[0] = 0xbb
	h.ProcessPacket(reg2Packet(unresolvedID), from, 0)
	if len(h.pendingReg2) != 1 {
		t.Fatalf("expected the REG2 to be queued as pending")
	}

	// Now the matching REG1 arrives and must resolve the pending REG2.
	reg1Buf := make([]byte, 2+SRTLAIDLen/2)
	binary.BigEndian.PutUint16(reg1Buf[0:2], TypeSRTLAReg1)
	copy(reg1Buf[2:], unresolvedID[:SRTLAIDLen/2])
	h.ProcessPacket(reg1Buf, from, 1)

	readReply(t, client) // REG2 reply from the REG1
	resp := readReply(t, client)
	if binary.BigEndian.Uint16(resp[0:2]) != TypeSRTLAReg3 {
		t.Fatalf("expected the queued REG2 to resolve into a REG3 once its group exists")
	}
	if len(h.pendingReg2) != 0 {
		t.Fatalf("pending REG2 queue must be drained once resolved")
	}
}

func TestProcessPendingReg2ExpiresToRegNgp(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	var unknownID GroupID
	unknownID[0] = 0xcc
	h.ProcessPacket(reg2Packet(unknownID), from, 0)

	h.ProcessPendingReg2(Reg2WaitMS + 1)

	resp := readReply(t, client)
	if binary.BigEndian.Uint16(resp[0:2]) != TypeSRTLARegNgp {
		t.Fatalf("expected REG_NGP once the pending REG2 exceeds its wait deadline")
	}
	if len(h.pendingReg2) != 0 {
		t.Fatalf("expired pending REG2 must be dropped from the queue")
	}
}

func TestHandlerTopBitSetDataDoesNotRegisterPacket(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	h.ProcessPacket(reg1Packet(0xaa), from, 0)
	readReply(t, client)
	var g *Group
	for _, gr := range reg.snapshotGroups() {
		g = gr
	}
	h.ProcessPacket(reg2Packet(g.ID), from, 10)
	readReply(t, client)

	conn := g.ConnectionByAddr(from)
	ctrlBuf := make([]byte, 16)
	ctrlBuf[0] = 0x80 // control packet: top bit set, sn == -1
	h.ProcessPacket(ctrlBuf, from, 20)

	if conn.recvIdx != 0 {
		t.Fatalf("a control packet must never be recorded into the ACK receive log")
	}
}

func TestHandlerSRTDataPacketsTriggerAckAfterRecvAckInt(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	h.ProcessPacket(reg1Packet(0xaa), from, 0)
	readReply(t, client)
	var g *Group
	for _, gr := range reg.snapshotGroups() {
		g = gr
	}
	h.ProcessPacket(reg2Packet(g.ID), from, 10)
	readReply(t, client)

	for i := 0; i < RecvAckInt; i++ {
		buf := make([]byte, 16)
		binary.BigEndian.PutUint32(buf[0:4], uint32(i))
		h.ProcessPacket(buf, from, 100+int64(i))
	}

	resp := readReply(t, client)
	if Classify(resp) != KindSRTLAAck {
		t.Fatalf("expected an SRTLA ACK once the receive log fills")
	}
}

func TestHandlerNakDedupSuppressesReplay(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	reg := NewRegistry("")
	h := NewHandler(reg, server)
	from := client.LocalAddr().(*net.UDPAddr)

	h.ProcessPacket(reg1Packet(0xaa), from, 0)
	readReply(t, client)
	var g *Group
	for _, gr := range reg.snapshotGroups() {
		g = gr
	}
	h.ProcessPacket(reg2Packet(g.ID), from, 10)
	readReply(t, client)

	conn := g.ConnectionByAddr(from)
	nak := make([]byte, 24)
	binary.BigEndian.PutUint16(nak[0:2], TypeSRTNak)

	h.ProcessPacket(nak, from, 100)
	if conn.Metrics.NackCount != 1 {
		t.Fatalf("first NAK sighting must be recorded, got NackCount=%d", conn.Metrics.NackCount)
	}

	h.ProcessPacket(nak, from, 101) // inside SuppressMS window
	if conn.Metrics.NackCount != 1 {
		t.Fatalf("replayed NAK within the suppression window must be ignored, got NackCount=%d", conn.Metrics.NackCount)
	}
}
