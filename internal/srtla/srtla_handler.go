package srtla

import (
	"encoding/binary"
	"log"
	"net"
)

// Handler implements the SRTLA receive-path state machine: REG1/REG2/
// REG3 registration, keepalive echo with optional telemetry, data
// demultiplexing, and SRTLA ACK emission. It owns no goroutine of its
// own; the reactor calls ProcessPacket for every datagram read from
// the shared ingress socket.
type Handler struct {
	Registry *Registry
	Ingress  *net.UDPConn

	// ForwardToSRT is called for every accepted SRT data/control
	// packet once demultiplexed to its group; wired by the reactor to
	// the egress handler's ForwardToSRT.
	ForwardToSRT func(g *Group, buf []byte, nowMS int64)

	// OpportunisticEval, when set, lets a high NAK rate on a
	// connection trigger an out-of-cycle quality evaluation instead
	// of waiting for the next scheduled tick; wired by the reactor to
	// the evaluator's EvaluateGroup.
	OpportunisticEval func(g *Group, nowMS int64)

	// OnGroupCreated is invoked right after a REG1 successfully
	// creates a new group, letting the audit trail record it without
	// srtla importing the audit package.
	OnGroupCreated func(g *Group, peer string)

	pendingReg2 []pendingReg2
}

type pendingReg2 struct {
	id         GroupID
	addr       *net.UDPAddr
	deadlineMS int64
}

// NewHandler constructs a handler bound to a registry and ingress
// socket.
func NewHandler(reg *Registry, ingress *net.UDPConn) *Handler {
	return &Handler{Registry: reg, Ingress: ingress}
}

// ProcessPacket handles one datagram read from the shared SRTLA
// socket.
func (h *Handler) ProcessPacket(buf []byte, from *net.UDPAddr, nowMS int64) {
	kind := Classify(buf)

	switch kind {
	case KindReg1:
		h.registerGroup(buf, from, nowMS)
		return
	case KindReg2:
		h.registerConnection(buf, from, nowMS)
		return
	}

	group, conn := h.Registry.FindByAddress(from)
	if group == nil {
		// Sender unknown to any group; only REG1/REG2 are accepted
		// from strangers.
		return
	}
	if conn == nil {
		// Address matches only group.LastAddress (egress routing
		// alias), not an actual member connection; nothing to do on
		// the ingress path.
		return
	}

	wasTimedOut := conn.TimedOut(nowMS)
	conn.LastRcvdMS = nowMS
	if wasTimedOut && conn.RecoveryStartMS == 0 {
		conn.RecoveryStartMS = nowMS
	}

	if kind == KindKeepalive {
		h.handleKeepalive(conn, buf, from, nowMS)
		return
	}

	if len(buf) < SRTMinLen {
		return
	}
	group.LastAddress = from
	conn.Metrics.OnPacketReceived(len(buf))

	if kind == KindSRTNak {
		hash := HashNakPayload(buf)
		if !group.Naks.ShouldAccept(hash, nowMS) {
			return
		}
		nackCount := (len(buf) - 16) / 4
		if nackCount < 1 {
			nackCount = 1
		}
		conn.Metrics.OnNakDetected(nackCount)
		if conn.Metrics.NackCount > 5 && group.LastQualityEval+1000 < nowMS && h.OpportunisticEval != nil {
			h.OpportunisticEval(group, nowMS)
		}
	}

	if sn := SRTSequenceNumber(buf); sn >= 0 {
		h.registerPacket(conn, uint32(sn), nowMS)
	}
	if h.ForwardToSRT != nil {
		h.ForwardToSRT(group, buf, nowMS)
	}
}

func (h *Handler) registerGroup(buf []byte, from *net.UDPAddr, nowMS int64) {
	if len(buf) < 2+SRTLAIDLen/2 {
		h.sendRegErr(from)
		return
	}
	if h.Registry.Count() >= MaxGroups {
		h.sendRegErr(from)
		return
	}
	if h.Registry.AddressOwnedByOtherGroup(from, nil) {
		h.sendRegErr(from)
		return
	}

	var id GroupID
	copy(id[:SRTLAIDLen/2], buf[2:2+SRTLAIDLen/2])

	g, err := NewGroup(id, nowMS)
	if err != nil {
		log.Printf("srtla: failed to generate group id for %s: %v", from, err)
		h.sendRegErr(from)
		return
	}
	if !h.Registry.AddGroup(g) {
		h.sendRegErr(from)
		return
	}

	reply := make([]byte, 2+SRTLAIDLen)
	binary.BigEndian.PutUint16(reply[0:2], TypeSRTLAReg2)
	copy(reply[2:], g.ID[:])
	h.Ingress.WriteToUDP(reply, from)

	if h.OnGroupCreated != nil {
		h.OnGroupCreated(g, from.String())
	}
	h.resolvePending(g, nowMS)
}

func (h *Handler) registerConnection(buf []byte, from *net.UDPAddr, nowMS int64) {
	if len(buf) < 2+SRTLAIDLen {
		h.sendRegErr(from)
		return
	}
	var id GroupID
	copy(id[:], buf[2:2+SRTLAIDLen])

	g := h.Registry.FindGroupByID(id)
	if g == nil {
		h.pendingReg2 = append(h.pendingReg2, pendingReg2{id: id, addr: from, deadlineMS: nowMS + Reg2WaitMS})
		return
	}
	h.completeRegistration(g, from, nowMS)
}

func (h *Handler) completeRegistration(g *Group, from *net.UDPAddr, nowMS int64) {
	if h.Registry.AddressOwnedByOtherGroup(from, g) {
		h.sendRegErr(from)
		return
	}
	if g.ConnectionByAddr(from) == nil {
		if len(g.Connections) >= MaxConnsPerGroup {
			h.sendRegErr(from)
			return
		}
		g.AddConnection(NewConnection(from, nowMS))
		h.Registry.writeSidecar(g)
	}
	reply := make([]byte, 2)
	binary.BigEndian.PutUint16(reply[0:2], TypeSRTLAReg3)
	h.Ingress.WriteToUDP(reply, from)
}

// ProcessPendingReg2 resolves or expires REG2 requests that arrived
// before their group's REG1 completed, implementing the bounded
// deferred-pending queue described for group-id resolution in place
// of a cooperative-yield busy wait. The reactor calls this on every
// tick of its coarse timer.
func (h *Handler) ProcessPendingReg2(nowMS int64) {
	if len(h.pendingReg2) == 0 {
		return
	}
	remaining := h.pendingReg2[:0]
	for _, p := range h.pendingReg2 {
		if g := h.Registry.FindGroupByID(p.id); g != nil {
			h.completeRegistration(g, p.addr, nowMS)
			continue
		}
		if nowMS >= p.deadlineMS {
			h.sendRegNgp(p.addr)
			continue
		}
		remaining = append(remaining, p)
	}
	h.pendingReg2 = remaining
}

func (h *Handler) resolvePending(g *Group, nowMS int64) {
	if len(h.pendingReg2) == 0 {
		return
	}
	remaining := h.pendingReg2[:0]
	for _, p := range h.pendingReg2 {
		if p.id.Equal(g.ID) {
			h.completeRegistration(g, p.addr, nowMS)
			continue
		}
		remaining = append(remaining, p)
	}
	h.pendingReg2 = remaining
}

func (h *Handler) registerPacket(c *Connection, sn uint32, nowMS int64) {
	if !c.RecordReceive(sn) {
		return
	}
	if c.AckThrottleFactor < 1.0 {
		minIntervalMS := int64(float64(AckThrottleIntervalMS) / c.AckThrottleFactor)
		if nowMS-c.LastAckSentMS < minIntervalMS {
			return
		}
	}
	ack := EncodeSRTLAAck(c.RecvLogSnapshot())
	h.Ingress.WriteToUDP(ack, c.Addr)
	c.LastAckSentMS = nowMS
}

func (h *Handler) handleKeepalive(c *Connection, buf []byte, from *net.UDPAddr, nowMS int64) {
	if t, ok := ParseExtendedKeepalive(buf); ok {
		c.Telemetry.Supported = true
		c.Telemetry.RTTMicros = t.RTTMicros
		c.Telemetry.RecordSample(t.RTTMicros)
		c.Telemetry.Window = t.Window
		c.Telemetry.InFlight = t.InFlight
		c.Telemetry.NakCount = t.NakCount
		c.Telemetry.Bitrate = t.Bitrate
		c.Telemetry.LastValidMS = nowMS
	}
	// Echo the exact original bytes regardless of telemetry presence.
	h.Ingress.WriteToUDP(buf, from)
}

// SendKeepalive sends a receiver-initiated keepalive probe to a
// connection that has gone quiet past KeepalivePeriodMS, so NAT
// mappings stay alive even without client traffic.
func (h *Handler) SendKeepalive(c *Connection, nowMS int64) {
	probe := make([]byte, 2)
	binary.BigEndian.PutUint16(probe[0:2], TypeSRTLAKeepalive)
	h.Ingress.WriteToUDP(probe, c.Addr)
}

func (h *Handler) sendRegErr(to *net.UDPAddr) {
	reply := make([]byte, 2)
	binary.BigEndian.PutUint16(reply[0:2], TypeSRTLARegErr)
	h.Ingress.WriteToUDP(reply, to)
}

func (h *Handler) sendRegNgp(to *net.UDPAddr) {
	reply := make([]byte, 2)
	binary.BigEndian.PutUint16(reply[0:2], TypeSRTLARegNgp)
	h.Ingress.WriteToUDP(reply, to)
}
