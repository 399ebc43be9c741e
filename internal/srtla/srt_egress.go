package srtla

import (
	"log"
	"net"
)

// RecvBufSize and SendBufSize are the socket buffer sizes applied to
// both the shared ingress socket and every per-group egress socket.
const (
	RecvBufSize = 1 << 20
	SendBufSize = 1 << 20
)

// Egress manages the per-group downstream SRT sockets: lazy creation,
// forwarding of aggregated client data, and fan-out of server
// readiness back to the group's uplinks.
type Egress struct {
	Registry   *Registry
	ServerAddr *net.UDPAddr

	// IngressConn is the shared SRTLA socket used to relay SRT
	// server replies back to clients; a client only ever listens on
	// its SRTLA socket, never on the per-group egress socket.
	IngressConn *net.UDPConn

	// OnGroupFatal is invoked when a group's egress socket fails
	// unrecoverably (create/connect/short-write/short-read); the
	// reactor wires this to remove the group.
	OnGroupFatal func(g *Group)
}

// NewEgress constructs an egress handler targeting the resolved SRT
// server address.
func NewEgress(reg *Registry, serverAddr *net.UDPAddr) *Egress {
	return &Egress{Registry: reg, ServerAddr: serverAddr}
}

func (e *Egress) ensureSocket(g *Group) bool {
	if g.SRTConn != nil {
		return true
	}
	conn, err := net.DialUDP("udp", nil, e.ServerAddr)
	if err != nil {
		log.Printf("srtla: egress socket create failed for group: %v", err)
		if e.OnGroupFatal != nil {
			e.OnGroupFatal(g)
		}
		return false
	}
	conn.SetReadBuffer(RecvBufSize)
	conn.SetWriteBuffer(SendBufSize)
	g.SRTConn = conn
	e.Registry.writeSidecar(g)
	return true
}

// ForwardToSRT sends an aggregated client datagram to the group's SRT
// server socket, creating it on first use. Any short write is fatal
// for the group: the only destination for recombined data is broken.
func (e *Egress) ForwardToSRT(g *Group, buf []byte, nowMS int64) {
	if !e.ensureSocket(g) {
		return
	}
	n, err := g.SRTConn.Write(buf)
	if err != nil || n < len(buf) {
		log.Printf("srtla: short/failed write to SRT server for group, tearing down: %v", err)
		if e.OnGroupFatal != nil {
			e.OnGroupFatal(g)
		}
	}
}

// HandleSRTData processes one datagram already read from the group's
// egress socket by the reactor's reader goroutine (reading happens
// there, not here, so the full datagram is captured in one Read
// rather than risked across two). A short read is fatal for the
// group; SRT ACKs fan out to every uplink, everything else follows
// last_address.
func (e *Egress) HandleSRTData(g *Group, data []byte, readErr error) {
	if readErr != nil {
		log.Printf("srtla: read from SRT server failed for group, tearing down: %v", readErr)
		if e.OnGroupFatal != nil {
			e.OnGroupFatal(g)
		}
		return
	}
	if len(data) < SRTMinLen {
		log.Printf("srtla: short read from SRT server for group, tearing down")
		if e.OnGroupFatal != nil {
			e.OnGroupFatal(g)
		}
		return
	}

	if Classify(data) == KindSRTAck {
		for _, c := range g.Connections {
			e.sendToAddr(g, data, c.Addr)
		}
		return
	}
	if g.LastAddress != nil {
		e.sendToAddr(g, data, g.LastAddress)
	}
}

func (e *Egress) sendToAddr(g *Group, data []byte, addr *net.UDPAddr) {
	if e.IngressConn == nil {
		return
	}
	e.IngressConn.WriteToUDP(data, addr)
}
