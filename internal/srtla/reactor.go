package srtla

import (
	"context"
	"log"
	"net"
	"sync"
	"time"
)

// tickInterval matches the original single-threaded reactor's epoll
// timeout: a coarse periodic tick drives cleanup, quality evaluation,
// and pending-REG2 expiry regardless of datagram traffic.
const tickInterval = 1000 * time.Millisecond

type ingressEvent struct {
	buf  []byte
	addr *net.UDPAddr
}

// egressEvent carries a group id, never a pointer, so a group
// destroyed between the reader goroutine enqueuing the event and the
// reactor dequeuing it simply fails the registry lookup instead of
// dereferencing a stale reference.
type egressEvent struct {
	id   GroupID
	data []byte
	err  error
}

// Reactor is the single state-owning goroutine: it is the only
// goroutine that ever mutates the Registry, its Groups, or their
// Connections. Reader goroutines (one for the shared ingress socket,
// one per group's egress socket) only read datagrams and hand them
// over on channels.
type Reactor struct {
	Registry *Registry
	Handler  *Handler
	Egress   *Egress

	ingress *net.UDPConn

	ingressCh chan ingressEvent
	egressCh  chan egressEvent

	wg sync.WaitGroup

	// OnTick is invoked once per tick, after cleanup and any due
	// quality evaluations, with a slice snapshot of every live group.
	// The slice is fresh but its *Group pointers are the live,
	// reactor-owned state, so the callback must copy out anything it
	// hands to another goroutine. Wired by the top-level server to feed
	// the admin dashboard and the Redis telemetry publisher without
	// srtla importing either.
	OnTick func(groups []*Group, nowMS int64)

	// OnGroupDestroyed is invoked from the reactor goroutine right
	// before a group is removed from the registry, letting the audit
	// trail record the teardown without srtla importing it.
	OnGroupDestroyed func(g *Group, reason string)

	// OnConnectionRecovered is invoked when a connection completes a
	// recovery trial (RecoveryChanceMS of continuous receiving after a
	// prior timeout), feeding the audit trail.
	OnConnectionRecovered func(g *Group, c *Connection)

	// OnIngressDatagram and OnEgressDatagram, when set, receive a copy
	// of every datagram before it's processed; wired to the optional
	// PCAP capture.
	OnIngressDatagram func(buf []byte)
	OnEgressDatagram  func(buf []byte)
}

// NewReactor wires a registry, handler and egress into a reactor
// bound to the given ingress socket.
func NewReactor(reg *Registry, h *Handler, eg *Egress, ingress *net.UDPConn) *Reactor {
	r := &Reactor{
		Registry:  reg,
		Handler:   h,
		Egress:    eg,
		ingress:   ingress,
		ingressCh: make(chan ingressEvent, 256),
		egressCh:  make(chan egressEvent, 256),
	}
	h.OpportunisticEval = func(g *Group, nowMS int64) {
		EvaluateGroup(g, nowMS)
		AdjustWeights(g, nowMS)
	}
	eg.OnGroupFatal = func(g *Group) {
		if r.OnGroupDestroyed != nil {
			r.OnGroupDestroyed(g, "egress_fatal")
		}
		reg.RemoveGroup(g)
	}
	eg.IngressConn = ingress
	h.ForwardToSRT = eg.ForwardToSRT
	return r
}

// Run starts the reader goroutines and drives the event loop until
// ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) {
	r.wg.Add(1)
	go r.readIngress(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	spawned := make(map[GroupID]bool)
	var lastCleanupMS int64

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return

		case ev := <-r.ingressCh:
			if r.OnIngressDatagram != nil {
				r.OnIngressDatagram(ev.buf)
			}
			now := nowMillis(time.Now())
			r.Handler.ProcessPacket(ev.buf, ev.addr, now)
			r.spawnEgressReaders(ctx, spawned)

		case ev := <-r.egressCh:
			if r.OnEgressDatagram != nil && ev.err == nil {
				r.OnEgressDatagram(ev.data)
			}
			g := r.Registry.FindGroupByID(ev.id)
			if g == nil {
				continue
			}
			r.Egress.HandleSRTData(g, ev.data, ev.err)

		case <-ticker.C:
			now := nowMillis(time.Now())
			r.Handler.ProcessPendingReg2(now)
			if now-lastCleanupMS >= CleanupPeriodMS {
				r.Registry.CleanupInactive(now, func(g *Group, c *Connection, nowMS int64) {
					r.Handler.SendKeepalive(c, nowMS)
				}, r.OnGroupDestroyed, r.OnConnectionRecovered)
				lastCleanupMS = now
			}
			// The cleanup pass above may have destroyed groups;
			// snapshotting here rather than ranging the live map
			// directly is the same "don't act on a reference that
			// outlived its group" discipline as the original
			// reactor's snapshot-count-and-break guard.
			live := r.Registry.snapshotGroups()
			for _, g := range live {
				if nowMillis(time.Now())-g.LastQualityEval >= ConnQualityEvalPeriodMS {
					EvaluateGroup(g, now)
					AdjustWeights(g, now)
				} else if !g.LoadBalancingEnabled && now-g.LastLBEval >= ConnQualityEvalPeriodMS {
					AdjustWeights(g, now)
				}
			}
			if r.OnTick != nil {
				r.OnTick(live, now)
			}
			r.spawnEgressReaders(ctx, spawned)
		}
	}
}

// spawnEgressReaders starts a reader goroutine for any group whose
// SRT socket was created since the last check (lazily, on first
// forwarded datagram) and that doesn't have one yet.
func (r *Reactor) spawnEgressReaders(ctx context.Context, spawned map[GroupID]bool) {
	for _, g := range r.Registry.snapshotGroups() {
		if g.SRTConn == nil || spawned[g.ID] {
			continue
		}
		spawned[g.ID] = true
		r.wg.Add(1)
		go r.readEgress(ctx, g.ID, g.SRTConn)
	}
}

func (r *Reactor) readIngress(ctx context.Context) {
	defer r.wg.Done()
	buf := make([]byte, MTU)
	for {
		r.ingress.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := r.ingress.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Printf("srtla: ingress read error: %v", err)
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case r.ingressCh <- ingressEvent{buf: cp, addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reactor) readEgress(ctx context.Context, id GroupID, conn *net.UDPConn) {
	defer r.wg.Done()
	buf := make([]byte, MTU)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Socket closed out from under us (group removed) or a
			// genuine read failure; report once, then this reader is
			// done either way.
			select {
			case r.egressCh <- egressEvent{id: id, err: err}:
			case <-ctx.Done():
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case r.egressCh <- egressEvent{id: id, data: cp}:
		case <-ctx.Done():
			return
		}
	}
}
