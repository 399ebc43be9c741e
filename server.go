package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"srtla-rec/internal/admin"
	"srtla-rec/internal/audit"
	"srtla-rec/internal/config"
	"srtla-rec/internal/debug"
	"srtla-rec/internal/srtla"
	"srtla-rec/internal/telemetry"
)

// ReceiverServer owns every long-lived component of the SRTLA
// receiver process and coordinates their startup and graceful
// shutdown.
type ReceiverServer struct {
	config *config.Config

	registry *srtla.Registry
	handler  *srtla.Handler
	egress   *srtla.Egress
	reactor  *srtla.Reactor

	ingressConn *net.UDPConn

	adminServer *admin.Server
	adminHub    *admin.Hub
	auditTrail  *audit.Trail
	telemetry   *telemetry.Cache
	capture     *debug.Capture

	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	mu             sync.RWMutex
	isShuttingDown bool
}

// NewReceiverServer constructs a server bound to cfg. No sockets are
// opened and no goroutines started until Start is called.
func NewReceiverServer(cfg *config.Config) *ReceiverServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReceiverServer{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start opens the ingress socket, wires the core SRTLA pipeline and
// every ambient/domain component, and begins serving.
func (s *ReceiverServer) Start() error {
	s.setupSignalHandler()

	if err := s.initializeServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reactor.Run(s.ctx)
	}()

	log.Println("🚀 SRTLA receiver started successfully")
	return nil
}

func (s *ReceiverServer) initializeServices() error {
	cfg := s.config

	addr := &net.UDPAddr{Port: cfg.SRTLAPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind SRTLA ingress on :%d: %w", cfg.SRTLAPort, err)
	}
	conn.SetReadBuffer(srtla.RecvBufSize)
	conn.SetWriteBuffer(srtla.SendBufSize)
	s.ingressConn = conn
	log.Printf("📡 Listening for SRTLA clients on :%d", cfg.SRTLAPort)

	srtAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.SRTHostname, cfg.SRTPort))
	if err != nil {
		return fmt.Errorf("failed to resolve SRT server address: %w", err)
	}

	s.registry = srtla.NewRegistry(cfg.SidecarPrefix)
	s.handler = srtla.NewHandler(s.registry, conn)
	s.egress = srtla.NewEgress(s.registry, srtAddr)
	s.reactor = srtla.NewReactor(s.registry, s.handler, s.egress, conn)

	if cfg.Admin.Enabled {
		s.adminHub = admin.NewHub()
		s.adminServer = admin.NewServer(cfg.Admin.Addr, s.adminHub)
		s.adminServer.Start()
		log.Printf("🩺 Admin surface listening on %s", cfg.Admin.Addr)
		admin.InitMetrics()
		if err := admin.StartMetricsServer(":9091"); err != nil {
			log.Printf("⚠️ Failed to start metrics server: %v", err)
		}
	}

	if cfg.Database.MySQLDSN != "" {
		trail, err := audit.NewTrail(cfg.Database.MySQLDSN)
		if err != nil {
			log.Printf("⚠️ Audit trail disabled: %v", err)
		} else {
			s.auditTrail = trail
		}
	}

	s.telemetry = telemetry.NewCache(cfg.Database.RedisAddr, cfg.Database.RedisEnabled, cfg.Database.RedisCleanupInterval)

	if cfg.Debug.EnablePCAP {
		pcap, err := debug.NewCapture(cfg.Debug.PCAPPath)
		if err != nil {
			log.Printf("⚠️ Packet capture disabled: %v", err)
		} else {
			s.capture = pcap
		}
	}

	s.wireObservers()
	return nil
}

// wireObservers connects the reactor and handler's optional callback
// hooks to the ambient/domain components, keeping internal/srtla free
// of any import on admin, audit, or telemetry.
func (s *ReceiverServer) wireObservers() {
	s.handler.OnGroupCreated = func(g *srtla.Group, peer string) {
		if s.auditTrail != nil {
			s.auditTrail.RecordGroupCreated(hexGroupID(g), peer)
		}
	}
	s.reactor.OnGroupDestroyed = func(g *srtla.Group, reason string) {
		if s.auditTrail != nil {
			s.auditTrail.RecordGroupDestroyed(hexGroupID(g), reason)
		}
	}
	s.reactor.OnConnectionRecovered = func(g *srtla.Group, c *srtla.Connection) {
		if s.auditTrail != nil {
			s.auditTrail.RecordConnectionRecovered(hexGroupID(g), c.Addr.String())
		}
	}
	if s.capture != nil {
		s.reactor.OnIngressDatagram = s.capture.Write
		s.reactor.OnEgressDatagram = s.capture.Write
	}
	s.reactor.OnTick = func(groups []*srtla.Group, nowMS int64) {
		if s.adminServer != nil {
			views := admin.BuildSnapshot(groups)
			s.adminServer.SetSnapshot(views)
			s.adminHub.Broadcast(views)
			admin.RefreshFromRegistry(groups)
		}
		if s.telemetry != nil {
			for _, g := range groups {
				// Only publish right after an evaluation pass: the
				// snapshot's kbps figure is only meaningful over the
				// same window RatesSince was computed against.
				if g.LastQualityEval == nowMS {
					s.telemetry.Publish(hexGroupID(g), buildGroupSnapshot(g))
				}
			}
		}
	}
}

func hexGroupID(g *srtla.Group) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[i*2] = hexDigits[g.ID[i]>>4]
		out[i*2+1] = hexDigits[g.ID[i]&0xf]
	}
	return string(out)
}

func buildGroupSnapshot(g *srtla.Group) telemetry.GroupSnapshot {
	snap := telemetry.GroupSnapshot{
		GroupID:     hexGroupID(g),
		Connections: len(g.Connections),
	}
	for _, c := range g.Connections {
		snap.TotalKbps += c.Metrics.LastKbps
		snap.PerConnection = append(snap.PerConnection, telemetry.ConnSnapshot{
			Peer:          c.Addr.String(),
			ErrorPoints:   c.ErrorPoints,
			WeightPercent: c.WeightPercent,
			AckThrottle:   c.AckThrottleFactor,
		})
	}
	return snap
}

func (s *ReceiverServer) setupSignalHandler() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Println("🛑 Shutdown signal received")
		s.Shutdown()
	}()
}

// Shutdown performs a graceful, idempotent shutdown of every
// component.
func (s *ReceiverServer) Shutdown() {
	log.Println("🔄 Starting graceful shutdown...")

	s.mu.Lock()
	if s.isShuttingDown {
		s.mu.Unlock()
		return
	}
	s.isShuttingDown = true
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	if s.adminServer != nil {
		s.adminServer.Stop()
	}
	admin.StopMetricsServer()
	if s.auditTrail != nil {
		s.auditTrail.Close()
	}
	if s.telemetry != nil {
		s.telemetry.Close()
	}
	if s.capture != nil {
		s.capture.Close()
	}
	if s.ingressConn != nil {
		s.ingressConn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All goroutines completed successfully")
	case <-time.After(5 * time.Second):
		log.Println("⚠️ Shutdown timed out waiting for goroutines")
	}

	log.Println("✅ Graceful shutdown completed")
}

// GetConfig returns the server's active configuration.
func (s *ReceiverServer) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// IsShuttingDown reports whether shutdown has begun.
func (s *ReceiverServer) IsShuttingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isShuttingDown
}

// WaitForShutdown blocks until the server's context is cancelled.
func (s *ReceiverServer) WaitForShutdown() {
	<-s.ctx.Done()
}
