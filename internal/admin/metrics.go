// Package admin exposes the receiver's operational surface: a
// Prometheus exporter, a JSON group snapshot endpoint, a liveness
// probe, and a WebSocket feed of live quality-evaluation updates.
package admin

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"srtla-rec/internal/srtla"
)

var (
	goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "srtla_goroutines",
		Help: "Current number of goroutines",
	})
	memoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "srtla_memory_bytes",
		Help: "Current memory usage in bytes",
	})

	operationDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "srtla_operation_duration_seconds",
			Help:    "Time taken to complete reactor operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	groupsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "srtla_groups_active",
		Help: "Current number of registered groups",
	})
	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connections_active",
			Help: "Current number of member connections per group",
		},
		[]string{"group"},
	)
	connErrorPoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connection_error_points",
			Help: "Current error-points score per connection",
		},
		[]string{"group", "peer"},
	)
	connWeightPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connection_weight_percent",
			Help: "Current weight bucket per connection",
		},
		[]string{"group", "peer"},
	)
	connThrottle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connection_ack_throttle",
			Help: "Current ACK throttle factor per connection",
		},
		[]string{"group", "peer"},
	)
	connBytesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connection_bytes_total",
			Help: "Cumulative bytes received per connection",
		},
		[]string{"group", "peer"},
	)
	connNaksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_connection_naks_total",
			Help: "Cumulative NAKs observed per connection",
		},
		[]string{"group", "peer"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_errors_total",
			Help: "Total number of errors by code",
		},
		[]string{"code"},
	)
)

// InitMetrics registers every exported metric and starts periodic
// runtime-stat collection.
func InitMetrics() {
	prometheus.MustRegister(
		goroutinesGauge, memoryUsage, operationDurations,
		groupsActive, connectionsActive,
		connErrorPoints, connWeightPercent, connThrottle,
		connBytesTotal, connNaksTotal, errorsTotal,
	)
	go collectSystemMetrics()
	log.Println("metrics: initialized")
}

// RefreshFromRegistry snapshots per-connection/per-group gauges from
// live registry state; called once per reactor tick.
func RefreshFromRegistry(groups []*srtla.Group) {
	groupsActive.Set(float64(len(groups)))
	for _, g := range groups {
		label := groupLabel(g)
		connectionsActive.WithLabelValues(label).Set(float64(len(g.Connections)))
		for _, c := range g.Connections {
			peer := c.Addr.String()
			connErrorPoints.WithLabelValues(label, peer).Set(float64(c.ErrorPoints))
			connWeightPercent.WithLabelValues(label, peer).Set(float64(c.WeightPercent))
			connThrottle.WithLabelValues(label, peer).Set(c.AckThrottleFactor)
			connBytesTotal.WithLabelValues(label, peer).Set(float64(c.Metrics.Bytes))
			connNaksTotal.WithLabelValues(label, peer).Set(float64(c.Metrics.NackCount))
		}
	}
}

func groupLabel(g *srtla.Group) string {
	return hexID(g.ID)
}

func hexID(id srtla.GroupID) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[i*2] = hexDigits[id[i]>>4]
		out[i*2+1] = hexDigits[id[i]&0xf]
	}
	return string(out)
}

// IncrementError records an occurrence of an error code (see
// internal/srtla.SrtlaError.Code).
func IncrementError(code string) {
	errorsTotal.WithLabelValues(code).Inc()
}

// MeasureOperation records the duration of a reactor operation.
func MeasureOperation(operation string, start time.Time) {
	operationDurations.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

var metricsServer *http.Server

// StartMetricsServer serves /metrics on address; defaults to :9091.
func StartMetricsServer(address string) error {
	if address == "" {
		address = ":9091"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsServer = &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Printf("metrics: serving on %s", address)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()
	return nil
}

// StopMetricsServer gracefully stops the metrics HTTP server.
func StopMetricsServer() error {
	if metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsServer.Shutdown(ctx)
}

func collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		goroutinesGauge.Set(float64(runtime.NumGoroutine()))
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		memoryUsage.Set(float64(memStats.Alloc))
	}
}
