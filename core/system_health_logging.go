package core

// system_health_logging.go - structured JSON logging plus Prometheus gauges
// for node/peer health. Adapted from the teacher's ledger/coin/txpool health
// logger: the metrics surface now tracks what this package actually owns —
// peer count, bytes transferred, protocol errors, scheduler queue depth —
// instead of chain height, supply and mempool size (out of scope, spec §1).

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics captures a snapshot of node/network health statistics.
type Metrics struct {
	PeerCount       int    `json:"peer_count"`
	BytesIn         uint64 `json:"bytes_in"`
	BytesOut        uint64 `json:"bytes_out"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	SchedulerQueued int    `json:"scheduler_queued"`
	MemAlloc        uint64 `json:"mem_alloc"`
	NumGoroutines   int    `json:"goroutines"`
	Timestamp       int64  `json:"timestamp"`
}

// HealthLogger provides simple system monitoring and structured logging for
// a running Node.
type HealthLogger struct {
	node      *Node
	scheduler *Scheduler

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry           *prometheus.Registry
	peerCountGauge     prometheus.Gauge
	bytesInCounter     prometheus.Counter
	bytesOutCounter    prometheus.Counter
	protocolErrCounter prometheus.Counter
	queueDepthGauge    prometheus.Gauge
	memAllocGauge      prometheus.Gauge
	goroutinesGauge    prometheus.Gauge
	errorCounter       prometheus.Counter
}

// NewHealthLogger configures a HealthLogger writing JSON logs to the given path.
func NewHealthLogger(n *Node, sched *Scheduler, path string) (*HealthLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	h := &HealthLogger{node: n, scheduler: sched, log: lg, file: f, registry: reg}

	h.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wirenode_peer_count",
		Help: "Number of connected peers",
	})
	h.bytesInCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wirenode_bytes_in_total",
		Help: "Total bytes read from peer connections",
	})
	h.bytesOutCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wirenode_bytes_out_total",
		Help: "Total bytes written to peer connections",
	})
	h.protocolErrCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wirenode_protocol_errors_total",
		Help: "Total protocol errors observed across all connections",
	})
	h.queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wirenode_scheduler_queue_depth",
		Help: "Number of tasks waiting in the cooperative scheduler's ready queue",
	})
	h.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wirenode_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	h.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wirenode_goroutines",
		Help: "Number of running goroutines",
	})
	h.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wirenode_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		h.peerCountGauge,
		h.bytesInCounter,
		h.bytesOutCounter,
		h.protocolErrCounter,
		h.queueDepthGauge,
		h.memAllocGauge,
		h.goroutinesGauge,
		h.errorCounter,
	)

	return h, nil
}

// Close releases the underlying log file.
func (h *HealthLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// Rotate switches logging to a new file path.
func (h *HealthLogger) Rotate(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.log.SetOutput(f)
	h.file = f
	return nil
}

// LogEvent records an arbitrary message with the specified log level.
func (h *HealthLogger) LogEvent(level logrus.Level, msg string) {
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.Log(level, msg)
	h.mu.Unlock()
}

// LogStructured records msg at level alongside fields, a TLV-encoded SObject
// (see svalue.go) logged as a hex field so arbitrary typed key/value data can
// ride along without widening the Metrics struct for every ad-hoc event.
func (h *HealthLogger) LogStructured(level logrus.Level, msg string, fields SVal) {
	var buf bytes.Buffer
	fieldsHex := ""
	if err := EncodeTLV(&buf, fields); err == nil {
		fieldsHex = hex.EncodeToString(buf.Bytes())
	}
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.WithField("fields_tlv", fieldsHex).Log(level, msg)
	h.mu.Unlock()
}

// RecordProtocolError increments the protocol-error counter. Transport calls
// this whenever ParseFrame or message decoding fails, and whenever the
// dispatcher (handshake validation) returns a *ProtocolError.
func (h *HealthLogger) RecordProtocolError() {
	h.protocolErrCounter.Inc()
}

// RecordBytes adds to the cumulative bytes in/out counters.
func (h *HealthLogger) RecordBytes(in, out uint64) {
	if in > 0 {
		h.bytesInCounter.Add(float64(in))
	}
	if out > 0 {
		h.bytesOutCounter.Add(float64(out))
	}
}

// MetricsSnapshot gathers current metrics from the node, scheduler and runtime.
func (h *HealthLogger) MetricsSnapshot() Metrics {
	m := Metrics{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.MemAlloc = mem.Alloc

	if h.node != nil {
		m.PeerCount = len(h.node.Peers())
	}
	if h.scheduler != nil {
		m.SchedulerQueued = h.scheduler.QueueDepth()
	}
	return m
}

// RecordMetrics captures the current snapshot and updates Prometheus gauges.
func (h *HealthLogger) RecordMetrics() {
	m := h.MetricsSnapshot()
	h.peerCountGauge.Set(float64(m.PeerCount))
	h.queueDepthGauge.Set(float64(m.SchedulerQueued))
	h.memAllocGauge.Set(float64(m.MemAlloc))
	h.goroutinesGauge.Set(float64(m.NumGoroutines))
	h.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// RunMetricsCollector periodically records metrics until the context is canceled.
func (h *HealthLogger) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes a Prometheus metrics endpoint on the given address.
// It returns the underlying http.Server so callers may manage its lifecycle.
func (h *HealthLogger) StartMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv, nil
}

// ShutdownMetricsServer gracefully stops the metrics HTTP server.
func (h *HealthLogger) ShutdownMetricsServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
