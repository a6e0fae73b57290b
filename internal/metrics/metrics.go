// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics maintains the counters, gauges, and histograms of spec §6
// and exposes them on a GET /metrics endpoint. When disabled, every update
// is a no-op and no port is opened, matching spec §4.9.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the metric registry and, when enabled, an HTTP server
// serving a text-format dump. All Add/Set/Observe methods are safe to call
// from any goroutine; prometheus client types are atomic internally.
type Exporter struct {
	enabled bool
	machine string
	reg     *prometheus.Registry

	filesScanned       *prometheus.CounterVec
	directoriesScanned *prometheus.CounterVec
	archivesScanned    *prometheus.CounterVec
	archiveEntries     *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	dbWrites           *prometheus.CounterVec
	bytesHashed        *prometheus.CounterVec

	scanInProgress *prometheus.GaugeVec
	queuePending   *prometheus.GaugeVec
	workersRunning *prometheus.GaugeVec

	fileDuration  *prometheus.HistogramVec
	flushDuration *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec

	server *http.Server
}

// New builds an Exporter. When enabled is false every method is a cheap
// no-op and Listen never opens a port.
func New(enabled bool, machine string) *Exporter {
	e := &Exporter{enabled: enabled, machine: machine}
	if !enabled {
		return e
	}

	e.reg = prometheus.NewRegistry()
	labels := []string{"machine"}

	e.filesScanned = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "files_scanned_total", Help: "Files considered by the scanner.",
	}, labels)
	e.directoriesScanned = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "directories_scanned_total", Help: "Directories entered by the walker.",
	}, labels)
	e.archivesScanned = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "archives_scanned_total", Help: "Archives opened, by format.",
	}, append(labels, "type"))
	e.archiveEntries = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "archive_entries_total", Help: "Archive entries processed, by format.",
	}, append(labels, "type"))
	e.errorsTotal = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total", Help: "Errors encountered, by scope.",
	}, append(labels, "scope"))
	e.dbWrites = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "db_writes_total", Help: "Catalog rows written.",
	}, labels)
	e.bytesHashed = promauto.With(e.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "bytes_hashed_total", Help: "Bytes read while hashing.",
	}, labels)

	e.scanInProgress = promauto.With(e.reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "scan_in_progress", Help: "1 while a scan is running.",
	}, labels)
	e.queuePending = promauto.With(e.reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_files_pending", Help: "Paths buffered in the walker-to-worker queue.",
	}, labels)
	e.workersRunning = promauto.With(e.reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "workers_running", Help: "Worker tasks currently alive.",
	}, labels)

	e.fileDuration = promauto.With(e.reg).NewHistogramVec(prometheus.HistogramOpts{
		Name: "scan_file_duration_seconds", Help: "Time to hash one file.", Buckets: prometheus.DefBuckets,
	}, labels)
	e.flushDuration = promauto.With(e.reg).NewHistogramVec(prometheus.HistogramOpts{
		Name: "db_flush_duration_seconds", Help: "Time to commit one batch flush.", Buckets: prometheus.DefBuckets,
	}, labels)
	e.batchSize = promauto.With(e.reg).NewHistogramVec(prometheus.HistogramOpts{
		Name: "batch_size", Help: "Records committed per flush.", Buckets: []float64{1, 10, 50, 100, 200, 500, 1000},
	}, labels)

	return e
}

func (e *Exporter) IncFilesScanned() {
	if !e.enabled {
		return
	}
	e.filesScanned.WithLabelValues(e.machine).Inc()
}

func (e *Exporter) IncDirectoriesScanned() {
	if !e.enabled {
		return
	}
	e.directoriesScanned.WithLabelValues(e.machine).Inc()
}

func (e *Exporter) IncArchivesScanned(archiveType string) {
	if !e.enabled {
		return
	}
	e.archivesScanned.WithLabelValues(e.machine, archiveType).Inc()
}

func (e *Exporter) AddArchiveEntries(archiveType string, n int) {
	if !e.enabled || n == 0 {
		return
	}
	e.archiveEntries.WithLabelValues(e.machine, archiveType).Add(float64(n))
}

func (e *Exporter) IncErrors(scope string) {
	if !e.enabled {
		return
	}
	e.errorsTotal.WithLabelValues(e.machine, scope).Inc()
}

func (e *Exporter) AddDBWrites(n int) {
	if !e.enabled || n == 0 {
		return
	}
	e.dbWrites.WithLabelValues(e.machine).Add(float64(n))
}

func (e *Exporter) AddBytesHashed(n int64) {
	if !e.enabled || n == 0 {
		return
	}
	e.bytesHashed.WithLabelValues(e.machine).Add(float64(n))
}

func (e *Exporter) SetScanInProgress(v bool) {
	if !e.enabled {
		return
	}
	f := 0.0
	if v {
		f = 1.0
	}
	e.scanInProgress.WithLabelValues(e.machine).Set(f)
}

func (e *Exporter) SetQueuePending(n int) {
	if !e.enabled {
		return
	}
	e.queuePending.WithLabelValues(e.machine).Set(float64(n))
}

func (e *Exporter) SetWorkersRunning(n int) {
	if !e.enabled {
		return
	}
	e.workersRunning.WithLabelValues(e.machine).Set(float64(n))
}

func (e *Exporter) ObserveFileDuration(d time.Duration) {
	if !e.enabled {
		return
	}
	e.fileDuration.WithLabelValues(e.machine).Observe(d.Seconds())
}

func (e *Exporter) ObserveFlushDuration(d time.Duration) {
	if !e.enabled {
		return
	}
	e.flushDuration.WithLabelValues(e.machine).Observe(d.Seconds())
}

func (e *Exporter) ObserveBatchSize(n int) {
	if !e.enabled {
		return
	}
	e.batchSize.WithLabelValues(e.machine).Observe(float64(n))
}

// Listen starts the /metrics HTTP server. port == 0 auto-selects starting
// at 9000 (spec §6); Listen is a no-op when the exporter is disabled.
func (e *Exporter) Listen(host string, port int, logger *slog.Logger) error {
	if !e.enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	addr, ln, err := bind(host, port)
	if err != nil {
		return fmt.Errorf("metrics: bind: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	logger.Info("metrics.http.start", "addr", addr)
	go func() {
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
	return nil
}

// bind resolves host:port, auto-selecting a port starting at 9000 when port
// is 0 (spec §6).
func bind(host string, port int) (string, net.Listener, error) {
	if port != 0 {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		return addr, ln, err
	}
	for p := 9000; p < 9100; p++ {
		addr := fmt.Sprintf("%s:%d", host, p)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return addr, ln, nil
		}
	}
	return "", nil, fmt.Errorf("no free port found starting at 9000")
}

// Close shuts down the metrics HTTP server, if one is running.
func (e *Exporter) Close(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
