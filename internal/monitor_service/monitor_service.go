package monitor_service

import (
	"strconv"
	"time"

	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/storage_service"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	drivePendingOps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flashfs",
		Subsystem: "drive",
		Name:      "pending_ops",
		Help:      "Requests submitted to the drive but not yet completed.",
	}, []string{"drive"})

	driveTotalBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flashfs",
		Subsystem: "drive",
		Name:      "total_bytes",
		Help:      "Cumulative bytes moved through the drive.",
	}, []string{"drive"})

	driveAvgLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flashfs",
		Subsystem: "drive",
		Name:      "avg_latency_ms",
		Help:      "Exponentially averaged per-operation latency.",
	}, []string{"drive"})

	driveQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flashfs",
		Subsystem: "drive",
		Name:      "queue_depth",
		Help:      "Requests currently sitting in the drive queue.",
	}, []string{"drive"})

	catalogEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flashfs",
		Subsystem: "catalog",
		Name:      "entries",
		Help:      "Paths present in the metadata catalog.",
	})
)

func init() {
	Registry.MustRegister(
		drivePendingOps,
		driveTotalBytes,
		driveAvgLatency,
		driveQueueDepth,
		catalogEntries,
	)
}

// Monitor periodically samples the accelerator's counters, mirrors them into
// the prometheus registry and logs a summary line.
type Monitor struct {
	storage  storage_service.StorageService
	ls       log_service.LogService
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewMonitor(storage storage_service.StorageService, ls log_service.LogService, interval time.Duration) *Monitor {
	return &Monitor{
		storage:  storage,
		ls:       ls,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.ls.Info(log_service.LogEvent{
		Message:  "Starting monitor",
		Metadata: map[string]any{"interval": m.interval.String()},
	})
	go m.loop()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
	m.ls.Info(log_service.LogEvent{Message: "Monitor stopped"})
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) collect() {
	loads := m.storage.DriveLoads()
	depths := m.storage.DriveQueueDepths()

	var pending int64
	var totalBytes uint64
	for i, load := range loads {
		label := strconv.Itoa(i)
		drivePendingOps.WithLabelValues(label).Set(float64(load.PendingOps))
		driveTotalBytes.WithLabelValues(label).Set(float64(load.TotalBytes))
		driveAvgLatency.WithLabelValues(label).Set(load.AvgLatencyMs)
		if i < len(depths) {
			driveQueueDepth.WithLabelValues(label).Set(float64(depths[i]))
		}
		pending += load.PendingOps
		totalBytes += load.TotalBytes
	}

	entries := m.storage.CatalogSize()
	catalogEntries.Set(float64(entries))

	m.ls.Info(log_service.LogEvent{
		Message: "Drive bank status",
		Metadata: map[string]any{
			"pendingOps":     pending,
			"totalBytes":     totalBytes,
			"catalogEntries": entries,
		},
	})
}
