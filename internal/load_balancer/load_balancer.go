package load_balancer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/AnishMulay/flashfs/internal/log_service"
)

const (
	maxPendingOps        = 1000
	highLatencyThreshold = 100 * time.Millisecond
)

// DriveLoad is a point-in-time copy of one drive's counters.
type DriveLoad struct {
	PendingOps   int64
	TotalBytes   uint64
	AvgLatencyMs float64
}

type driveStats struct {
	pendingOps   atomic.Int64
	totalBytes   atomic.Uint64
	avgLatencyMs atomic.Uint64 // float64 bits
}

// LoadBalancer tracks per-drive load with lock-free counters and redirects
// requests away from a saturated primary drive.
type LoadBalancer struct {
	stats []driveStats
	ls    log_service.LogService
}

func NewLoadBalancer(numDrives int, ls log_service.LogService) *LoadBalancer {
	return &LoadBalancer{
		stats: make([]driveStats, numDrives),
		ls:    ls,
	}
}

// SelectDrive returns the effective drive for a request whose primary drive
// is primary. The primary wins unless its pending count has reached the
// queue bound, in which case the least-loaded drive is chosen, ties broken
// by lowest index.
func (lb *LoadBalancer) SelectDrive(primary int, size int64) int {
	if primary < 0 || primary >= len(lb.stats) {
		lb.ls.Error(log_service.LogEvent{
			Message:  "Invalid primary drive index",
			Metadata: map[string]any{"primary": primary, "size": size},
		})
		return 0
	}

	if lb.stats[primary].pendingOps.Load() < maxPendingOps {
		return primary
	}

	selected := 0
	minOps := lb.stats[0].pendingOps.Load()
	for i := range lb.stats {
		if ops := lb.stats[i].pendingOps.Load(); ops < minOps {
			minOps = ops
			selected = i
		}
	}

	if selected != primary {
		lb.ls.Debug(log_service.LogEvent{
			Message:  "Load balanced request away from saturated drive",
			Metadata: map[string]any{"primary": primary, "selected": selected, "size": size},
		})
	}
	return selected
}

// StartOperation marks one request as pending on the drive. Callers pair
// every StartOperation with exactly one RecordOperation.
func (lb *LoadBalancer) StartOperation(drive int) {
	if drive < 0 || drive >= len(lb.stats) {
		lb.ls.Error(log_service.LogEvent{
			Message:  "Invalid drive index in StartOperation",
			Metadata: map[string]any{"drive": drive},
		})
		return
	}
	lb.stats[drive].pendingOps.Add(1)
}

// RecordOperation folds a completed request back into the drive's counters.
func (lb *LoadBalancer) RecordOperation(drive int, size int64, duration time.Duration) {
	if drive < 0 || drive >= len(lb.stats) {
		lb.ls.Error(log_service.LogEvent{
			Message:  "Invalid drive index in RecordOperation",
			Metadata: map[string]any{"drive": drive},
		})
		return
	}
	stats := &lb.stats[drive]

	if size > 0 {
		stats.totalBytes.Add(uint64(size))
	}

	durationMs := float64(duration) / float64(time.Millisecond)
	for {
		oldBits := stats.avgLatencyMs.Load()
		newBits := math.Float64bits((math.Float64frombits(oldBits) + durationMs) / 2)
		if stats.avgLatencyMs.CompareAndSwap(oldBits, newBits) {
			break
		}
	}

	if stats.pendingOps.Add(-1) < 0 {
		stats.pendingOps.Add(1)
		lb.ls.Error(log_service.LogEvent{
			Message:  "Pending operations underflow",
			Metadata: map[string]any{"drive": drive},
		})
	}

	if duration > highLatencyThreshold {
		lb.ls.Info(log_service.LogEvent{
			Message:  "High latency operation",
			Metadata: map[string]any{"drive": drive, "durationMs": durationMs},
		})
	}
}

// Snapshot copies out every drive's counters, for monitoring.
func (lb *LoadBalancer) Snapshot() []DriveLoad {
	loads := make([]DriveLoad, len(lb.stats))
	for i := range lb.stats {
		loads[i] = DriveLoad{
			PendingOps:   lb.stats[i].pendingOps.Load(),
			TotalBytes:   lb.stats[i].totalBytes.Load(),
			AvgLatencyMs: math.Float64frombits(lb.stats[i].avgLatencyMs.Load()),
		}
	}
	return loads
}
