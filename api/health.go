package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

type healthResponse struct {
	Status      string  `json:"status"`
	Score       float64 `json:"score"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	NetBytesIn  uint64  `json:"net_bytes_recv"`
	NetBytesOut uint64  `json:"net_bytes_sent"`
	GoRoutines  int     `json:"go_routines"`
}

const healthSampleWindow = 200 * time.Millisecond

// healthyScoreFloor is the aggregate score below which the daemon
// reports status "degraded" rather than "ok".
const healthyScoreFloor = 0.5

// handleHealth samples disk, network and CPU/memory metrics and
// reduces them to an aggregate 0..1 score, per spec §4.F/§6. It is the
// one unauthenticated route besides the bearer check itself.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cpuPercent := sampleCPUPercent(ctx)
	memPercent := sampleMemPercent()
	diskPercent := sampleDiskPercent()
	bytesRecv, bytesSent := sampleNetCounters()

	score := aggregateScore(cpuPercent, memPercent, diskPercent)
	status := "ok"
	if score < healthyScoreFloor {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		Score:       score,
		CPUPercent:  cpuPercent,
		MemPercent:  memPercent,
		DiskPercent: diskPercent,
		NetBytesIn:  bytesRecv,
		NetBytesOut: bytesSent,
		GoRoutines:  runtime.NumGoroutine(),
	})
}

func sampleCPUPercent(ctx context.Context) float64 {
	percents, err := cpu.PercentWithContext(ctx, healthSampleWindow, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func sampleMemPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}

func sampleDiskPercent() float64 {
	usage, err := disk.Usage("/")
	if err != nil {
		return 0
	}
	return usage.UsedPercent
}

func sampleNetCounters() (recv uint64, sent uint64) {
	counters, err := net.IOCounters(false)
	if err != nil || len(counters) == 0 {
		return 0, 0
	}
	return counters[0].BytesRecv, counters[0].BytesSent
}

// aggregateScore folds the three utilization percentages into a
// single 0..1 health score; each dimension contributes equally and
// saturates at 100% utilization.
func aggregateScore(cpuPercent, memPercent, diskPercent float64) float64 {
	headroom := func(pct float64) float64 {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		return 1 - pct/100
	}
	return (headroom(cpuPercent) + headroom(memPercent) + headroom(diskPercent)) / 3
}
