package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// PoolStats wird vom Worker-Pool implementiert
type PoolStats interface {
	GetWorkerCount() int
	ActiveJobCount() int
	GetQueueCapacity() int
}

// SystemStats enthält aktuelle System- und Anwendungsstatistiken
type SystemStats struct {
	NumCPU          int     `json:"num_cpu"`
	GoRoutines      int     `json:"go_routines"`
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryAlloc     uint64  `json:"memory_alloc"`
	MemoryAllocText string  `json:"memory_alloc_text"`
	MemorySys       uint64  `json:"memory_sys"`

	// Speicher des Hosts, leer wenn nicht ermittelbar
	HostMemoryTotal   uint64  `json:"host_memory_total,omitempty"`
	HostMemoryUsedPct float64 `json:"host_memory_used_percent,omitempty"`

	// Worker-Pool-Statistiken
	WorkerCount   int `json:"worker_count"`
	ActiveJobs    int `json:"active_jobs"`
	QueueCapacity int `json:"queue_capacity"`

	ActiveSessions int `json:"active_sessions"`

	Timestamp time.Time `json:"timestamp"`
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage misst die CPU-Auslastung mit gopsutil. Messungen innerhalb von
// 500ms werden aus dem Cache beantwortet.
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	if !lastCPUTime.IsZero() && time.Since(lastCPUTime) < cpuUsageSampleRate {
		return lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Fehler bei CPU-Auslastungsmessung: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0] // Gesamtauslastung aller Kerne
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage
	return usage
}

// GetSystemStats erfasst aktuelle System- und Anwendungsstatistiken.
// pool darf nil sein.
func GetSystemStats(pool PoolStats, activeSessions int) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:          runtime.NumCPU(),
		GoRoutines:      runtime.NumGoroutine(),
		CPUUsage:        GetCPUUsage(),
		MemoryAlloc:     memStats.Alloc,
		MemoryAllocText: FormatBytes(memStats.Alloc),
		MemorySys:       memStats.Sys,
		ActiveSessions:  activeSessions,
		Timestamp:       time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostMemoryTotal = vm.Total
		stats.HostMemoryUsedPct = vm.UsedPercent
	} else {
		log.Debugf("Host memory not available: %v", err)
	}

	if pool != nil {
		stats.WorkerCount = pool.GetWorkerCount()
		stats.ActiveJobs = pool.ActiveJobCount()
		stats.QueueCapacity = pool.GetQueueCapacity()
	}

	return stats
}
