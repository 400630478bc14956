package bench

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceMonitor samples process and system resource usage for the
// report. Baselines are captured at construction so CPU usage reflects
// the run, not the whole process lifetime.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewResourceMonitor creates a monitor for the current process.
func NewResourceMonitor() *ResourceMonitor {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	var start float64
	if proc != nil {
		if cpuTime, err := proc.Times(); err == nil {
			start = cpuTime.Total()
		}
	}
	return &ResourceMonitor{
		process:      proc,
		startCPUTime: start,
		startTime:    time.Now(),
	}
}

// ResourceUsage is one sample of resource consumption.
type ResourceUsage struct {
	CPUPercent            float64 `json:"cpu_percent"`
	MemoryRSS             uint64  `json:"memory_rss"`
	MemoryVMS             uint64  `json:"memory_vms"`
	SystemMemoryPercent   float64 `json:"system_memory_percent"`
	SystemMemoryAvailable uint64  `json:"system_memory_available"`
	GoroutineCount        int     `json:"goroutine_count"`
	ThreadCount           int32   `json:"thread_count"`
	OpenFDs               int32   `json:"open_fds"`
}

// Sample captures current resource usage. Individual probes that fail
// leave their fields zero rather than failing the sample.
func (rm *ResourceMonitor) Sample() *ResourceUsage {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	usage := &ResourceUsage{
		GoroutineCount: runtime.NumGoroutine(),
	}
	if rm.process == nil {
		return usage
	}

	if cpuTime, err := rm.process.Times(); err == nil {
		elapsed := time.Since(rm.startTime).Seconds()
		if elapsed > 0 {
			usage.CPUPercent = ((cpuTime.Total() - rm.startCPUTime) / elapsed) * 100
		}
	}

	if memInfo, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = memInfo.RSS
		usage.MemoryVMS = memInfo.VMS
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vmStat.UsedPercent
		usage.SystemMemoryAvailable = vmStat.Available
	}

	usage.ThreadCount, _ = rm.process.NumThreads()
	usage.OpenFDs, _ = rm.process.NumFDs()
	return usage
}
