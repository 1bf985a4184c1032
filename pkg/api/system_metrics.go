package api

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type processMetrics struct {
	CPUPercent float64
	MemRSS     uint64
	MemPercent float64
}

// collectProcessMetrics reads this process's resource use. Anything the
// platform cannot report is left zero.
func collectProcessMetrics(ctx context.Context) processMetrics {
	var m processMetrics

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return m
	}
	// average since process start, so no sampling delay
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		m.CPUPercent = pct
	}
	if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
		m.MemRSS = info.RSS
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 && m.MemRSS > 0 {
		m.MemPercent = float64(m.MemRSS) / float64(vm.Total) * 100
	}
	return m
}
