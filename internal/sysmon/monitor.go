// Package sysmon samples host CPU and memory so that the fetch and
// batch layers can scale their concurrency to what the machine can
// actually sustain.
package sysmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler is the read side consumed by the batch processor and the
// HTTP fetcher. Implementations must be safe for concurrent use.
type Sampler interface {
	// CPUPercent returns the most recent system-wide CPU usage in [0,100].
	CPUPercent() float64
	// MemoryPercent returns used system memory in [0,100].
	MemoryPercent() float64
	// AvailableMemoryMB returns available system memory in megabytes.
	AvailableMemoryMB() int64
}

// Monitor periodically samples gopsutil and caches the readings so that
// hot paths never block on a 100ms CPU sample. Start launches the
// background loop; Stop cancels it.
type Monitor struct {
	mu      sync.RWMutex
	cpuPct  float64
	memPct  float64
	availMB int64

	cancel  context.CancelFunc
	running bool
}

func NewMonitor() *Monitor {
	m := &Monitor{}
	m.sample()
	return m
}

// Start begins background sampling at the given interval. Calling Start
// on a running monitor is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop cancels the background loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.running = false
	}
}

func (m *Monitor) sample() {
	var cpuPct float64
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		slog.Warn("cpu sample failed", "error", err)
	} else if len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	var memPct float64
	var availMB int64
	if vm, err := mem.VirtualMemory(); err != nil {
		slog.Warn("memory sample failed", "error", err)
	} else {
		memPct = vm.UsedPercent
		availMB = int64(vm.Available / (1024 * 1024))
	}

	m.mu.Lock()
	m.cpuPct = cpuPct
	m.memPct = memPct
	m.availMB = availMB
	m.mu.Unlock()
}

func (m *Monitor) CPUPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpuPct
}

func (m *Monitor) MemoryPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memPct
}

func (m *Monitor) AvailableMemoryMB() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availMB
}

// Static is a fixed Sampler used by tests and by callers that want to
// pin the scaling decisions to known readings.
type Static struct {
	CPU     float64
	Mem     float64
	AvailMB int64
}

func (s Static) CPUPercent() float64      { return s.CPU }
func (s Static) MemoryPercent() float64   { return s.Mem }
func (s Static) AvailableMemoryMB() int64 { return s.AvailMB }
