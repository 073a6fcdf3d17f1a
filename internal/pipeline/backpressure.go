package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

const (
	// DefaultMemThresholdMB is the resident-memory budget per process.
	DefaultMemThresholdMB = 2048
	// DefaultCPUThresholdPct is the CPU usage budget per process.
	DefaultCPUThresholdPct = 80.0

	// sampleInterval is how often the governor reads resource usage.
	sampleInterval = time.Second

	// frameInterval is one frame period at the reference 30fps; the
	// capture delay scales it by the slowdown factor.
	frameInterval = 33 * time.Millisecond
)

// Sample is one resource-usage reading.
type Sample struct {
	RSSBytes uint64
	CPUPct   float64
}

// Sampler reads the process's current resource usage.
type Sampler interface {
	Sample() (Sample, error)
}

// Governor converts resource pressure into a capture slowdown factor and
// a suggested queue capacity. Producers call Delay before each capture;
// a Run loop keeps the factor current.
type Governor struct {
	sampler Sampler
	log     *slog.Logger

	memThreshold uint64
	cpuThreshold float64

	mu       sync.RWMutex
	slowdown float64
	memRatio float64
	cpuRatio float64
}

// NewGovernor creates a governor with the given budgets. Zero thresholds
// fall back to defaults; a nil sampler uses the platform sampler.
func NewGovernor(sampler Sampler, memThresholdMB int, cpuThresholdPct float64, log *slog.Logger) *Governor {
	if sampler == nil {
		sampler = NewPlatformSampler()
	}
	if memThresholdMB <= 0 {
		memThresholdMB = DefaultMemThresholdMB
	}
	if cpuThresholdPct <= 0 {
		cpuThresholdPct = DefaultCPUThresholdPct
	}
	if log == nil {
		log = slog.Default()
	}
	return &Governor{
		sampler:      sampler,
		log:          log,
		memThreshold: uint64(memThresholdMB) << 20,
		cpuThreshold: cpuThresholdPct,
		slowdown:     1.0,
	}
}

// Run samples resource usage until the context is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Observe()
		}
	}
}

// Observe takes one sample and updates the slowdown factor. Exposed so
// tests and tight loops can drive the governor without the Run loop.
func (g *Governor) Observe() {
	sample, err := g.sampler.Sample()
	if err != nil {
		g.log.Debug("resource sample failed", "error", err)
		return
	}

	memRatio := float64(sample.RSSBytes) / float64(g.memThreshold)
	cpuRatio := sample.CPUPct / g.cpuThreshold
	pressure := max(memRatio, cpuRatio)

	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.slowdown
	switch {
	case pressure > 1.5:
		g.slowdown = min(3.0, g.slowdown*1.2)
	case pressure > 1.0:
		g.slowdown = min(2.0, g.slowdown*1.1)
	case pressure < 0.7:
		g.slowdown = max(1.0, g.slowdown*0.9)
	}
	g.memRatio = memRatio
	g.cpuRatio = cpuRatio
	if g.slowdown != prev && g.slowdown > 1.0 {
		g.log.Debug("capture slowdown adjusted",
			"slowdown", g.slowdown, "memRatio", memRatio, "cpuRatio", cpuRatio)
	}
}

// Slowdown returns the current capture slowdown factor, >= 1.
func (g *Governor) Slowdown() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.slowdown
}

// Delay returns how long the producer should pause before the next
// capture. At slowdown 1 there is no pause.
func (g *Governor) Delay() time.Duration {
	s := g.Slowdown()
	if s <= 1.0 {
		return 0
	}
	return time.Duration(float64(frameInterval) * (s - 1.0))
}

// SuggestQueueSize recommends a frame-queue capacity given the current
// capacity and observed drop rate: shrink under memory pressure, grow
// when frames are dropping with memory to spare.
func (g *Governor) SuggestQueueSize(current int, dropRate float64) int {
	g.mu.RLock()
	memRatio := g.memRatio
	g.mu.RUnlock()

	switch {
	case memRatio > 1.0:
		return clampCapacity(int(float64(current) * 0.7))
	case dropRate > 0.05 && memRatio < 0.6:
		return clampCapacity(int(float64(current) * 1.3))
	}
	return clampCapacity(current)
}

// procSampler reads RSS and CPU time from /proc, deriving CPU percent
// from the delta between consecutive samples.
type procSampler struct {
	mu       sync.Mutex
	lastCPU  float64
	lastWall time.Time
}

// NewPlatformSampler returns a /proc-backed sampler, falling back to
// runtime memory stats where /proc is unavailable.
func NewPlatformSampler() Sampler {
	if _, err := procfs.Self(); err != nil {
		return runtimeSampler{}
	}
	return &procSampler{}
}

func (s *procSampler) Sample() (Sample, error) {
	proc, err := procfs.Self()
	if err != nil {
		return Sample{}, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cpuTime := stat.CPUTime()
	var cpuPct float64
	if !s.lastWall.IsZero() {
		if wall := now.Sub(s.lastWall).Seconds(); wall > 0 {
			cpuPct = (cpuTime - s.lastCPU) / wall * 100
		}
	}
	s.lastCPU = cpuTime
	s.lastWall = now

	return Sample{
		RSSBytes: uint64(stat.ResidentMemory()),
		CPUPct:   cpuPct,
	}, nil
}

// runtimeSampler approximates RSS with the Go heap and reports no CPU
// reading. Good enough to keep the memory budget honest off Linux.
type runtimeSampler struct{}

func (runtimeSampler) Sample() (Sample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Sample{RSSBytes: ms.HeapInuse + ms.StackInuse}, nil
}
