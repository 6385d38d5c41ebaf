package scrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceGuardConfig thresholds for the pre-launch resource check
type ResourceGuardConfig struct {
	MinFreeMemory    int64         // bytes that must remain available to launch a browser
	CPULoadThreshold float64       // percent; values >= 200 disable the CPU check
	SampleInterval   time.Duration // background sampling cadence
}

// ResourceGuard samples system memory and CPU load in the background and
// gates browser launches while the host is under pressure. Each visit
// spawns a full browser process, so the check runs before every launch.
type ResourceGuard struct {
	cfg ResourceGuardConfig

	mu        sync.RWMutex
	available int64
	cpuUsage  float64

	cancel  context.CancelFunc
	running bool
}

// NewResourceGuard builds a guard and takes an initial memory sample so
// Allow works before Start.
func NewResourceGuard(cfg ResourceGuardConfig) *ResourceGuard {
	if cfg.MinFreeMemory <= 0 {
		cfg.MinFreeMemory = 300 * 1024 * 1024
	}
	if cfg.CPULoadThreshold <= 0 {
		cfg.CPULoadThreshold = 90
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}

	g := &ResourceGuard{cfg: cfg}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("reading system memory failed, resource checks degraded")
	} else {
		g.available = int64(vmStat.Available)
		log.Info().Msgf("system memory: %.2f GB total, %.2f GB available",
			float64(vmStat.Total)/(1024*1024*1024), float64(vmStat.Available)/(1024*1024*1024))
	}
	return g
}

// Start launches the background sampling loop. Idempotent.
func (g *ResourceGuard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.running = true
	go g.sampleLoop(ctx)
}

// Stop halts background sampling
func (g *ResourceGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running && g.cancel != nil {
		g.cancel()
		g.cancel = nil
		g.running = false
	}
}

func (g *ResourceGuard) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *ResourceGuard) sample() {
	var available int64
	if vmStat, err := mem.VirtualMemory(); err != nil {
		log.Warn().Err(err).Msg("reading system memory failed")
	} else {
		available = int64(vmStat.Available)
	}

	// Short sampling window so the loop never stalls long.
	var usage float64
	if percentages, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		log.Warn().Err(err).Msg("reading CPU usage failed")
	} else if len(percentages) > 0 {
		usage = percentages[0]
	}

	g.mu.Lock()
	if available > 0 {
		g.available = available
	}
	g.cpuUsage = usage
	g.mu.Unlock()

	if pressure := pressureLevel(available); pressure != "normal" {
		log.Warn().Msgf("memory pressure %s: %dMB available", pressure, available/(1024*1024))
	}
}

// Allow reports whether a browser launch should proceed, with a reason
// when it should not.
func (g *ResourceGuard) Allow() (bool, string) {
	g.mu.RLock()
	available := g.available
	usage := g.cpuUsage
	g.mu.RUnlock()

	if available > 0 && available < g.cfg.MinFreeMemory {
		return false, fmt.Sprintf("low memory: %dMB available", available/(1024*1024))
	}
	if g.cfg.CPULoadThreshold < 200 && usage > g.cfg.CPULoadThreshold {
		return false, fmt.Sprintf("high CPU load: %.1f%%", usage)
	}
	return true, ""
}

func pressureLevel(available int64) string {
	availableMB := available / (1024 * 1024)
	switch {
	case availableMB < 200:
		return "emergency"
	case availableMB < 300:
		return "critical"
	case availableMB < 500:
		return "warning"
	default:
		return "normal"
	}
}
