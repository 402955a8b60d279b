// Package autotune scales the analyzer's batch size to observed storage
// throughput, so a fast array keeps the analyzer fed while a slow one isn't
// overwhelmed with concurrent mediainfo invocations.
package autotune

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// Tier classifies the storage backing the media library by observed I/O
// throughput.
type Tier string

const (
	TierStandard        Tier = "standard"
	TierHighPerformance Tier = "high_performance"
	TierUltraHighPerf   Tier = "ultra_high_performance"
)

const (
	minBatchSize  = 5
	maxBatchSize  = 100
	startBatchSz  = 8
	sampleWindow  = 2 * time.Minute
	sampleCadence = 30 * time.Second

	standardThresholdMBs = 150.0
	highThresholdMBs     = 400.0
)

var tierMultiplier = map[Tier]float64{
	TierStandard:        1.2,
	TierHighPerformance: 1.5,
	TierUltraHighPerf:   2.0,
}

// Monitor samples disk I/O counters on a fixed cadence, classifies the
// storage tier from observed MB/s over a trailing window, and exposes the
// analyzer batch size that tier implies. It never drives the analyzer
// directly — a caller reads BatchSize() before each dispatch.
type Monitor struct {
	mu        sync.Mutex
	logger    *slog.Logger
	batchSize int
	tier      Tier

	lastCounters map[string]disk.IOCountersStat
	lastSampleAt time.Time
	samples      []float64 // trailing throughput samples, MB/s
}

// NewMonitor builds a Monitor starting at the baseline batch size.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:    logger.With("component", "autotune"),
		batchSize: startBatchSz,
		tier:      TierStandard,
	}
}

// BatchSize returns the current analyzer batch size.
func (m *Monitor) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSize
}

// Tier returns the current storage tier classification.
func (m *Monitor) Tier() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

// Run samples disk throughput every sampleCadence until ctx is canceled,
// reclassifying the tier and scaling the batch size after each full
// sampleWindow of data.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		m.logger.Debug("disk io counters unavailable, leaving batch size unchanged", "error", err)
		return
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastCounters != nil {
		elapsed := now.Sub(m.lastSampleAt).Seconds()
		if elapsed > 0 {
			mbps := throughputMBs(m.lastCounters, counters, elapsed)
			m.samples = append(m.samples, mbps)
			if excess := len(m.samples) - int(sampleWindow/sampleCadence); excess > 0 {
				m.samples = m.samples[excess:]
			}
		}
	}
	m.lastCounters = counters
	m.lastSampleAt = now

	if len(m.samples) == 0 {
		return
	}
	if time.Duration(len(m.samples))*sampleCadence < sampleWindow {
		return
	}

	avg := average(m.samples)
	tier := classify(avg)
	if tier == m.tier {
		return
	}

	prevTier := m.tier
	m.tier = tier
	m.batchSize = scale(m.batchSize, tier, prevTier)
	m.logger.Info("storage tier reclassified",
		"previous_tier", prevTier, "tier", tier,
		"observed_mbps", avg, "batch_size", m.batchSize,
	)
}

func throughputMBs(prev, cur map[string]disk.IOCountersStat, elapsedSeconds float64) float64 {
	var deltaBytes uint64
	for name, c := range cur {
		p, ok := prev[name]
		if !ok {
			continue
		}
		deltaBytes += (c.ReadBytes - p.ReadBytes) + (c.WriteBytes - p.WriteBytes)
	}
	return float64(deltaBytes) / (1024 * 1024) / elapsedSeconds
}

func average(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func classify(mbps float64) Tier {
	switch {
	case mbps >= highThresholdMBs:
		return TierUltraHighPerf
	case mbps >= standardThresholdMBs:
		return TierHighPerformance
	default:
		return TierStandard
	}
}

// scale multiplies by the new tier's multiplier when throughput improved,
// and divides by the new tier's multiplier on a downgrade (or an unchanged
// tier), clamping to [minBatchSize, maxBatchSize].
func scale(current int, tier, previous Tier) int {
	mult := tierMultiplier[tier]
	var next int
	if tierRank(tier) > tierRank(previous) {
		next = int(float64(current) * mult)
	} else {
		next = int(float64(current) / mult)
	}
	if next < minBatchSize {
		next = minBatchSize
	}
	if next > maxBatchSize {
		next = maxBatchSize
	}
	return next
}

func tierRank(t Tier) int {
	switch t {
	case TierStandard:
		return 0
	case TierHighPerformance:
		return 1
	case TierUltraHighPerf:
		return 2
	default:
		return 0
	}
}
