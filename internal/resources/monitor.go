package resources

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"fishdash/internal/metrics"
)

// MonitorConfig holds memory-pressure monitoring configuration.
type MonitorConfig struct {
	// LimitBytes is the soft memory limit (0 = use GOMEMLIMIT).
	LimitBytes int64

	// Threshold is the fraction of the limit at which proactive cleanup
	// starts (0.0-1.0).
	Threshold float64

	// CheckInterval is how often heap usage is sampled.
	CheckInterval time.Duration

	// CleanupMaxAge is the age cutoff passed to the tracker when
	// pressure triggers cleanup.
	CleanupMaxAge time.Duration
}

// DefaultMonitorConfig returns sensible defaults for pressure monitoring.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		LimitBytes:    0,
		Threshold:     0.85,
		CheckInterval: 5 * time.Second,
		CleanupMaxAge: 2 * time.Minute,
	}
}

// MonitorStatus reports whether pressure monitoring is active. Platforms
// without a usable limit degrade to no-op monitoring and report
// Available=false, never a silently healthy reading.
type MonitorStatus struct {
	Available  bool
	LimitBytes int64
	Usage      float64
}

// Monitor samples heap usage and asks the tracker to reclaim aged
// resources when usage crosses the threshold.
type Monitor struct {
	config  MonitorConfig
	tracker *Tracker
	logger  *zap.Logger
	limit   int64

	mu       sync.RWMutex
	current  uint64
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a memory-pressure monitor bound to a tracker.
func NewMonitor(config MonitorConfig, tracker *Tracker, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := config.LimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
			logger.Info("memory monitor using GOMEMLIMIT", zap.Int64("limitBytes", limit))
		}
	}

	if limit == 0 {
		logger.Warn("no memory limit available, pressure monitoring disabled")
	}

	return &Monitor{
		config:   config,
		tracker:  tracker,
		logger:   logger,
		limit:    limit,
		stopChan: make(chan struct{}),
	}
}

// Start begins the monitoring loop. With no limit configured this is a
// no-op; Status still reports Available=false.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop stops the monitoring loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) check() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.mu.Lock()
	m.current = stats.Alloc
	m.mu.Unlock()

	usage := float64(stats.Alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	if usage < m.config.Threshold {
		return
	}

	metrics.MemoryPressureEvents.Inc()
	reclaimed := m.tracker.CleanupOlderThan(m.config.CleanupMaxAge)
	m.logger.Warn("memory pressure cleanup",
		zap.Float64("usage", usage),
		zap.Int("reclaimed", reclaimed),
	)
	if reclaimed > 0 {
		go runtime.GC()
	}
}

// Status returns the monitor's availability and last sampled usage.
func (m *Monitor) Status() MonitorStatus {
	if m.limit == 0 {
		return MonitorStatus{Available: false}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStatus{
		Available:  true,
		LimitBytes: m.limit,
		Usage:      float64(m.current) / float64(m.limit),
	}
}
