package resources

import (
	"testing"
	"time"
)

func TestDefaultMonitorConfig(t *testing.T) {
	config := DefaultMonitorConfig()

	if config.Threshold != 0.85 {
		t.Errorf("Threshold = %f, want 0.85", config.Threshold)
	}
	if config.CheckInterval != 5*time.Second {
		t.Errorf("CheckInterval = %v, want 5s", config.CheckInterval)
	}
	if config.CleanupMaxAge != 2*time.Minute {
		t.Errorf("CleanupMaxAge = %v, want 2m", config.CleanupMaxAge)
	}
}

func TestMonitorUnavailableWithoutLimit(t *testing.T) {
	// No explicit limit and no GOMEMLIMIT in the test environment means
	// the monitor must degrade to unavailable, never report healthy.
	config := DefaultMonitorConfig()
	tracker := NewTracker(nil)
	monitor := NewMonitor(config, tracker, nil)

	if monitor.limit == 0 {
		status := monitor.Status()
		if status.Available {
			t.Error("Status().Available = true with no limit, want false")
		}

		// Start must be a no-op, and Stop must not panic.
		monitor.Start()
		monitor.Stop()
	}
}

func TestMonitorStatusWithLimit(t *testing.T) {
	config := DefaultMonitorConfig()
	config.LimitBytes = 1 << 30

	tracker := NewTracker(nil)
	monitor := NewMonitor(config, tracker, nil)
	defer monitor.Stop()

	status := monitor.Status()
	if !status.Available {
		t.Fatal("Status().Available = false with explicit limit, want true")
	}
	if status.LimitBytes != 1<<30 {
		t.Errorf("LimitBytes = %d, want %d", status.LimitBytes, 1<<30)
	}
}

func TestMonitorPressureTriggersCleanup(t *testing.T) {
	now := time.Now()
	clock := now.Add(-10 * time.Minute)
	tracker := NewTracker(nil, WithClock(func() time.Time { return clock }))
	tracker.Register("aged", KindThumbnail, nil, 1)
	clock = now

	config := DefaultMonitorConfig()
	// A 1-byte limit guarantees usage is over threshold on the first check.
	config.LimitBytes = 1

	monitor := NewMonitor(config, tracker, nil)
	defer monitor.Stop()

	monitor.check()

	if tracker.Len() != 0 {
		t.Errorf("tracker still holds %d resources after pressure cleanup, want 0", tracker.Len())
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	config := DefaultMonitorConfig()
	config.LimitBytes = 1 << 30

	monitor := NewMonitor(config, NewTracker(nil), nil)
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}
