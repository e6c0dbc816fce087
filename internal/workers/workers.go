// Package workers sizes worker pools from the available CPUs.
package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride names the environment variable that forces a fixed worker
// count regardless of CPU-based sizing.
const EnvOverride = "FISHDASH_WORKERS"

// Count returns a worker count for the given task profile. The
// multiplier scales the CPU count: 1.0 for CPU-bound work, 2.0 for
// I/O-bound work. GOMAXPROCS already reflects container CPU limits.
// limit caps the result; 0 means uncapped.
func Count(multiplier float64, limit int) int {
	if n, ok := override(); ok {
		return clamp(n, limit)
	}

	n := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if n < 1 {
		n = 1
	}
	return clamp(n, limit)
}

// ForCPU sizes a pool for CPU-bound work, one worker per CPU.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO sizes a pool for I/O-bound work, two workers per CPU.
func ForIO(limit int) int {
	return Count(2.0, limit)
}

func override() (int, bool) {
	raw := os.Getenv(EnvOverride)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func clamp(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
