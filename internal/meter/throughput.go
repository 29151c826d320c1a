package meter

import (
	"math"
	"time"
)

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ThroughputMbps converts a byte count moved in elapsed into megabits per
// second. A non-positive elapsed time yields 0.
func ThroughputMbps(bytes int64, elapsed time.Duration) float64 {
	if bytes <= 0 || elapsed <= 0 {
		return 0
	}
	bits := float64(bytes) * 8
	return Round2(bits / elapsed.Seconds() / 1e6)
}

// LatencyMs converts a round trip into milliseconds.
func LatencyMs(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return Round2(float64(elapsed) / float64(time.Millisecond))
}
