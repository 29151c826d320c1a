package meter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThroughputMbps(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		elapsed time.Duration
		want    float64
	}{
		{"1 MB in 2 s", 1_000_000, 2 * time.Second, 4.00},
		{"5 MiB in 1 s", UploadPayloadSize, time.Second, 41.94},
		{"rounds to two decimals", 1_234_567, time.Second, 9.88},
		{"sub-second", 125_000, 100 * time.Millisecond, 10.00},
		{"no bytes", 0, time.Second, 0},
		{"zero elapsed", 1_000_000, 0, 0},
		{"negative elapsed", 1_000_000, -time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ThroughputMbps(tt.bytes, tt.elapsed)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestLatencyMs(t *testing.T) {
	assert.Equal(t, 120.00, LatencyMs(120*time.Millisecond))
	assert.Equal(t, 0.5, LatencyMs(500*time.Microsecond))
	assert.Equal(t, 12.35, LatencyMs(12_345_678*time.Nanosecond))
	assert.Equal(t, 0.0, LatencyMs(0))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 41.94, Round2(41.94304))
	assert.Equal(t, 3.0, Round2(2.999))
}
