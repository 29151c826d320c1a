package output

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idanyas/speedmeter/internal/data"
)

func init() {
	color.NoColor = true
}

func ptr(v float64) *float64 { return &v }

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "--", FormatValue(data.Download, nil))
	assert.Equal(t, "4.00 Mbps", FormatValue(data.Download, ptr(4)))
	assert.Equal(t, "41.94 Mbps", FormatValue(data.Upload, ptr(41.94)))
	assert.Equal(t, "120.00 ms", FormatValue(data.Ping, ptr(120)))
}

func TestObservePrintsFinishedSteps(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Observe(data.Snapshot{State: data.StateRunning, Running: true})
	assert.Empty(t, buf.String(), "start snapshot has no step")

	p.Observe(data.Snapshot{
		Step:    data.Download,
		Results: data.MeasurementResult{DownloadMbps: ptr(4)},
	})
	msg := "Failed to measure upload speed. Please try again."
	p.Observe(data.Snapshot{
		Step:    data.Upload,
		Error:   &msg,
		Results: data.MeasurementResult{DownloadMbps: ptr(4)},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ Download: 4.00 Mbps")
	assert.Contains(t, out, "✗ Upload: failed")

	buf.Reset()
	p.PrintSummary(data.Snapshot{State: data.StateError, Error: &msg})
	assert.Contains(t, buf.String(), msg)
}

func TestJSONOutputSuppressesLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.PrintHeader("DEV")
	p.Observe(data.Snapshot{Step: data.Ping, Results: data.MeasurementResult{PingMs: ptr(12.5)}})
	assert.Empty(t, buf.String())

	p.PrintSummary(data.Snapshot{
		State:   data.StateIdle,
		Results: data.MeasurementResult{PingMs: ptr(12.5)},
	})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "idle", decoded["state"])
	assert.Nil(t, decoded["error"])
	results := decoded["results"].(map[string]any)
	assert.Nil(t, results["download_mbps"])
	assert.Equal(t, 12.5, results["ping_ms"])
}

func TestTransferHookNoopOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	assert.False(t, IsTerminal(&buf))

	var counter atomic.Int64
	stop := p.TransferHook(data.Download, &counter)
	counter.Add(1024)
	stop()
	assert.Empty(t, buf.String())
}
