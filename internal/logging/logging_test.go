package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetDebug(false)
	})
	return &buf
}

func TestDebugfFollowsDebugSwitch(t *testing.T) {
	buf := capture(t)

	SetDebug(false)
	Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetDebug(true)
	Debugf("shown %d", 2)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), `msg="shown 2"`)
}

func TestLevelsAtDefault(t *testing.T) {
	buf := capture(t)
	SetDebug(false)

	Infof("metrics written to %s", "x.prom")
	Warnf("insecure")
	Errorf("setup failed: %v", "boom")

	out := buf.String()
	assert.Contains(t, out, `level=INFO msg="metrics written to x.prom"`)
	assert.Contains(t, out, "level=WARN msg=insecure")
	assert.Contains(t, out, `level=ERROR msg="setup failed: boom"`)
}
