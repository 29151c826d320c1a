package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idanyas/speedmeter/internal/config"
	"github.com/idanyas/speedmeter/internal/data"
	"github.com/idanyas/speedmeter/internal/logging"
)

func newEndpointServer(t *testing.T, downloadCacheControl *atomic.Value) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		downloadCacheControl.Store(r.Header.Get("Cache-Control"))
		w.Write(make([]byte, 256*1024))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *config.Config {
	cfg := config.Default()
	cfg.DownloadURL = srv.URL + "/download"
	cfg.UploadURL = srv.URL + "/upload"
	cfg.PingURL = srv.URL + "/"
	return cfg
}

func TestRunSpeedTestJSON(t *testing.T) {
	var cacheControl atomic.Value
	srv := newEndpointServer(t, &cacheControl)
	cfg := testConfig(srv)
	cfg.Textfile = filepath.Join(t.TempDir(), "speedmeter.prom")

	var logs bytes.Buffer
	logging.SetOutput(&logs)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	var out bytes.Buffer
	s, err := RunSpeedTest(context.Background(), cfg, &out, true, "test")
	require.NoError(t, err)

	assert.Equal(t, data.StateIdle, s.State)
	require.NotNil(t, s.Results.DownloadMbps)
	require.NotNil(t, s.Results.UploadMbps)
	require.NotNil(t, s.Results.PingMs)
	assert.GreaterOrEqual(t, *s.Results.DownloadMbps, 0.0)
	assert.Equal(t, "no-store", cacheControl.Load())

	var decoded data.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, s.Results, decoded.Results)

	prom, err := os.ReadFile(cfg.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `speedmeter_measurement_success{measurement="download"} 1`)
	assert.Contains(t, logs.String(), "metrics written to "+cfg.Textfile)
}

func TestRunSpeedTestReportsFailures(t *testing.T) {
	var cacheControl atomic.Value
	srv := newEndpointServer(t, &cacheControl)
	cfg := testConfig(srv)
	cfg.DownloadURL = "http://127.0.0.1:1/download"

	var out bytes.Buffer
	s, err := RunSpeedTest(context.Background(), cfg, &out, false, "test")
	require.NoError(t, err)

	assert.True(t, s.Failed())
	assert.Nil(t, s.Results.DownloadMbps)
	assert.NotNil(t, s.Results.UploadMbps)
	assert.Contains(t, out.String(), "Download: failed")
	assert.Contains(t, out.String(), "Failed to measure download speed. Please try again.")
}

func TestRunSpeedTestClientError(t *testing.T) {
	cfg := config.Default()
	cfg.Interface = "no-such-interface0"

	_, err := RunSpeedTest(context.Background(), cfg, io.Discard, true, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create HTTP client")
}
