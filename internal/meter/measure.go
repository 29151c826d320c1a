package meter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/idanyas/speedmeter/internal/data"
	"github.com/idanyas/speedmeter/internal/logging"
)

// UploadPayloadSize is the fixed upload body, 5 MiB of zeroes.
const UploadPayloadSize = 5 * 1024 * 1024

// ErrNetworkFailure matches every measurement failure with errors.Is.
var ErrNetworkFailure = errors.New("network failure")

// MeasurementError carries the cause of a failed measurement. Callers see
// only the generic session message; the cause is logged.
type MeasurementError struct {
	Measurement data.Measurement
	Cause       error
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Measurement, ErrNetworkFailure, e.Cause)
}

func (e *MeasurementError) Unwrap() error { return e.Cause }

func (e *MeasurementError) Is(target error) bool { return target == ErrNetworkFailure }

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (m *Meter) startTransfer(step data.Measurement, counter *atomic.Int64) func() {
	if m.transferHook == nil {
		return func() {}
	}
	return m.transferHook(step, counter)
}

// logStatus notes a non-2xx reply. Only transport errors fail a
// measurement; a completed exchange is measured whatever its status.
func logStatus(step data.Measurement, resp *http.Response) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Debugf("%s: %s answered with status %d", step, resp.Request.URL.Host, resp.StatusCode)
	}
}

func (m *Meter) measureDownload(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.DownloadURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}

	var counter atomic.Int64
	start := m.now()
	stop := m.startTransfer(data.Download, &counter)
	defer stop()

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()
	logStatus(data.Download, resp)

	n, err := io.Copy(io.Discard, &countingReader{r: resp.Body, n: &counter})
	if err != nil {
		return 0, errors.Wrap(err, "read body")
	}
	end := m.now()

	return ThroughputMbps(n, end.Sub(start)), nil
}

func (m *Meter) measureUpload(ctx context.Context) (float64, error) {
	payload := make([]byte, UploadPayloadSize)

	var counter atomic.Int64
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.UploadURL,
		&countingReader{r: bytes.NewReader(payload), n: &counter})
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.ContentLength = int64(len(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		counter.Store(0)
		return io.NopCloser(&countingReader{r: bytes.NewReader(payload), n: &counter}), nil
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := m.now()
	stop := m.startTransfer(data.Upload, &counter)
	defer stop()

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send request")
	}
	end := m.now()
	defer resp.Body.Close()
	logStatus(data.Upload, resp)
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logging.Debugf("upload: draining response body: %v", err)
	}

	return ThroughputMbps(int64(len(payload)), end.Sub(start)), nil
}

func (m *Meter) measurePing(ctx context.Context) (float64, error) {
	if m.pinger != nil {
		u, err := url.Parse(m.endpoints.PingURL)
		if err != nil {
			return 0, errors.Wrap(err, "parse ping url")
		}
		rtt, err := m.pinger.Ping(ctx, u.Hostname())
		if err != nil {
			return 0, errors.Wrap(err, "icmp echo")
		}
		return LatencyMs(rtt), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.PingURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}

	start := m.now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send request")
	}
	logStatus(data.Ping, resp)
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, errors.Wrap(err, "read body")
	}
	end := m.now()

	return LatencyMs(end.Sub(start)), nil
}
