// Package meter runs the download, upload and latency measurements and keeps
// the session state the presentation layer reads.
package meter

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/idanyas/speedmeter/internal/data"
	"github.com/idanyas/speedmeter/internal/logging"
)

// ErrAlreadyRunning is returned by Run while a sequence is in progress.
var ErrAlreadyRunning = errors.New("speed test already running")

// User-facing messages written to the session error slot.
var failureMessages = map[data.Measurement]string{
	data.Download: "Failed to measure download speed. Please try again.",
	data.Upload:   "Failed to measure upload speed. Please try again.",
	data.Ping:     "Failed to measure ping. Please try again.",
}

// Endpoints are the fixed targets of one meter.
type Endpoints struct {
	DownloadURL string
	UploadURL   string
	PingURL     string
}

// Pinger measures a single round trip to host without HTTP.
type Pinger interface {
	Ping(ctx context.Context, host string) (time.Duration, error)
}

// TransferHook is called when a download or upload body starts moving.
// counter grows as bytes are transferred; the returned func is called once
// the transfer ends.
type TransferHook func(step data.Measurement, counter *atomic.Int64) (stop func())

type Option func(*Meter)

// WithClock replaces time.Now for elapsed time measurement.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// WithObserver registers fn to receive a snapshot after every state change.
func WithObserver(fn func(data.Snapshot)) Option {
	return func(m *Meter) { m.observer = fn }
}

func WithTransferHook(hook TransferHook) Option {
	return func(m *Meter) { m.transferHook = hook }
}

// WithPinger measures latency with p instead of an HTTP GET.
func WithPinger(p Pinger) Option {
	return func(m *Meter) { m.pinger = p }
}

// Meter is the speed test runner. It is safe for concurrent use; only one
// sequence runs at a time.
type Meter struct {
	client    *http.Client
	endpoints Endpoints

	now          func() time.Time
	observer     func(data.Snapshot)
	transferHook TransferHook
	pinger       Pinger

	mu         sync.Mutex
	state      data.State
	errMsg     *string
	results    data.MeasurementResult
	generation uint64
	startedAt  time.Time
	finishedAt time.Time
}

func New(client *http.Client, endpoints Endpoints, opts ...Option) *Meter {
	m := &Meter{
		client:    client,
		endpoints: endpoints,
		now:       time.Now,
		state:     data.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current session.
func (m *Meter) Snapshot() data.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Meter) snapshotLocked() data.Snapshot {
	s := data.Snapshot{
		State:      m.state,
		Running:    m.state == data.StateRunning,
		Results:    m.results.Clone(),
		StartedAt:  m.startedAt,
		FinishedAt: m.finishedAt,
	}
	if m.errMsg != nil {
		msg := *m.errMsg
		s.Error = &msg
	}
	return s
}

func (m *Meter) notify(s data.Snapshot) {
	if m.observer != nil {
		m.observer(s)
	}
}

// Run executes download, upload and ping in order. A failing step leaves its
// result nil and sets the session error; the remaining steps still run.
// The returned error is only ErrAlreadyRunning.
func (m *Meter) Run(ctx context.Context) (data.Snapshot, error) {
	m.mu.Lock()
	if m.state == data.StateRunning {
		s := m.snapshotLocked()
		m.mu.Unlock()
		return s, ErrAlreadyRunning
	}
	m.state = data.StateRunning
	m.results = data.MeasurementResult{}
	m.errMsg = nil
	m.generation++
	gen := m.generation
	m.startedAt = m.now()
	m.finishedAt = time.Time{}
	s := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(s)

	for _, step := range data.Measurements {
		m.step(ctx, gen, step)
	}

	m.mu.Lock()
	m.state = data.StateIdle
	if m.errMsg != nil {
		m.state = data.StateError
	}
	m.finishedAt = m.now()
	s = m.snapshotLocked()
	m.mu.Unlock()
	m.notify(s)

	return s, nil
}

// Reset clears results and error. It does not cancel a running sequence, but
// anything that sequence measures afterwards is discarded.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.results = data.MeasurementResult{}
	m.errMsg = nil
	m.generation++
	if m.state != data.StateRunning {
		m.state = data.StateIdle
		m.startedAt = time.Time{}
		m.finishedAt = time.Time{}
	}
	s := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(s)
}

// Download measures download throughput in Mbps and records it in the session.
func (m *Meter) Download(ctx context.Context) (float64, error) {
	return m.step(ctx, m.currentGeneration(), data.Download)
}

// Upload measures upload throughput in Mbps and records it in the session.
func (m *Meter) Upload(ctx context.Context) (float64, error) {
	return m.step(ctx, m.currentGeneration(), data.Upload)
}

// Ping measures round-trip latency in milliseconds and records it in the session.
func (m *Meter) Ping(ctx context.Context) (float64, error) {
	return m.step(ctx, m.currentGeneration(), data.Ping)
}

func (m *Meter) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Meter) step(ctx context.Context, gen uint64, step data.Measurement) (float64, error) {
	var (
		v   float64
		err error
	)
	switch step {
	case data.Download:
		v, err = m.measureDownload(ctx)
	case data.Upload:
		v, err = m.measureUpload(ctx)
	case data.Ping:
		v, err = m.measurePing(ctx)
	default:
		return 0, errors.Errorf("unknown measurement %q", step)
	}
	if err != nil {
		err = &MeasurementError{Measurement: step, Cause: err}
		logging.Debugf("%v", err)
	} else {
		logging.Debugf("%s measured: %.2f", step, v)
	}

	m.record(gen, step, v, err)
	return v, err
}

func (m *Meter) record(gen uint64, step data.Measurement, v float64, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		logging.Debugf("discarding stale %s result after reset", step)
		return
	}
	if err != nil {
		m.results.Set(step, nil)
		msg := failureMessages[step]
		m.errMsg = &msg
	} else {
		m.results.Set(step, &v)
	}
	s := m.snapshotLocked()
	s.Step = step
	m.mu.Unlock()
	m.notify(s)
}
