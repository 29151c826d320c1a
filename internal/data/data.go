package data

import "time"

// State is the lifecycle phase of a measurement session.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
)

// Measurement names a single step of the sequence.
type Measurement string

const (
	Download Measurement = "download"
	Upload   Measurement = "upload"
	Ping     Measurement = "ping"
)

// Measurements lists the steps in the order they run.
var Measurements = []Measurement{Download, Upload, Ping}

// MeasurementResult holds one value per measurement. A nil field has not
// completed, or failed.
type MeasurementResult struct {
	DownloadMbps *float64 `json:"download_mbps"`
	UploadMbps   *float64 `json:"upload_mbps"`
	PingMs       *float64 `json:"ping_ms"`
}

// Get returns the value stored for m.
func (r MeasurementResult) Get(m Measurement) *float64 {
	switch m {
	case Download:
		return r.DownloadMbps
	case Upload:
		return r.UploadMbps
	case Ping:
		return r.PingMs
	}
	return nil
}

// Set stores v for m. Callers must not share v afterwards.
func (r *MeasurementResult) Set(m Measurement, v *float64) {
	switch m {
	case Download:
		r.DownloadMbps = v
	case Upload:
		r.UploadMbps = v
	case Ping:
		r.PingMs = v
	}
}

// Clone returns a deep copy so snapshots never alias live session values.
func (r MeasurementResult) Clone() MeasurementResult {
	return MeasurementResult{
		DownloadMbps: clonePtr(r.DownloadMbps),
		UploadMbps:   clonePtr(r.UploadMbps),
		PingMs:       clonePtr(r.PingMs),
	}
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	State      State             `json:"state"`
	Running    bool              `json:"running"`
	Error      *string           `json:"error"`
	Results    MeasurementResult `json:"results"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`

	// Step is the measurement this snapshot reports, empty for start,
	// finish and reset.
	Step Measurement `json:"-"`
}

// Failed reports whether the session ended with at least one failed step.
func (s Snapshot) Failed() bool {
	return s.State == StateError
}
