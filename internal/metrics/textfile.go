package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/idanyas/speedmeter/internal/data"
)

const namespace = "speedmeter"

// Collector exposes the last finished session as Prometheus gauges.
type Collector struct {
	registry *prometheus.Registry

	downloadMbps *prometheus.GaugeVec
	uploadMbps   *prometheus.GaugeVec
	pingMs       *prometheus.GaugeVec
	success      *prometheus.GaugeVec
	lastRun      prometheus.Gauge
}

// New registers the gauges on a private registry so only speedmeter series
// end up in the textfile.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		downloadMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_mbps",
			Help:      "Download throughput of the last run in megabits per second",
		}, []string{"endpoint"}),
		uploadMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_mbps",
			Help:      "Upload throughput of the last run in megabits per second",
		}, []string{"endpoint"}),
		pingMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ping_ms",
			Help:      "Round-trip latency of the last run in milliseconds",
		}, []string{"endpoint"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "measurement_success",
			Help:      "1 if the measurement succeeded in the last run, 0 otherwise",
		}, []string{"measurement"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	c.registry.MustRegister(c.downloadMbps, c.uploadMbps, c.pingMs, c.success, c.lastRun)
	return c
}

// Endpoints labels each gauge with the URL it measured.
type Endpoints map[data.Measurement]string

// Record replaces the exported values with s. Absent results are removed,
// not reported as zero. A session without a finish time is stamped with the
// time of recording.
func (c *Collector) Record(s data.Snapshot, endpoints Endpoints) {
	gauges := map[data.Measurement]*prometheus.GaugeVec{
		data.Download: c.downloadMbps,
		data.Upload:   c.uploadMbps,
		data.Ping:     c.pingMs,
	}

	for _, m := range data.Measurements {
		g := gauges[m]
		g.Reset()

		v := s.Results.Get(m)
		if v == nil {
			c.success.WithLabelValues(string(m)).Set(0)
			continue
		}
		g.WithLabelValues(endpoints[m]).Set(*v)
		c.success.WithLabelValues(string(m)).Set(1)
	}

	finished := s.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	c.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Gatherer exposes the registry, mainly for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}
