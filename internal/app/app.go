package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/idanyas/speedmeter/internal/client"
	"github.com/idanyas/speedmeter/internal/config"
	"github.com/idanyas/speedmeter/internal/data"
	"github.com/idanyas/speedmeter/internal/logging"
	"github.com/idanyas/speedmeter/internal/meter"
	"github.com/idanyas/speedmeter/internal/metrics"
	"github.com/idanyas/speedmeter/internal/output"
)

// RunSpeedTest performs one full measurement sequence described by cfg and
// renders it to out. Measurement failures are reported in the returned
// snapshot; the error covers setup problems only.
func RunSpeedTest(ctx context.Context, cfg *config.Config, out io.Writer, jsonOutput bool, version string) (data.Snapshot, error) {
	httpClient, err := client.NewHTTPClient(client.Options{
		IPv4Only:  cfg.IPv4,
		IPv6Only:  cfg.IPv6,
		Interface: cfg.Interface,
		Insecure:  cfg.Insecure,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return data.Snapshot{}, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	endpoints := meter.Endpoints{
		DownloadURL: cfg.DownloadURL,
		UploadURL:   cfg.UploadURL,
		PingURL:     cfg.PingURL,
	}

	printer := output.NewPrinter(out, jsonOutput)
	printer.PrintHeader(version)
	printer.PrintEndpoints(endpoints, cfg.PingMode)

	opts := []meter.Option{
		meter.WithObserver(printer.Observe),
		meter.WithTransferHook(printer.TransferHook),
	}
	if cfg.PingMode == config.PingModeICMP {
		opts = append(opts, meter.WithPinger(newICMPPinger(cfg)))
	}

	m := meter.New(httpClient, endpoints, opts...)
	logging.Debugf("starting speed test: download=%s upload=%s ping=%s (%s)",
		cfg.DownloadURL, cfg.UploadURL, cfg.PingURL, cfg.PingMode)

	s, err := m.Run(ctx)
	if err != nil {
		return s, err
	}
	printer.PrintSummary(s)

	if cfg.Textfile != "" {
		collector := metrics.New()
		collector.Record(s, metrics.Endpoints{
			data.Download: cfg.DownloadURL,
			data.Upload:   cfg.UploadURL,
			data.Ping:     cfg.PingURL,
		})
		if err := collector.WriteTextfile(cfg.Textfile); err != nil {
			return s, err
		}
		logging.Infof("metrics written to %s", cfg.Textfile)
	}

	return s, nil
}

func newICMPPinger(cfg *config.Config) *meter.ICMPPinger {
	network := "ip"
	if cfg.IPv4 {
		network = "ip4"
	} else if cfg.IPv6 {
		network = "ip6"
	}
	return &meter.ICMPPinger{
		Timeout: cfg.Timeout,
		// Windows only supports raw sockets; elsewhere root gets them too.
		Privileged: runtime.GOOS == "windows" || os.Geteuid() == 0,
		Network:    network,
	}
}
