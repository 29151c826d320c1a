package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/idanyas/speedmeter/internal/app"
	"github.com/idanyas/speedmeter/internal/config"
	"github.com/idanyas/speedmeter/internal/logging"
)

var (
	version     = "DEV"
	jsonOutput  = pflag.BoolP("json", "j", false, "Output results in JSON format.")
	configPath  = pflag.StringP("config", "c", "", "Path to a YAML config file.")
	downloadURL = pflag.String("download-url", config.DefaultDownloadURL, "Resource fetched for the download test.")
	uploadURL   = pflag.String("upload-url", config.DefaultUploadURL, "Endpoint receiving the 5 MiB upload payload.")
	pingURL     = pflag.String("ping-url", config.DefaultPingURL, "Target of the latency check.")
	pingMode    = pflag.String("ping-mode", config.PingModeHTTP, "Latency method: http (GET round trip) or icmp (echo).")
	timeout     = pflag.DurationP("timeout", "t", config.DefaultTimeout, "Per-measurement timeout.")
	ipv4        = pflag.BoolP("ipv4", "4", false, "Use IPv4 only connection.")
	ipv6        = pflag.BoolP("ipv6", "6", false, "Use IPv6 only connection.")
	iface       = pflag.StringP("interface", "I", "", "Network interface or source IP address to use.")
	insecure    = pflag.Bool("insecure", false, "Skip TLS certificate verification (UNSAFE).")
	textfile    = pflag.String("textfile", "", "Write Prometheus metrics of the run to this file.")
	debug       = pflag.Bool("debug", false, "Enable debug logging.")
)

func main() {
	pflag.Usage = func() {
		out := os.Stderr
		fmt.Fprintf(out, "Usage: %s [options...]\n\n", os.Args[0])
		fmt.Fprintln(out, "Measure download speed, upload speed and latency over HTTP.")
		fmt.Fprintln(out, "\nOptions:")
		pflag.PrintDefaults()
		fmt.Fprintf(out, "\nVersion: %s\n", version)
	}
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	err := pflag.CommandLine.Parse(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError parsing flags: %v\n", err)
		os.Exit(2)
	}

	logging.SetDebug(*debug)

	cfg, err := loadConfig()
	if err != nil {
		logging.Errorf("invalid configuration: %v", err)
		os.Exit(2)
	}

	if cfg.Insecure {
		logging.Warnf("skipping TLS certificate verification (--insecure), this is potentially unsafe")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := app.RunSpeedTest(ctx, cfg, os.Stdout, *jsonOutput, version)
	if err != nil {
		logging.Errorf("speed test aborted: %v", err)
		handleClientError(err, cfg.Interface)
		os.Exit(1)
	}
	if results.Failed() {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional config file and explicitly set
// flags, in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := pflag.CommandLine.Changed
	if changed("download-url") {
		cfg.DownloadURL = *downloadURL
	}
	if changed("upload-url") {
		cfg.UploadURL = *uploadURL
	}
	if changed("ping-url") {
		cfg.PingURL = *pingURL
	}
	if changed("ping-mode") {
		cfg.PingMode = strings.ToLower(*pingMode)
	}
	if changed("timeout") {
		cfg.Timeout = *timeout
	}
	if changed("ipv4") {
		cfg.IPv4 = *ipv4
	}
	if changed("ipv6") {
		cfg.IPv6 = *ipv6
	}
	if changed("interface") {
		cfg.Interface = *iface
	}
	if changed("insecure") {
		cfg.Insecure = *insecure
	}
	if changed("textfile") {
		cfg.Textfile = *textfile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleClientError(err error, iface string) {
	var dnsErr *net.DNSError
	switch {
	case strings.Contains(err.Error(), "failed to find interface"):
		fmt.Fprintln(os.Stderr, "Hint: Ensure the specified interface name exists and is correct.")
	case strings.Contains(err.Error(), "no suitable"):
		fmt.Fprintf(os.Stderr, "Hint: Check if interface %q has an IP address matching the requested family (IPv4/IPv6).\n", iface)
	case errors.As(err, &dnsErr):
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity and DNS settings. Try forcing IPv4 (-4) or IPv6 (-6).")
	case strings.Contains(err.Error(), "metrics textfile"):
		fmt.Fprintln(os.Stderr, "Hint: Ensure the --textfile directory exists and is writable.")
	}
}
