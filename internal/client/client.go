package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gwatts/rootcerts"

	"github.com/idanyas/speedmeter/internal/logging"
)

const userAgent = "Mozilla/5.0 (compatible; speedmeter/1.0)"

// Options controls how the measurement client connects.
type Options struct {
	IPv4Only  bool
	IPv6Only  bool
	Interface string // interface name or source IP
	Insecure  bool
	Timeout   time.Duration
}

// NoStoreTransport disables caching on every request so each measurement
// hits the origin.
type NoStoreTransport struct {
	Transport http.RoundTripper
}

func (t *NoStoreTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", userAgent)
	}
	clone.Header.Set("Cache-Control", "no-store")
	clone.Header.Set("Pragma", "no-cache")
	clone.Header.Set("Accept", "*/*")

	return t.Transport.RoundTrip(clone)
}

func getLocalAddr(interfaceOrIP string, ipv4Only, ipv6Only bool) (*net.TCPAddr, error) {
	if interfaceOrIP == "" {
		return nil, nil
	}

	if ip := net.ParseIP(interfaceOrIP); ip != nil {
		isIPv4 := ip.To4() != nil
		if ipv4Only && !isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv4, but --ipv4 flag was specified", interfaceOrIP)
		}
		if ipv6Only && isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv6, but --ipv6 flag was specified", interfaceOrIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(interfaceOrIP)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", interfaceOrIP, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", interfaceOrIP, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}

	selected := pickSourceIP(ips, ipv4Only, ipv6Only)
	if selected == nil {
		family := "any"
		if ipv4Only {
			family = "IPv4"
		} else if ipv6Only {
			family = "IPv6"
		}
		return nil, fmt.Errorf("no suitable %s IP address found for interface %q", family, interfaceOrIP)
	}
	return &net.TCPAddr{IP: selected}, nil
}

// pickSourceIP prefers global IPv6, then IPv4, then link-local IPv6.
func pickSourceIP(ips []net.IP, ipv4Only, ipv6Only bool) net.IP {
	var v4, linkLocal6 net.IP
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		if ip.To4() != nil {
			if !ipv6Only && v4 == nil {
				v4 = ip
			}
			continue
		}
		if ipv4Only {
			continue
		}
		if !ip.IsLinkLocalUnicast() {
			return ip
		}
		if linkLocal6 == nil {
			linkLocal6 = ip
		}
	}
	if v4 != nil {
		return v4
	}
	return linkLocal6
}

// networkFor returns the dial network honoring the family restriction and
// the family of the bound source address.
func networkFor(local *net.TCPAddr, ipv4Only, ipv6Only bool) (string, error) {
	if local != nil && local.IP != nil {
		if local.IP.To4() != nil {
			if ipv6Only {
				return "", fmt.Errorf("cannot bind to IPv4 address %s when --ipv6 is specified", local.IP)
			}
			return "tcp4", nil
		}
		if ipv4Only {
			return "", fmt.Errorf("cannot bind to IPv6 address %s when --ipv4 is specified", local.IP)
		}
		return "tcp6", nil
	}
	switch {
	case ipv4Only:
		return "tcp4", nil
	case ipv6Only:
		return "tcp6", nil
	}
	return "tcp", nil
}

// NewHTTPClient creates the client shared by every measurement.
func NewHTTPClient(opts Options) (*http.Client, error) {
	localAddr, err := getLocalAddr(opts.Interface, opts.IPv4Only, opts.IPv6Only)
	if err != nil {
		return nil, err
	}

	networkPreference, err := networkFor(localAddr, opts.IPv4Only, opts.IPv6Only)
	if err != nil {
		return nil, err
	}
	ipv4Only := networkPreference == "tcp4"
	ipv6Only := networkPreference == "tcp6"

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if localAddr != nil {
		dialer.LocalAddr = localAddr
	}

	tlsClientConfig := &tls.Config{InsecureSkipVerify: opts.Insecure}
	if !opts.Insecure {
		tlsClientConfig.RootCAs = rootcerts.ServerCertPool()
		if tlsClientConfig.RootCAs == nil {
			return nil, errors.New("critical failure: unable to obtain a valid root CA pool")
		}
	}

	resolver := &Resolver{
		IPv4Only:           ipv4Only,
		IPv6Only:           ipv6Only,
		InsecureSkipVerify: opts.Insecure,
		RootCAs:            tlsClientConfig.RootCAs,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address format: %w", err)
			}

			if ip := net.ParseIP(host); ip != nil {
				isIPv4 := ip.To4() != nil
				if (ipv4Only && !isIPv4) || (ipv6Only && isIPv4) {
					return nil, fmt.Errorf("target IP address %s does not match required network type %s", host, networkPreference)
				}
				return dialer.DialContext(ctx, familyNetwork(ip), addr)
			}

			resolved, err := resolver.Resolve(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
			}

			var firstDialErr error
			for _, ip := range resolved {
				// Per-IP timeout so one blackholed address cannot stall the run.
				dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				conn, dialErr := dialer.DialContext(dialCtx, familyNetwork(ip), net.JoinHostPort(ip.String(), port))
				cancel()
				if dialErr == nil {
					return conn, nil
				}
				logging.Debugf("dial %s (%s) failed: %v", host, ip, dialErr)
				if firstDialErr == nil {
					firstDialErr = dialErr
				}
			}
			return nil, fmt.Errorf("connection failed to all resolved IPs for %s:%s (first error: %v)", host, port, firstDialErr)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Body sizes must be wire payload, not decompressed bytes.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
		TLSClientConfig:    tlsClientConfig,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: &NoStoreTransport{Transport: transport},
		Timeout:   timeout,
	}, nil
}

func familyNetwork(ip net.IP) string {
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}
