package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/idanyas/speedmeter/internal/logging"
)

type dohServer struct {
	address string
	sni     string
	isV4    bool
}

type dnsServer struct {
	addr string
	isV4 bool
}

var defaultDoHServers = []dohServer{
	{"1.1.1.1:443", "cloudflare-dns.com", true},
	{"1.0.0.1:443", "cloudflare-dns.com", true},
	{"8.8.8.8:443", "dns.google", true},
	{"9.9.9.9:443", "dns.quad9.net", true},
	{"[2606:4700:4700::1111]:443", "cloudflare-dns.com", false},
	{"[2001:4860:4860::8888]:443", "dns.google", false},
}

var defaultDNSServers = []dnsServer{
	{"1.1.1.1:53", true},
	{"8.8.8.8:53", true},
	{"9.9.9.9:53", true},
	{"[2606:4700:4700::1111]:53", false},
}

// Resolver looks a host up through DNS-over-HTTPS, then the system resolver,
// then plain UDP DNS, returning the first non-empty answer.
type Resolver struct {
	IPv4Only           bool
	IPv6Only           bool
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
}

func (r *Resolver) queryTypes() []uint16 {
	switch {
	case r.IPv4Only:
		return []uint16{dns.TypeA}
	case r.IPv6Only:
		return []uint16{dns.TypeAAAA}
	}
	return []uint16{dns.TypeA, dns.TypeAAAA}
}

// usable reports whether a server or address of the given family may be used.
func (r *Resolver) usable(isV4 bool) bool {
	return !(r.IPv4Only && !isV4) && !(r.IPv6Only && isV4)
}

func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	var errs []error

	ips, err := r.resolveWithDoH(ctx, host)
	if err == nil && len(ips) > 0 {
		return ips, nil
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("doh: %w", err))
	}

	ips, err = r.resolveWithSystem(ctx, host)
	if err == nil && len(ips) > 0 {
		return ips, nil
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("system: %w", err))
	}

	ips, err = r.resolveWithDirectDNS(ctx, host)
	if err == nil && len(ips) > 0 {
		return ips, nil
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("direct: %w", err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no usable IPs returned for %s", host)
	}
	return nil, fmt.Errorf("all resolution methods failed for %s: %w", host, errors.Join(errs...))
}

func (r *Resolver) resolveWithSystem(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return r.filter(ips), nil
}

// filter drops unusable addresses and those of an excluded family.
func (r *Resolver) filter(ips []net.IP) []net.IP {
	out := ips[:0]
	for _, ip := range ips {
		if ip.IsUnspecified() || ip.IsLoopback() {
			continue
		}
		if !r.usable(ip.To4() != nil) {
			continue
		}
		out = append(out, ip)
	}
	return out
}

// answerIPs extracts the addresses of type qtype from a DNS response.
func (r *Resolver) answerIPs(msg *dns.Msg, qtype uint16) []net.IP {
	var ips []net.IP
	for _, ans := range msg.Answer {
		switch a := ans.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ips = append(ips, a.A)
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ips = append(ips, a.AAAA)
			}
		}
	}
	return r.filter(ips)
}

// raceQuery runs query against every server in parallel and returns the
// first non-empty answer for each query type, stopping after the first type
// that yields addresses.
func (r *Resolver) raceQuery(ctx context.Context, host string, servers int, query func(ctx context.Context, idx int, m *dns.Msg) (*dns.Msg, error)) []net.IP {
	for _, qtype := range r.queryTypes() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		queryCtx, cancel := context.WithCancel(ctx)
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			found []net.IP
		)
		for i := 0; i < servers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				resp, err := query(queryCtx, idx, m.Copy())
				if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
					return
				}
				ips := r.answerIPs(resp, qtype)
				if len(ips) == 0 {
					return
				}
				mu.Lock()
				if found == nil {
					found = ips
					cancel()
				}
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		cancel()

		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func (r *Resolver) resolveWithDoH(ctx context.Context, host string) ([]net.IP, error) {
	var servers []dohServer
	for _, s := range defaultDoHServers {
		if r.usable(s.isV4) {
			servers = append(servers, s)
		}
	}
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	ips := r.raceQuery(ctx, host, len(servers), func(ctx context.Context, idx int, m *dns.Msg) (*dns.Msg, error) {
		return r.exchangeDoH(ctx, servers[idx], m)
	})
	if len(ips) == 0 {
		return nil, errors.New("no usable IPs resolved via DoH")
	}
	return ips, nil
}

func (r *Resolver) exchangeDoH(ctx context.Context, server dohServer, m *dns.Msg) (*dns.Msg, error) {
	packed, err := m.Pack()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	network := "tcp4"
	if !server.isV4 {
		network = "tcp6"
	}
	dohClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName:         server.sni,
				RootCAs:            r.RootCAs,
				InsecureSkipVerify: r.InsecureSkipVerify,
			},
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, server.address)
			},
			DisableKeepAlives:   true,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}

	url := fmt.Sprintf("https://%s/dns-query?dns=%s", server.sni, base64.RawURLEncoding.EncodeToString(packed))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := dohClient.Do(req)
	if err != nil {
		if !errors.Is(ctx.Err(), context.Canceled) {
			logging.Debugf("doh query to %s failed: %v", server.sni, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *Resolver) resolveWithDirectDNS(ctx context.Context, host string) ([]net.IP, error) {
	var servers []dnsServer
	for _, s := range defaultDNSServers {
		if r.usable(s.isV4) {
			servers = append(servers, s)
		}
	}
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	udp := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	ips := r.raceQuery(ctx, host, len(servers), func(ctx context.Context, idx int, m *dns.Msg) (*dns.Msg, error) {
		resp, _, err := udp.ExchangeContext(ctx, m, servers[idx].addr)
		return resp, err
	})
	if len(ips) == 0 {
		return nil, errors.New("no usable IPs resolved via direct DNS")
	}
	return ips, nil
}
