package client

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoStoreTransportHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := &http.Client{Transport: &NoStoreTransport{Transport: http.DefaultTransport}}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Cache-Control", "max-age=60")

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "no-store", got.Get("Cache-Control"))
	assert.Equal(t, "no-cache", got.Get("Pragma"))
	assert.Equal(t, userAgent, got.Get("User-Agent"))
	assert.Equal(t, "max-age=60", req.Header.Get("Cache-Control"), "caller request must not be mutated")
}

func TestNewHTTPClientDialsLiteralIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Options{IPv4Only: true})
	require.NoError(t, err)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewHTTPClientFamilyMismatch(t *testing.T) {
	_, err := NewHTTPClient(Options{IPv6Only: true, Interface: "127.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not IPv6")

	_, err = NewHTTPClient(Options{Interface: "no-such-interface0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to find interface")
}

func TestPickSourceIP(t *testing.T) {
	v4 := net.ParseIP("192.0.2.10")
	global6 := net.ParseIP("2001:db8::10")
	link6 := net.ParseIP("fe80::1")
	loop := net.ParseIP("127.0.0.1")

	tests := []struct {
		name     string
		ips      []net.IP
		ipv4Only bool
		ipv6Only bool
		want     net.IP
	}{
		{"prefers global v6", []net.IP{loop, v4, link6, global6}, false, false, global6},
		{"v4 over link-local v6", []net.IP{link6, v4}, false, false, v4},
		{"v4 only", []net.IP{global6, v4}, true, false, v4},
		{"v6 only falls back to link-local", []net.IP{v4, link6}, false, true, link6},
		{"nothing usable", []net.IP{loop}, false, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickSourceIP(tt.ips, tt.ipv4Only, tt.ipv6Only)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestResolverAnswerIPs(t *testing.T) {
	a, err := dns.NewRR("example.com. 60 IN A 192.0.2.1")
	require.NoError(t, err)
	aaaa, err := dns.NewRR("example.com. 60 IN AAAA 2001:db8::1")
	require.NoError(t, err)
	lo, err := dns.NewRR("example.com. 60 IN A 127.0.0.1")
	require.NoError(t, err)

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{a, aaaa, lo}

	r := &Resolver{}
	ips := r.answerIPs(msg, dns.TypeA)
	require.Len(t, ips, 1)
	assert.Equal(t, "192.0.2.1", ips[0].String())

	ips = r.answerIPs(msg, dns.TypeAAAA)
	require.Len(t, ips, 1)
	assert.Equal(t, "2001:db8::1", ips[0].String())

	r = &Resolver{IPv6Only: true}
	assert.Empty(t, r.answerIPs(msg, dns.TypeA))
	assert.Equal(t, []uint16{dns.TypeAAAA}, r.queryTypes())
}
