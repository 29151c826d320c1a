package meter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	probing "github.com/prometheus-community/pro-bing"
)

// ICMPPinger sends one ICMP echo and reports its round trip.
type ICMPPinger struct {
	Timeout time.Duration
	// Privileged uses raw sockets; unprivileged mode needs
	// net.ipv4.ping_group_range on Linux.
	Privileged bool
	// Network is "ip", "ip4" or "ip6".
	Network string
}

func (p *ICMPPinger) Ping(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve %s", host)
	}
	if p.Network != "" {
		pinger.SetNetwork(p.Network)
		if err := pinger.Resolve(); err != nil {
			return 0, errors.Wrapf(err, "resolve %s", host)
		}
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = 5 * time.Second
	}
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, errors.Wrap(err, "run pinger")
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 || len(stats.Rtts) == 0 {
		return 0, errors.Errorf("no echo reply from %s", host)
	}
	return stats.Rtts[0], nil
}
