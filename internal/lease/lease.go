// Package lease recovers the guest's DHCP address from console output.
package lease

import (
	"context"
	"regexp"
	"time"
)

// DefaultInterval is how often the log is checked when no append
// notification arrives.
const DefaultInterval = time.Second

// leaseRE matches the guest DHCP client's confirmation line, e.g.
// "eth0: leased 192.168.64.5 for 86400 seconds". Octets are not range
// checked. The trailing " for" keeps a chunk cut in the middle of the
// address from matching a truncated one.
var leaseRE = regexp.MustCompile(`leased (\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}) for`)

// Extract returns the address of the first lease line in log.
func Extract(log string) (string, bool) {
	m := leaseRE.FindStringSubmatch(log)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Poller checks a growing log until it finds a lease.
type Poller struct {
	// Interval between checks; DefaultInterval if zero.
	Interval time.Duration

	// Source returns the current log text.
	Source func() string

	// Wake, if set, returns a channel closed when the log grows. It lets
	// the poller react to new output without waiting for the next tick.
	Wake func() <-chan struct{}

	// OnFound is called once with the first address found.
	OnFound func(ip string)
}

// Run checks the log immediately, then on every tick or wake, and returns
// on the first match or when ctx is done. Not finding an address is not an
// error.
func (p *Poller) Run(ctx context.Context) (string, bool) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Take the wake channel before reading so an append between the
		// read and the select is not missed.
		var wake <-chan struct{}
		if p.Wake != nil {
			wake = p.Wake()
		}

		if ip, ok := Extract(p.Source()); ok {
			if p.OnFound != nil {
				p.OnFound(ip)
			}
			return ip, true
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		case <-wake:
		}
	}
}
