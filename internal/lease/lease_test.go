package lease_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/javanstorm/kitvm/internal/console"
	"github.com/javanstorm/kitvm/internal/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		log    string
		want   string
		wantOK bool
	}{
		{
			name:   "lease line",
			log:    "[    1.2] eth0: leased 192.168.64.5 for 86400 seconds\n",
			want:   "192.168.64.5",
			wantOK: true,
		},
		{
			name:   "dhcp prefix",
			log:    "dhcp: leased 10.0.2.15 for 3600s",
			want:   "10.0.2.15",
			wantOK: true,
		},
		{
			name: "no lease",
			log:  "eth0: soliciting a DHCP lease\neth0: offered 192.168.64.5\n",
		},
		{
			name:   "first of two",
			log:    "leased 192.168.64.5 for 60\n...\nleased 192.168.64.9 for 60\n",
			want:   "192.168.64.5",
			wantOK: true,
		},
		{
			name:   "octets are not range checked",
			log:    "leased 999.300.1.2 for 60",
			want:   "999.300.1.2",
			wantOK: true,
		},
		{
			name: "truncated address",
			log:  "leased 192.168.64",
		},
		{
			name: "address cut before the rest arrived",
			log:  "leased 192.168.64.5",
		},
		{
			name: "too many digits",
			log:  "leased 1922.168.64.5 for 60",
		},
		{
			name: "empty",
		},
		{
			name:   "garbled line before the lease",
			log:    "le\x00ased 1.2.3 for\nleased 172.16.0.2 for 1h\n",
			want:   "172.16.0.2",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lease.Extract(tt.log)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPoller_FindsLeaseOnWake(t *testing.T) {
	log := console.NewLog(0)
	var found atomic.Value

	p := &lease.Poller{
		Interval: time.Hour, // only the wake can trigger a check
		Source:   log.String,
		Wake:     log.Appended,
		OnFound:  func(ip string) { found.Store(ip) },
	}

	done := make(chan string, 1)
	go func() {
		ip, _ := p.Run(context.Background())
		done <- ip
	}()

	log.Append("booting\n")
	log.Append("dhcp: leased 10.0.2.15 for 3600s\n")

	select {
	case ip := <-done:
		assert.Equal(t, "10.0.2.15", ip)
		assert.Equal(t, "10.0.2.15", found.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not find the lease")
	}
}

func TestPoller_FindsLeaseOnTick(t *testing.T) {
	log := console.NewLog(0)

	p := &lease.Poller{
		Interval: 10 * time.Millisecond,
		Source:   log.String,
	}

	done := make(chan string, 1)
	go func() {
		ip, _ := p.Run(context.Background())
		done <- ip
	}()

	log.Append("eth0: leased 192.168.64.5 for 86400 seconds\n")

	select {
	case ip := <-done:
		assert.Equal(t, "192.168.64.5", ip)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not find the lease")
	}
}

func TestPoller_StopsOnCancel(t *testing.T) {
	log := console.NewLog(0)
	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	p := &lease.Poller{
		Interval: 5 * time.Millisecond,
		Source:   log.String,
		Wake:     log.Appended,
		OnFound:  func(string) { calls.Add(1) },
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := p.Run(ctx)
		done <- ok
	}()

	log.Append("no address here\n")
	cancel()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Zero(t, calls.Load())
}

func TestPoller_DefaultInterval(t *testing.T) {
	p := &lease.Poller{Source: func() string { return "leased 10.0.0.1 for 1" }}
	ip, ok := p.Run(context.Background())
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)
}
