package link

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

func TestReadyOnce(t *testing.T) {
	t.Parallel()
	r := NewReady()
	r.Signal()
	r.Signal()
	require.NoError(t, r.Wait(context.Background()))
}

func TestReadyWaitCancel(t *testing.T) {
	t.Parallel()
	r := NewReady()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx))
}

func addrsByName(table map[string]int) Addrser {
	return func(iface net.Interface) ([]net.Addr, error) {
		n := table[iface.Name]
		addrs := make([]net.Addr, n)
		for i := range addrs {
			addrs[i] = &net.IPNet{IP: net.IPv4(10, 0, 0, byte(i+1)), Mask: net.CIDRMask(24, 32)}
		}
		return addrs, nil
	}
}

func TestMonitorUp(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		want   string
		ifaces []net.Interface
		addrs  map[string]int
		expect string
	}{
		{"any", "", []net.Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Name: "wwan0", Flags: net.FlagUp},
		}, map[string]int{"lo": 1, "wwan0": 1}, "wwan0"},
		{"skip-down", "", []net.Interface{
			{Name: "eth0"},
			{Name: "wwan0", Flags: net.FlagUp},
		}, map[string]int{"eth0": 1, "wwan0": 1}, "wwan0"},
		{"skip-no-address", "", []net.Interface{
			{Name: "eth0", Flags: net.FlagUp},
			{Name: "wwan0", Flags: net.FlagUp},
		}, map[string]int{"wwan0": 2}, "wwan0"},
		{"named", "eth1", []net.Interface{
			{Name: "eth0", Flags: net.FlagUp},
			{Name: "eth1", Flags: net.FlagUp},
		}, map[string]int{"eth0": 1, "eth1": 1}, "eth1"},
		{"only-loopback", "", []net.Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		}, map[string]int{"lo": 1}, ""},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			m := &Monitor{
				Interface:  c.want,
				Interfaces: func() ([]net.Interface, error) { return c.ifaces, nil },
				Addrs:      addrsByName(c.addrs),
			}
			name, err := m.up()
			if c.expect == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, name)
		})
	}
}

func TestMonitorWatchEventuallyUp(t *testing.T) {
	t.Parallel()
	var calls int32
	m := &Monitor{
		Log: log2.NewTest(t, log2.LDebug),
		Interfaces: func() ([]net.Interface, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, fmt.Errorf("modem not registered")
			}
			return []net.Interface{{Name: "wwan0", Flags: net.FlagUp}}, nil
		},
		Addrs:   addrsByName(map[string]int{"wwan0": 1}),
		Backoff: helpers.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, K: 2},
	}
	ready := NewReady()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go m.Watch(ctx, ready)
	require.NoError(t, ready.Wait(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestMonitorWatchCancel(t *testing.T) {
	t.Parallel()
	m := &Monitor{
		Interfaces: func() ([]net.Interface, error) { return nil, nil },
		Backoff:    helpers.Backoff{Min: time.Millisecond, Max: time.Millisecond, K: 1},
	}
	ready := NewReady()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, ready)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	select {
	case <-ready.Done():
		t.Fatal("ready signalled without link")
	default:
	}
}
