// Package link provides one-shot "network is up" signal
// consumed before the first upload cycle.
package link

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

// Ready is closed once. Zero value is not usable, use NewReady.
type Ready struct {
	once sync.Once
	ch   chan struct{}
}

func NewReady() *Ready { return &Ready{ch: make(chan struct{})} }

func (r *Ready) Signal()               { r.once.Do(func() { close(r.ch) }) }
func (r *Ready) Done() <-chan struct{} { return r.ch }

func (r *Ready) Wait(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "link wait")
	}
}

// Interfacer is net.Interfaces for tests.
type Interfacer func() ([]net.Interface, error)

// Addrser is net.Interface.Addrs for tests.
type Addrser func(net.Interface) ([]net.Addr, error)

func interfaceAddrs(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }

// Monitor polls network interfaces until one is up with unicast address.
type Monitor struct {
	Log *log2.Log
	// Interface name to wait for, empty means any non-loopback.
	Interface  string
	Interfaces Interfacer
	Addrs      Addrser
	Backoff    helpers.Backoff
}

// Watch signals ready when link is up, stops polling on ctx cancel.
func (m *Monitor) Watch(ctx context.Context, ready *Ready) {
	if m.Interfaces == nil {
		m.Interfaces = net.Interfaces
	}
	if m.Addrs == nil {
		m.Addrs = interfaceAddrs
	}
	if m.Backoff.Min == 0 {
		m.Backoff = helpers.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, K: 2, Log: m.Log}
	}
	for {
		name, err := m.up()
		if err == nil {
			m.Log.Infof("link up interface=%s", name)
			ready.Signal()
			return
		}
		m.Log.Debugf("link not ready err=%v", err)
		select {
		case <-time.After(m.Backoff.DelayAfter(false)):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) up() (string, error) {
	ifaces, err := m.Interfaces()
	if err != nil {
		return "", errors.Annotate(err, "list interfaces")
	}
	for _, iface := range ifaces {
		if m.Interface != "" && iface.Name != m.Interface {
			continue
		}
		if m.Interface == "" && iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if addrs, err := m.Addrs(iface); err != nil || len(addrs) == 0 {
			continue
		}
		return iface.Name, nil
	}
	if m.Interface != "" {
		return "", errors.NotFoundf("interface=%s up", m.Interface)
	}
	return "", errors.NotFoundf("non-loopback interface up")
}
