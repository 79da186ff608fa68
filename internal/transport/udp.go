// Package transport is connectionless datagram endpoint bound to one peer.
// Connect once, send many, report but never retry.
package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/log2"
	"golang.org/x/sys/unix"
)

const (
	DefaultNetworkTimeout = 5 * time.Second
	// UDP/IPv4 header overhead, for log only
	UDPIPHeaderSize = 28
)

type Options struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
}

type Conn struct {
	mu   sync.Mutex
	log  *log2.Log
	opt  Options
	peer string
	c    *net.UDPConn
	stat Stat
}

// ConnectError is fatal setup error, Op is "socket" or "connect".
type ConnectError struct {
	Op   string
	Peer string
	Err  error
}

func (e ConnectError) Error() string {
	return fmt.Sprintf("udp %s peer=%s: %v", e.Op, e.Peer, e.Err)
}

const (
	OpSocket  = "socket"
	OpConnect = "connect"
)

// SendError wraps failed send, Errno is zero when not a syscall error.
type SendError struct {
	Errno unix.Errno
	Err   error
}

func (e SendError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("udp send errno=%d (%s): %v", int(e.Errno), unix.ErrnoName(e.Errno), e.Err)
	}
	return fmt.Sprintf("udp send: %v", e.Err)
}

// Connect resolves peer host:port and binds socket to it.
func Connect(ctx context.Context, peer string, opt Options) (*Conn, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	resolver := net.Resolver{}
	rctx, cancel := context.WithTimeout(ctx, opt.NetworkTimeout)
	defer cancel()
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		return nil, errors.Trace(ConnectError{Op: OpConnect, Peer: peer, Err: err})
	}
	ips, err := resolver.LookupIPAddr(rctx, host)
	if err != nil {
		return nil, errors.Trace(ConnectError{Op: OpConnect, Peer: peer, Err: err})
	}
	portNum, err := resolver.LookupPort(rctx, "udp", port)
	if err != nil {
		return nil, errors.Trace(ConnectError{Op: OpConnect, Peer: peer, Err: err})
	}
	raddr := &net.UDPAddr{IP: ips[0].IP, Port: portNum, Zone: ips[0].Zone}

	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Trace(ConnectError{Op: dialOp(err), Peer: peer, Err: err})
	}
	self := &Conn{
		log:  opt.Log,
		opt:  opt,
		peer: raddr.String(),
		c:    c,
	}
	self.stat.Conn.Add(1)
	self.log.Infof("udp connected peer=%s local=%s", self.peer, c.LocalAddr())
	return self, nil
}

// Send makes single write attempt with deadline.
func (self *Conn) Send(b []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.c == nil {
		return 0, errors.Trace(SendError{Errno: unix.EBADF, Err: net.ErrClosed})
	}
	self.log.Debugf("udp send payload=%d ip_total=%d peer=%s", len(b), len(b)+UDPIPHeaderSize, self.peer)
	if err := self.c.SetWriteDeadline(time.Now().Add(self.opt.NetworkTimeout)); err != nil {
		self.stat.Errors.Add(1)
		return 0, errors.Trace(SendError{Errno: errnoOf(err), Err: err})
	}
	n, err := self.c.Write(b)
	if err == nil && n != len(b) {
		err = fmt.Errorf("short write %d/%d", n, len(b))
	}
	if err != nil {
		self.stat.Errors.Add(1)
		return n, errors.Trace(SendError{Errno: errnoOf(err), Err: err})
	}
	self.stat.Sent.Count.Add(1)
	self.stat.Sent.Size.Add(int64(n))
	return n, nil
}

func (self *Conn) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.c == nil {
		return nil
	}
	err := self.c.Close()
	self.c = nil
	self.log.Debugf("udp closed peer=%s", self.peer)
	return errors.Annotate(err, "udp close")
}

func (self *Conn) LocalAddr() net.Addr {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.c == nil {
		return nil
	}
	return self.c.LocalAddr()
}

func (self *Conn) Peer() string { return self.peer }
func (self *Conn) Stat() *Stat  { return &self.stat }
func (self *Conn) String() string {
	return fmt.Sprintf("udp peer=%s stat=%s", self.peer, self.stat.String())
}

// DialUDP fails either creating socket or connecting it.
func dialOp(err error) string {
	for err != nil {
		if se, ok := err.(*os.SyscallError); ok && se.Syscall == "socket" {
			return OpSocket
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return OpConnect
}

func errnoOf(err error) unix.Errno {
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0
}
