// Package collector receives upload datagrams and logs decoded content.
package collector

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/internal/heartbeat"
	"github.com/temoto/uplink/internal/message"
	"github.com/temoto/uplink/log2"
)

const DefaultBufferSize = 1024

// Handler is called for each datagram in receive order.
// Datagram fields alias receive buffer, valid only during the call.
type Handler func(from net.Addr, d message.Datagram)

type Collector struct {
	log        *log2.Log
	conn       net.PacketConn
	bufferSize int
	handler    Handler
	alive      *alive.Alive
}

type Options struct {
	Log        *log2.Log
	BufferSize int
	// Handler is optional, default logs datagram.
	Handler Handler
}

func Listen(addr string, opt Options) (*Collector, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "collector listen=%s", addr)
	}
	c := &Collector{
		log:        opt.Log,
		conn:       conn,
		bufferSize: opt.BufferSize,
		handler:    opt.Handler,
		alive:      alive.NewAlive(),
	}
	if c.bufferSize <= 0 {
		c.bufferSize = DefaultBufferSize
	}
	if c.handler == nil {
		c.handler = c.logDatagram
	}
	c.log.Infof("collector listening on %s", conn.LocalAddr())
	return c, nil
}

func (c *Collector) Addr() net.Addr { return c.conn.LocalAddr() }

// Serve blocks until Stop() or ctx done.
func (c *Collector) Serve(ctx context.Context) error {
	if !c.alive.Add(1) {
		return errors.Errorf("collector stopped")
	}
	defer c.alive.Done()
	go func() {
		select {
		case <-ctx.Done():
			c.alive.Stop()
		case <-c.alive.StopChan():
		}
		_ = c.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, c.bufferSize)
	for c.alive.IsRunning() {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			if !c.alive.IsRunning() {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				c.log.Errorf("collector read err=%v", err)
				continue
			}
			return errors.Annotate(err, "collector read")
		}
		d, err := message.Parse(buf[:n])
		if err != nil {
			c.log.Errorf("collector from=%s len=%d err=%v", from, n, err)
			continue
		}
		c.handler(from, d)
	}
	return nil
}

func (c *Collector) Stop() {
	c.alive.Stop()
	c.alive.Wait()
	_ = c.conn.Close()
}

func (c *Collector) logDatagram(from net.Addr, d message.Datagram) {
	if hb, err := heartbeat.Unmarshal(d.Chunk); err == nil {
		c.log.Infof("%s: serial=%s %s", from, d.DeviceSerial, hb.String())
		return
	}
	c.log.Infof("%s: %s", from, d.String())
}
