package transport

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/log2"
	"golang.org/x/sys/unix"
)

func listenLoopback(t testing.TB) *net.UDPConn {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSendReceive(t *testing.T) {
	t.Parallel()
	l := listenLoopback(t)
	ctx := context.Background()
	c, err := Connect(ctx, l.LocalAddr().String(), Options{Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	defer c.Close()

	payload := []byte("v1\x00key\x00sn\x00chunk")
	n, err := c.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	require.NoError(t, l.SetReadDeadline(time.Now().Add(time.Second)))
	rn, from, err := l.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:rn])
	assert.Equal(t, c.LocalAddr().String(), from.String())

	assert.Equal(t, int64(1), c.Stat().Sent.Count.Value())
	assert.Equal(t, int64(len(payload)), c.Stat().Sent.Size.Value())
	assert.Equal(t, int64(0), c.Stat().Errors.Value())
}

func TestSendReusesSocket(t *testing.T) {
	t.Parallel()
	l := listenLoopback(t)
	c, err := Connect(context.Background(), l.LocalAddr().String(), Options{})
	require.NoError(t, err)
	defer c.Close()
	local := c.LocalAddr().String()
	for i := 0; i < 3; i++ {
		_, err = c.Send([]byte{byte(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, local, c.LocalAddr().String())
	assert.Equal(t, int64(1), c.Stat().Conn.Value())
}

func TestSendAfterClose(t *testing.T) {
	t.Parallel()
	l := listenLoopback(t)
	c, err := Connect(context.Background(), l.LocalAddr().String(), Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Nil(t, c.LocalAddr())

	_, err = c.Send([]byte("x"))
	require.Error(t, err)
	se, ok := errors.Cause(err).(SendError)
	require.True(t, ok, "err=%#v", err)
	assert.Equal(t, unix.EBADF, se.Errno)
}

func TestConnectInvalidPeer(t *testing.T) {
	t.Parallel()
	cases := []string{"", "127.0.0.1", "127.0.0.1:notaport"}
	for _, peer := range cases {
		peer := peer
		t.Run(peer, func(t *testing.T) {
			_, err := Connect(context.Background(), peer, Options{NetworkTimeout: time.Second})
			require.Error(t, err)
			ce, ok := errors.Cause(err).(ConnectError)
			require.True(t, ok, "err=%#v", err)
			assert.Equal(t, OpConnect, ce.Op)
		})
	}
}

func TestDialOp(t *testing.T) {
	t.Parallel()
	socketErr := &net.OpError{Op: "dial", Net: "udp", Err: os.NewSyscallError("socket", unix.EMFILE)}
	assert.Equal(t, OpSocket, dialOp(socketErr))
	connectErr := &net.OpError{Op: "dial", Net: "udp", Err: os.NewSyscallError("connect", unix.ENETUNREACH)}
	assert.Equal(t, OpConnect, dialOp(connectErr))
}

func TestErrnoOf(t *testing.T) {
	t.Parallel()
	err := &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("write", unix.ECONNREFUSED)}
	assert.Equal(t, unix.ECONNREFUSED, errnoOf(err))
	assert.Equal(t, unix.Errno(0), errnoOf(context.DeadlineExceeded))

	se := SendError{Errno: unix.ECONNREFUSED, Err: err}
	assert.Contains(t, se.Error(), "ECONNREFUSED")
}
