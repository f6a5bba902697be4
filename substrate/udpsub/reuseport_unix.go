//go:build unix

package udpsub

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenUDP binds the local socket with SO_REUSEPORT set, so multiple
// udpsub instances (e.g. a hot-reload restart, or parallel test
// processes) can rebind the same local port without waiting out
// TIME_WAIT.
func listenUDP(ctx context.Context, localAddr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", localAddr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
