//go:build !unix

package udpsub

import (
	"context"
	"net"
)

// listenUDP binds the local socket. SO_REUSEPORT has no portable
// equivalent outside unix, so non-unix builds get a plain bind.
func listenUDP(_ context.Context, localAddr string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}
