//go:build unix

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// socketBufferSizes reads the effective SO_RCVBUF/SO_SNDBUF values so
// buffer configuration can log what the OS actually granted.
func socketBufferSizes(conn *net.UDPConn) (recv, send int) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0
	}
	_ = raw.Control(func(fd uintptr) {
		recv, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
		send, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	return recv, send
}
