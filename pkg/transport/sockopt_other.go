//go:build !unix

package transport

import "net"

func socketBufferSizes(conn *net.UDPConn) (recv, send int) {
	return 0, 0
}
