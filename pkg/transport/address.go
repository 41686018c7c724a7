package transport

import (
	"hash/fnv"
	"net"
)

// ConnectionHash derives the stable 64-bit demux key for a remote
// address. Every datagram from the same remote maps to the same key
// for the lifetime of the process.
func ConnectionHash(addr net.Addr) uint64 {
	h := fnv.New64a()
	h.Write([]byte(addr.String()))
	return h.Sum64()
}
